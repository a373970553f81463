// Package catalog is the room layer's record of maps and battles. The
// engine reads it to start a battle on first join and writes back when a
// battle times out.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"tankbattle-server/internal/game"
)

var (
	ErrBattleNotFound = errors.New("battle not found")
	ErrBattleInactive = errors.New("battle is no longer active")
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Catalog stores maps and battles
type Catalog interface {
	game.RoomResolver
	PutMap(ctx context.Context, def game.MapDef) error
	CreateBattle(ctx context.Context, battleID, mapName string, endTime time.Time) error
	Close() error
}

// Open connects to Postgres when databaseURL is set and to the SQLite
// file at sqlitePath otherwise. Migrations are applied before returning.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Catalog, error) {
	if databaseURL != "" {
		return OpenPostgres(ctx, databaseURL)
	}
	return OpenSQLite(ctx, sqlitePath)
}

func migrate(db *sql.DB, dialect string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// endTimeMillis stores a zero end time as 0
func endTimeMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func endTimeFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// toSpec turns a catalog row into what the engine needs to start a battle
func toSpec(battleID string, active bool, endMs int64, def game.MapDef) (game.BattleSpec, error) {
	if !active {
		return game.BattleSpec{}, fmt.Errorf("%w: %s", ErrBattleInactive, battleID)
	}
	return game.BattleSpec{Map: def, EndTime: endTimeFromMillis(endMs)}, nil
}
