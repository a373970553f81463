package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tankbattle-server/internal/game"
)

// SQLite is a Catalog backed by a single SQLite file
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database file and migrates it
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	// foreign_keys and busy_timeout are per connection, so they go in the
	// DSN and apply to every connection of the pool
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := migrate(conn, "sqlite3"); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

// PutMap inserts a map or replaces the one with the same name
func (s *SQLite) PutMap(ctx context.Context, def game.MapDef) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO maps (name, width, height, obstacles) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET width = excluded.width, height = excluded.height, obstacles = excluded.obstacles`,
		def.Name, def.Width, def.Height, def.Obstacles,
	)
	return err
}

func (s *SQLite) CreateBattle(ctx context.Context, battleID, mapName string, endTime time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO battles (id, map_name, end_time_ms, is_active) VALUES (?, ?, ?, TRUE)",
		battleID, mapName, endTimeMillis(endTime),
	)
	return err
}

// ResolveBattle returns the map and end time of an active battle
func (s *SQLite) ResolveBattle(ctx context.Context, battleID string) (game.BattleSpec, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT b.is_active, b.end_time_ms, m.name, m.width, m.height, m.obstacles
		 FROM battles b JOIN maps m ON m.name = b.map_name WHERE b.id = ?`,
		battleID,
	)
	var (
		active bool
		endMs  int64
		def    game.MapDef
	)
	err := row.Scan(&active, &endMs, &def.Name, &def.Width, &def.Height, &def.Obstacles)
	if errors.Is(err, sql.ErrNoRows) {
		return game.BattleSpec{}, fmt.Errorf("%w: %s", ErrBattleNotFound, battleID)
	}
	if err != nil {
		return game.BattleSpec{}, err
	}
	return toSpec(battleID, active, endMs, def)
}

// MarkInactive flags a battle as finished
func (s *SQLite) MarkInactive(ctx context.Context, battleID string) error {
	res, err := s.conn.ExecContext(ctx, "UPDATE battles SET is_active = FALSE WHERE id = ?", battleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrBattleNotFound, battleID)
	}
	return nil
}
