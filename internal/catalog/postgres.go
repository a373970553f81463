package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tankbattle-server/internal/game"
)

// Postgres is a Catalog backed by a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres migrates the database through database/sql and then
// serves queries from a pgx pool
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	migrationDB, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open db for migrations: %w", err)
	}
	err = migrate(migrationDB, "postgres")
	if cerr := migrationDB.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) PutMap(ctx context.Context, def game.MapDef) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO maps (name, width, height, obstacles) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET width = EXCLUDED.width, height = EXCLUDED.height, obstacles = EXCLUDED.obstacles`,
		def.Name, def.Width, def.Height, def.Obstacles,
	)
	return err
}

func (p *Postgres) CreateBattle(ctx context.Context, battleID, mapName string, endTime time.Time) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO battles (id, map_name, end_time_ms, is_active) VALUES ($1, $2, $3, TRUE)",
		battleID, mapName, endTimeMillis(endTime),
	)
	return err
}

func (p *Postgres) ResolveBattle(ctx context.Context, battleID string) (game.BattleSpec, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT b.is_active, b.end_time_ms, m.name, m.width, m.height, m.obstacles
		 FROM battles b JOIN maps m ON m.name = b.map_name WHERE b.id = $1`,
		battleID,
	)
	var (
		active bool
		endMs  int64
		def    game.MapDef
	)
	err := row.Scan(&active, &endMs, &def.Name, &def.Width, &def.Height, &def.Obstacles)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return game.BattleSpec{}, fmt.Errorf("%w: %s", ErrBattleNotFound, battleID)
	case err != nil:
		return game.BattleSpec{}, err
	}
	return toSpec(battleID, active, endMs, def)
}

func (p *Postgres) MarkInactive(ctx context.Context, battleID string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE battles SET is_active = FALSE WHERE id = $1", battleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrBattleNotFound, battleID)
	}
	return nil
}
