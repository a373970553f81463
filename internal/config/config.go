package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs
type Config struct {
	Addr           string
	JWTSecret      string
	DatabaseURL    string // postgres; takes precedence over SQLitePath
	SQLitePath     string
	MapsDir        string // *.json map definitions loaded into the catalog at startup
	TickInterval   time.Duration
	MatchDuration  time.Duration
	LogLevel       string
	LogPretty      bool
	AllowedOrigins []string
	MaxConnsPerIP  int
	MaxTotalConns  int
	CommandsPerSec float64
}

// Load reads an optional .env file, then parses flags whose defaults come
// from the environment. Flags win over environment variables.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse(args, os.Getenv)
}

// Parse builds a Config from command line arguments and an environment
// lookup function
func Parse(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("tankbattle", flag.ContinueOnError)

	cfg := &Config{}
	var origins string
	var err error
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	durationEnv := func(key string, def time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return def
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", key, perr))
			return def
		}
		return d
	}
	intEnv := func(key string, def int) int {
		v := getenv(key)
		if v == "" {
			return def
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", key, perr))
			return def
		}
		return n
	}
	floatEnv := func(key string, def float64) float64 {
		v := getenv(key)
		if v == "" {
			return def
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", key, perr))
			return def
		}
		return f
	}
	boolEnv := func(key string, def bool) bool {
		v := getenv(key)
		if v == "" {
			return def
		}
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", key, perr))
			return def
		}
		return b
	}

	fs.StringVar(&cfg.Addr, "addr", env("ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "HMAC secret used to verify player tokens")
	fs.StringVar(&cfg.DatabaseURL, "database-url", env("DATABASE_URL", ""), "Postgres connection string for the battle catalog")
	fs.StringVar(&cfg.SQLitePath, "sqlite", env("SQLITE_PATH", "tankbattle.db"), "SQLite file used when no database URL is set")
	fs.StringVar(&cfg.MapsDir, "maps", env("MAPS_DIR", ""), "directory of map definitions to load into the catalog")
	fs.DurationVar(&cfg.TickInterval, "tick", durationEnv("TICK_INTERVAL", 10*time.Millisecond), "simulation step period")
	fs.DurationVar(&cfg.MatchDuration, "match-duration", durationEnv("MATCH_DURATION", 5*time.Minute), "match length when a battle has no end time")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", boolEnv("LOG_PRETTY", false), "human readable logs")
	fs.StringVar(&origins, "origins", env("ALLOWED_ORIGINS", "*"), "comma separated CORS origins")
	fs.IntVar(&cfg.MaxConnsPerIP, "max-conns-per-ip", intEnv("MAX_CONNS_PER_IP", 10), "websocket connections allowed per client IP")
	fs.IntVar(&cfg.MaxTotalConns, "max-conns", intEnv("MAX_TOTAL_CONNS", 1000), "websocket connections allowed in total")
	fs.Float64Var(&cfg.CommandsPerSec, "commands-per-second", floatEnv("COMMANDS_PER_SECOND", 60), "sustained command rate per connection")

	if err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.MatchDuration <= 0 {
		errs = append(errs, fmt.Errorf("match duration must be positive, got %s", c.MatchDuration))
	}
	if c.MaxConnsPerIP <= 0 || c.MaxTotalConns <= 0 {
		errs = append(errs, errors.New("connection limits must be positive"))
	}
	if c.CommandsPerSec <= 0 {
		errs = append(errs, errors.New("command rate must be positive"))
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("either a database URL or a sqlite path is required"))
	}
	return errors.Join(errs...)
}
