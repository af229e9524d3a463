package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/storage/postgres"
)

const defaultRunTimeout = 30 * time.Second

// config описывает разобранные аргументы запуска утилиты миграций.
type config struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	fs.StringVar(&cfg.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&cfg.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: CHECKOUT_POSTGRES_DSN)")
	fs.DurationVar(&cfg.timeout, "timeout", defaultRunTimeout, "overall run timeout")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.direction = strings.ToLower(strings.TrimSpace(cfg.direction))
	switch cfg.direction {
	case "up", "down", "status":
	default:
		return config{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", cfg.direction)
	}

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = strings.TrimSpace(getenv("CHECKOUT_POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("CHECKOUT_POSTGRES_DSN (or -dsn) is required")
	}
	if cfg.steps < 0 {
		return config{}, fmt.Errorf("-steps must be >= 0, got %d", cfg.steps)
	}
	if cfg.timeout <= 0 {
		return config{}, fmt.Errorf("-timeout must be positive, got %s", cfg.timeout)
	}

	return cfg, nil
}

func run(cfg config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch cfg.direction {
	case "up":
		if err := store.MigrateUp(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		steps := cfg.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", cfg.direction, version, count)
	return nil
}

func main() {
	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
