package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "sql/migrations"

// checkoutMigrationLock — ключ advisory-lock, под которым выполняются
// миграции схемы checkout. Две инстанции не применяют миграции одновременно.
const checkoutMigrationLock = int64(82731604)

const migrationLedgerDDL = `
CREATE TABLE IF NOT EXISTS checkout_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migrationScript — пара up/down SQL одной версии схемы.
type migrationScript struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		done := 0
		for _, script := range scripts {
			if applied[script.Version] {
				continue
			}
			if err := applyMigration(ctx, conn, script.Up,
				`INSERT INTO checkout_schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
				script.Version, script.Name); err != nil {
				return fmt.Errorf("up migration %d_%s: %w", script.Version, script.Name, err)
			}
			done++
			if steps > 0 && done >= steps {
				break
			}
		}
		return nil
	})
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		byVersion := make(map[int64]migrationScript, len(scripts))
		for _, script := range scripts {
			byVersion[script.Version] = script
		}

		versions, err := latestAppliedVersions(ctx, conn, steps)
		if err != nil {
			return err
		}

		for _, version := range versions {
			script, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := applyMigration(ctx, conn, script.Down,
				`DELETE FROM checkout_schema_migrations WHERE version = $1`,
				script.Version); err != nil {
				return fmt.Errorf("down migration %d_%s: %w", script.Version, script.Name, err)
			}
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationLedgerDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration ledger: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM checkout_schema_migrations
	`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migrationScript) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := readMigrationScripts(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", checkoutMigrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", checkoutMigrationLock)
	}()

	if _, err := conn.ExecContext(ctx, migrationLedgerDDL); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}

	return fn(conn, scripts)
}

// applyMigration выполняет тело миграции и запись в леджер одной транзакцией.
func applyMigration(ctx context.Context, conn *sql.Conn, body, ledgerStmt string, ledgerArgs ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute: %w", err)
	}

	if _, err := tx.ExecContext(ctx, ledgerStmt, ledgerArgs...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record in ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM checkout_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return applied, nil
}

func latestAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT version
		FROM checkout_schema_migrations
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest applied version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest applied migrations: %w", err)
	}

	return versions, nil
}

// readMigrationScripts читает каталог миграций и спаривает up/down файлы
// по версии. Имя файла: NNNN_name.up.sql / NNNN_name.down.sql.
func readMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	files, err := fs.Glob(fsys, migrationsDir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	scripts := make(map[int64]*migrationScript)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationFilename(base)
		if err != nil {
			return nil, err
		}

		bodyRaw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(bodyRaw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		script, ok := scripts[version]
		if !ok {
			script = &migrationScript{Version: version, Name: name}
			scripts[version] = script
		} else if script.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, script.Name, name)
		}

		switch direction {
		case "up":
			if script.Up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			script.Up = body
		case "down":
			if script.Down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			script.Down = body
		}
	}

	versions := make([]int64, 0, len(scripts))
	for version := range scripts {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	ordered := make([]migrationScript, 0, len(versions))
	for _, version := range versions {
		script := scripts[version]
		if script.Up == "" || script.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", script.Version, script.Name)
		}
		ordered = append(ordered, *script)
	}

	return ordered, nil
}

func parseMigrationFilename(base string) (version int64, name, direction string, err error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	stem, direction, ok = cutLastDot(stem)
	if !ok || (direction != "up" && direction != "down") {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	versionRaw, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	version, err = strconv.ParseInt(versionRaw, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}

	return version, name, direction, nil
}

func cutLastDot(s string) (before, after string, found bool) {
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}
