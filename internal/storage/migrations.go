package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schema is one embedded migration, named NNN_description.sql
type schema struct {
	version int
	name    string
	sql     string
}

// Migrate brings the database to the latest embedded schema and returns the
// names of the schemas applied by this call. Each schema runs in its own
// transaction together with its schema_versions row.
func (db *DB) Migrate(ctx context.Context, logger *logging.Logger) ([]string, error) {
	log := logging.OrDefault(logger).Named("storage")

	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	schemas, err := embeddedSchemas()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, s := range schemas {
		if s.version <= current {
			continue
		}
		if err := db.apply(ctx, s); err != nil {
			return applied, fmt.Errorf("schema %s: %w", s.name, err)
		}
		log.Info("Applied schema %s", s.name)
		applied = append(applied, s.name)
	}

	if len(applied) == 0 {
		log.Debug("Schema up to date at version %d", current)
	}
	return applied, nil
}

// SchemaVersion returns the highest applied schema version, 0 on a fresh
// database
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) apply(ctx context.Context, s schema) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (version, name, applied_at) VALUES (?, ?, ?)`,
		s.version, s.name, time.Now().UTC().Format(timeLayout),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// embeddedSchemas lists the migrations in version order and rejects files
// without a numeric prefix or sharing a version
func embeddedSchemas() ([]schema, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	schemas := make([]schema, 0, len(files))
	seen := make(map[int]string)
	for _, file := range files {
		name := path.Base(file)
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("schema %s: name must start with a positive version", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("schemas %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		content, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		schemas = append(schemas, schema{version: version, name: name, sql: string(content)})
	}

	sort.Slice(schemas, func(i, j int) bool { return schemas[i].version < schemas[j].version })
	return schemas, nil
}
