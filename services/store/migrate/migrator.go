// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package migrate discovers, orders, applies and records SQL schema
// migrations at startup.
//
// Migration files follow two shapes:
//
//   - init_db.sql                          -> version 0, "Initial database schema"
//   - migration_<NNN>_<description>.sql    -> version NNN, description from filename
//
// Each migration runs in its own transaction. On the first failure the
// runner stops and surfaces the error; the caller decides whether to
// start degraded (the server does, with a persistent warning, since an
// operator may have applied the migration out of band).
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
)

// DefaultTimeout bounds a single migration. Anything slower than this
// generous ceiling is treated as a failure.
const DefaultTimeout = 5 * time.Minute

const initFilename = "init_db.sql"

var migrationPattern = regexp.MustCompile(`^migration_(\d+)_([a-zA-Z0-9_]+)\.sql$`)

const createLedgerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version           INTEGER NOT NULL UNIQUE,
    filename          TEXT NOT NULL,
    description       TEXT NOT NULL,
    checksum          TEXT NOT NULL,
    execution_time_ms BIGINT NOT NULL,
    applied_at        TIMESTAMPTZ NOT NULL
)`

// Migration is one discovered migration file.
type Migration struct {
	Version     int
	Filename    string
	Description string
	SQL         string
	Checksum    string
}

// Result summarizes one migrator run.
type Result struct {
	Discovered int
	Applied    []store.SchemaMigration
	Skipped    int // already applied
	// Failed names the migration that stopped the run, if any. The
	// returned error carries the cause.
	Failed string
}

// Migrator applies pending migrations against one database.
type Migrator struct {
	db      *sqlx.DB
	fsys    fs.FS
	logger  *logging.Logger
	timeout time.Duration
}

// New creates a Migrator reading migration files from fsys.
func New(db *sqlx.DB, fsys fs.FS, logger *logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Migrator{db: db, fsys: fsys, logger: logger, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-migration ceiling.
func (m *Migrator) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// ParseFilename extracts version and description from a migration
// filename. Returns ok=false for files that are not migrations.
func ParseFilename(name string) (version int, description string, ok bool) {
	if name == initFilename {
		return 0, "Initial database schema", true
	}
	match := migrationPattern.FindStringSubmatch(name)
	if match == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", false
	}
	description = strings.ReplaceAll(match[2], "_", " ")
	return version, description, true
}

// Discover lists migration files sorted by version.
func (m *Migrator) Discover() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, description, ok := ParseFilename(entry.Name())
		if !ok {
			continue
		}
		data, err := fs.ReadFile(m.fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(data)
		migrations = append(migrations, Migration{
			Version:     version,
			Filename:    entry.Name(),
			Description: description,
			SQL:         string(data),
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// AppliedVersions reads the ledger, creating it when absent.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[int]struct{}, error) {
	if _, err := m.db.ExecContext(ctx, createLedgerSQL); err != nil {
		return nil, fmt.Errorf("%w: create ledger: %v", store.ErrUnavailable, err)
	}
	versions := make([]int, 0)
	if err := m.db.SelectContext(ctx, &versions,
		`SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", store.ErrUnavailable, err)
	}
	applied := make(map[int]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}
	return applied, nil
}

// Run applies all pending migrations in version order. It stops at the
// first failure, returning the partial result alongside the error.
func (m *Migrator) Run(ctx context.Context) (*Result, error) {
	migrations, err := m.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Discovered: len(migrations)}
	for _, migration := range migrations {
		if _, done := applied[migration.Version]; done {
			result.Skipped++
			continue
		}

		record, err := m.apply(ctx, migration)
		if err != nil {
			result.Failed = migration.Filename
			m.logger.Error("migration failed",
				"version", migration.Version,
				"filename", migration.Filename,
				"error", err,
			)
			return result, fmt.Errorf("apply %s: %w", migration.Filename, err)
		}

		result.Applied = append(result.Applied, *record)
		m.logger.Info("migration applied",
			"version", migration.Version,
			"filename", migration.Filename,
			"execution_time_ms", record.ExecutionTimeMs,
		)
	}
	return result, nil
}

// apply runs one migration inside its own transaction and records it
// in the ledger on success.
func (m *Migrator) apply(ctx context.Context, migration Migration) (*store.SchemaMigration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	record := store.SchemaMigration{
		Version:         migration.Version,
		Filename:        migration.Filename,
		Description:     migration.Description,
		Checksum:        migration.Checksum,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		AppliedAt:       time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, filename, description, checksum, execution_time_ms, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Version, record.Filename, record.Description,
		record.Checksum, record.ExecutionTimeMs, record.AppliedAt); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", store.ErrUnavailable, err)
	}
	return &record, nil
}

// Status returns the applied ledger rows and the discovered files that
// have no ledger row yet.
func (m *Migrator) Status(ctx context.Context) ([]store.SchemaMigration, []Migration, error) {
	migrations, err := m.Discover()
	if err != nil {
		return nil, nil, err
	}
	appliedSet, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	ledger := make([]store.SchemaMigration, 0)
	if err := m.db.SelectContext(ctx, &ledger,
		`SELECT * FROM schema_migrations ORDER BY version`); err != nil {
		return nil, nil, fmt.Errorf("%w: read ledger: %v", store.ErrUnavailable, err)
	}

	pending := make([]Migration, 0)
	for _, migration := range migrations {
		if _, done := appliedSet[migration.Version]; !done {
			pending = append(pending, migration)
		}
	}
	return ledger, pending, nil
}
