// Package migrate applies versioned, forward-only SQL migrations.
//
// Migration files are named NNNN_description.sql. Each version runs in its
// own transaction together with its ledger row in schema_migrations, so a
// version is either fully applied or not at all. Any failure stops the run;
// callers treat it as fatal.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Proximyst/ban/internal/platform/database"
)

const ledgerTable = "schema_migrations"

// postgres advisory lock key serializing concurrent deploys.
const advisoryLockKey = 0x62616e

// Migration is one versioned schema change.
type Migration struct {
	Version int64
	Name    string
	SQL     string
}

// Status reports whether a known migration has been applied.
type Status struct {
	Migration
	AppliedAt *time.Time
}

// Migrator runs migrations against one database.
type Migrator struct {
	db      *sql.DB
	dialect database.Dialect
	fsys    fs.FS
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// WithClock overrides the time recorded in the ledger.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) {
		m.now = now
	}
}

func New(db *sql.DB, dialect database.Dialect, fsys fs.FS, opts ...Option) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	if fsys == nil {
		return nil, errors.New("migration filesystem is required")
	}
	m := &Migrator{
		db:      db,
		dialect: dialect,
		fsys:    fsys,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Load reads and orders the migrations in fsys.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := make(map[int64]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := parseVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseVersion(name string) (int64, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: name must start with a version and an underscore", name)
	}
	version, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("migration %s: invalid version %q", name, prefix)
	}
	return version, nil
}

// Up applies every outstanding migration in order and returns the versions
// it applied.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	migrations, err := Load(m.fsys)
	if err != nil {
		return nil, err
	}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkForward(migrations, applied); err != nil {
		return nil, err
	}

	var done []int64
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		ran, err := m.apply(ctx, mig)
		if err != nil {
			return done, err
		}
		if ran {
			done = append(done, mig.Version)
			m.logger.InfoContext(ctx, "applied migration", "version", mig.Version, "name", mig.Name)
		}
	}
	return done, nil
}

// Status lists every known migration with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	migrations, err := Load(m.fsys)
	if err != nil {
		return nil, err
	}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(migrations))
	for _, mig := range migrations {
		st := Status{Migration: mig}
		if at, ok := applied[mig.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// A ledger entry without a matching file means the database was migrated by
// a newer binary; serving with an older schema view is refused.
func checkForward(migrations []Migration, applied map[int64]time.Time) error {
	known := make(map[int64]struct{}, len(migrations))
	for _, mig := range migrations {
		known[mig.Version] = struct{}{}
	}
	for version := range applied {
		if _, ok := known[version]; !ok {
			return fmt.Errorf("database has migration %d unknown to this build", version)
		}
	}
	return nil
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at BIGINT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM `+ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var version, appliedAt int64
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		out[version] = time.UnixMilli(appliedAt).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration ledger: %w", err)
	}
	return out, nil
}

// apply runs one migration. It reports false when another process applied
// the same version first.
func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if m.dialect == database.Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
			return false, fmt.Errorf("lock migration %d: %w", mig.Version, err)
		}
	}

	var exists int
	err = tx.QueryRowContext(ctx, database.Rebind(m.dialect, `SELECT 1 FROM `+ledgerTable+` WHERE version = ?`), mig.Version).Scan(&exists)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check migration %d: %w", mig.Version, err)
	}

	for i, stmt := range SplitStatements(mig.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("migration %s statement %d: %w", mig.Name, i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		database.Rebind(m.dialect, `INSERT INTO `+ledgerTable+` (version, name, applied_at) VALUES (?, ?, ?)`),
		mig.Version, mig.Name, m.now().UTC().UnixMilli(),
	); err != nil {
		return false, fmt.Errorf("record migration %d: %w", mig.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %d: %w", mig.Version, err)
	}
	return true, nil
}

// SplitStatements splits a migration file on semicolons that end a line.
// Full-line "--" comments are dropped.
func SplitStatements(content string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}
