// Package store persists punishment records.
//
// Stores are pure I/O: validation lives in models and supersession in the
// resolver. Connectivity failures surface as sentinel.ErrUnavailable so
// callers can retry; a missing record surfaces as sentinel.ErrNotFound.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/Proximyst/ban/internal/platform/database"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/platform/sentinel"
)

const selectColumns = `id, type, target_player, target_ip, actor, reason, issued_at, expires_at, lifted, lifted_at, lifted_by, lift_reason`

// SQLStore persists punishments in PostgreSQL or SQLite. Times are stored as
// unix milliseconds in both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQL constructs a SQL-backed store. The schema must already be migrated.
func NewSQL(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

// Insert persists p and returns the stored copy with its assigned ID.
func (s *SQLStore) Insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error) {
	if p == nil {
		return nil, errors.New("punishment is required")
	}
	query := s.q(`
		INSERT INTO punishments (type, target_player, target_ip, actor, reason, issued_at, expires_at, lifted)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)
		RETURNING id
	`)
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		int16(p.Type),
		playerColumn(p.Target),
		ipColumn(p.Target),
		p.Actor,
		p.Reason,
		p.IssuedAt.UnixMilli(),
		millisOrNull(p.ExpiresAt),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert punishment: %w", classify(err))
	}

	stored := p.Clone()
	stored.ID = id
	stored.Lifted = false
	stored.LiftedAt, stored.LiftedBy, stored.LiftReason = nil, nil, nil
	return stored, nil
}

// FindActiveCandidates returns every unlifted record for key issued at or
// before asOf that has not expired by asOf, across all types, in one read.
func (s *SQLStore) FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error) {
	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}
	at := asOf.UnixMilli()
	query := s.q(`
		SELECT ` + selectColumns + `
		FROM punishments
		WHERE ` + column + ` = ?
		  AND lifted = FALSE
		  AND issued_at <= ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY issued_at DESC, id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, value, at, at)
	if err != nil {
		return nil, fmt.Errorf("find active candidates: %w", classify(err))
	}
	return scanAll(rows, "find active candidates")
}

// Lift marks the record lifted with one conditional update. It returns false
// without error when the record was already lifted.
func (s *SQLStore) Lift(ctx context.Context, id int64, by, reason string, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE punishments
		SET lifted = TRUE, lifted_at = ?, lifted_by = ?, lift_reason = ?
		WHERE id = ? AND lifted = FALSE
	`)
	result, err := s.db.ExecContext(ctx, query, models.NormalizeTime(at).UnixMilli(), by, reason, id)
	if err != nil {
		return false, fmt.Errorf("lift punishment: %w", classify(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lift punishment rows affected: %w", classify(err))
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM punishments WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("punishment %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("lift punishment lookup: %w", classify(err))
	}
	return false, nil
}

// History returns every record for key, newest first.
func (s *SQLStore) History(ctx context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error) {
	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*models.Punishment{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	query := s.q(`
		SELECT ` + selectColumns + `
		FROM punishments
		WHERE ` + column + ` = ?
		ORDER BY issued_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, value, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("punishment history: %w", classify(err))
	}
	return scanAll(rows, "punishment history")
}

// Get returns one record by ID.
func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Punishment, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+selectColumns+` FROM punishments WHERE id = ?`), id)
	p, err := scanPunishment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("punishment %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get punishment: %w", classify(err))
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAll(rows *sql.Rows, op string) ([]*models.Punishment, error) {
	defer rows.Close()
	out := make([]*models.Punishment, 0)
	for rows.Next() {
		p, err := scanPunishment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, classify(err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, classify(err))
	}
	return out, nil
}

func scanPunishment(row rowScanner) (*models.Punishment, error) {
	var (
		p          models.Punishment
		typ        int16
		player     sql.NullString
		ip         sql.NullString
		issuedAt   int64
		expiresAt  sql.NullInt64
		liftedAt   sql.NullInt64
		liftedBy   sql.NullString
		liftReason sql.NullString
	)
	if err := row.Scan(&p.ID, &typ, &player, &ip, &p.Actor, &p.Reason, &issuedAt, &expiresAt,
		&p.Lifted, &liftedAt, &liftedBy, &liftReason); err != nil {
		return nil, err
	}

	p.Type = models.Type(typ)
	if player.Valid {
		id, err := uuid.Parse(player.String)
		if err != nil {
			return nil, fmt.Errorf("stored player id %q: %w", player.String, err)
		}
		p.Target.PlayerID = id
	}
	if ip.Valid {
		addr, err := netip.ParseAddr(ip.String)
		if err != nil {
			return nil, fmt.Errorf("stored ip %q: %w", ip.String, err)
		}
		p.Target.IP = addr
	}
	p.IssuedAt = time.UnixMilli(issuedAt).UTC()
	p.ExpiresAt = timeOrNil(expiresAt)
	p.LiftedAt = timeOrNil(liftedAt)
	if liftedBy.Valid {
		p.LiftedBy = &liftedBy.String
	}
	if liftReason.Valid {
		p.LiftReason = &liftReason.String
	}
	return &p, nil
}

func keyColumn(key models.Key) (string, string, error) {
	target, err := key.Target()
	if err != nil {
		return "", "", err
	}
	if target.HasPlayer() {
		return "target_player", target.PlayerID.String(), nil
	}
	return "target_ip", target.IP.String(), nil
}

func playerColumn(t models.Target) sql.NullString {
	if !t.HasPlayer() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.PlayerID.String(), Valid: true}
}

func ipColumn(t models.Target) sql.NullString {
	if !t.HasIP() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.IP.Unmap().WithZone("").String(), Valid: true}
}

func millisOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// classify tags connectivity failures with sentinel.ErrUnavailable.
func classify(err error) error {
	if database.IsUnavailable(err) && !errors.Is(err, sentinel.ErrUnavailable) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}
