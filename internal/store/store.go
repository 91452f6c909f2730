package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/enactai/enactmcp/internal/model"
)

// Store is the durable persistence layer for tokens and usage events. It is
// the only component that touches disk; all mutation goes through its
// transactional operations. The default backend is a local SQLite file;
// multi-process deployments can point every instance at a shared Postgres
// database instead.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the SQLite-backed store under dataDir. Pass empty string
// for an in-memory database (used by tests).
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "tokens.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate token database: %w", err)
	}
	return s, nil
}

// NewPostgresStore opens the store against a shared Postgres database, for
// deployments running more than one server process against the same token
// state.
func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate token database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// InsertToken persists a new token record. Returns ErrDuplicateSecret if a
// token with the same hashed secret already exists.
func (s *Store) InsertToken(ctx context.Context, tok *model.Token) error {
	const q = `INSERT INTO tokens
		(id, hashed_secret, name, description, tier, rate_limit, allowed_tools,
		 ip_whitelist, expires_at, created_at, last_used_at, usage_count,
		 is_active, revoked_at, revoked_by, revoked_reason)
		VALUES
		(:id, :hashed_secret, :name, :description, :tier, :rate_limit, :allowed_tools,
		 :ip_whitelist, :expires_at, :created_at, :last_used_at, :usage_count,
		 :is_active, :revoked_at, :revoked_by, :revoked_reason)`

	if _, err := s.db.NamedExecContext(ctx, q, tok); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSecret
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetTokenByHash is the validation-path lookup. It only returns active
// tokens; callers never need to re-check is_active for this path, but do
// need to check expiry separately (the store does not special-case time).
func (s *Store) GetTokenByHash(ctx context.Context, digest string) (*model.Token, error) {
	var tok model.Token
	q := s.db.Rebind("SELECT * FROM tokens WHERE hashed_secret = ? AND is_active = ?")
	if err := s.db.GetContext(ctx, &tok, q, digest, true); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by hash: %w", err)
	}
	return &tok, nil
}

// GetTokenByHashAny looks a token up by digest regardless of is_active.
// The validation path uses it to tell a revoked secret apart from one that
// never existed.
func (s *Store) GetTokenByHashAny(ctx context.Context, digest string) (*model.Token, error) {
	var tok model.Token
	q := s.db.Rebind("SELECT * FROM tokens WHERE hashed_secret = ?")
	if err := s.db.GetContext(ctx, &tok, q, digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by hash: %w", err)
	}
	return &tok, nil
}

// GetTokenByID is the administrative lookup; it returns active or inactive
// tokens.
func (s *Store) GetTokenByID(ctx context.Context, id string) (*model.Token, error) {
	var tok model.Token
	q := s.db.Rebind("SELECT * FROM tokens WHERE id = ?")
	if err := s.db.GetContext(ctx, &tok, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &tok, nil
}

// GetTokenByName returns the most recently created token with the given
// name. Names are operator labels and not guaranteed unique.
func (s *Store) GetTokenByName(ctx context.Context, name string) (*model.Token, error) {
	var tok model.Token
	q := s.db.Rebind("SELECT * FROM tokens WHERE name = ? ORDER BY created_at DESC LIMIT 1")
	if err := s.db.GetContext(ctx, &tok, q, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by name: %w", err)
	}
	return &tok, nil
}

// ListTokens returns tokens newest-first by creation time.
func (s *Store) ListTokens(ctx context.Context, includeInactive bool) ([]model.Token, error) {
	q := "SELECT * FROM tokens ORDER BY created_at DESC"
	if !includeInactive {
		q = s.db.Rebind("SELECT * FROM tokens WHERE is_active = ? ORDER BY created_at DESC")
		var tokens []model.Token
		if err := s.db.SelectContext(ctx, &tokens, q, true); err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		return tokens, nil
	}
	var tokens []model.Token
	if err := s.db.SelectContext(ctx, &tokens, q); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// TouchToken increments usage_count and sets last_used_at in a single
// UPDATE statement, so concurrent validations of the same token cannot
// lose increments.
func (s *Store) TouchToken(ctx context.Context, id string, when time.Time) error {
	q := s.db.Rebind("UPDATE tokens SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, when.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeToken flips is_active and records revocation metadata. Revoking an
// already-revoked token is a no-op success; an unknown ID is ErrNotFound.
func (s *Store) RevokeToken(ctx context.Context, id, by, reason string) error {
	q := s.db.Rebind(`UPDATE tokens
		SET is_active = ?, revoked_at = ?, revoked_by = ?, revoked_reason = ?
		WHERE id = ? AND is_active = ?`)
	result, err := s.db.ExecContext(ctx, q, false, time.Now().UTC(), by, reason, id, true)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token rows affected: %w", err)
	}
	if n == 0 {
		// Already revoked is fine; missing is not.
		if _, err := s.GetTokenByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Rotate atomically inserts the replacement token and revokes the original
// in one transaction, so there is no instant at which both are valid or
// both invalid.
func (s *Store) Rotate(ctx context.Context, oldID string, replacement *model.Token, by string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQ = `INSERT INTO tokens
		(id, hashed_secret, name, description, tier, rate_limit, allowed_tools,
		 ip_whitelist, expires_at, created_at, last_used_at, usage_count,
		 is_active, revoked_at, revoked_by, revoked_reason)
		VALUES
		(:id, :hashed_secret, :name, :description, :tier, :rate_limit, :allowed_tools,
		 :ip_whitelist, :expires_at, :created_at, :last_used_at, :usage_count,
		 :is_active, :revoked_at, :revoked_by, :revoked_reason)`

	if _, err := tx.NamedExecContext(ctx, insertQ, replacement); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSecret
		}
		return fmt.Errorf("insert replacement token: %w", err)
	}

	revokeQ := tx.Rebind(`UPDATE tokens
		SET is_active = ?, revoked_at = ?, revoked_by = ?, revoked_reason = ?
		WHERE id = ? AND is_active = ?`)
	result, err := tx.ExecContext(ctx, revokeQ, false, time.Now().UTC(), by,
		"rotated to "+replacement.ID, oldID, true)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Usage events
// ---------------------------------------------------------------------------

// RecordUsage appends one usage event. Callers treat failures here as
// best-effort telemetry problems: log and continue, never block the tool
// call the event describes.
func (s *Store) RecordUsage(ctx context.Context, ev *model.UsageEvent) error {
	const q = `INSERT INTO token_usage
		(id, token_id, timestamp, tool_name, success, ip_address, user_agent,
		 response_time_ms, error_message)
		VALUES
		(:id, :token_id, :timestamp, :tool_name, :success, :ip_address,
		 :user_agent, :response_time_ms, :error_message)`

	if _, err := s.db.NamedExecContext(ctx, q, ev); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListUsageEvents returns a token's usage events since the given instant,
// oldest first. Used by the dashboard to build a usage timeline.
func (s *Store) ListUsageEvents(ctx context.Context, tokenID string, since time.Time) ([]model.UsageEvent, error) {
	var events []model.UsageEvent
	q := s.db.Rebind(`SELECT * FROM token_usage
		WHERE token_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`)
	if err := s.db.SelectContext(ctx, &events, q, tokenID, since.UTC()); err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	return events, nil
}

// UsageStats aggregates a token's usage events in the trailing window.
// Zero-usage windows report a zero error rate, not NaN.
func (s *Store) UsageStats(ctx context.Context, tokenID string, window time.Duration) (*model.UsageStats, error) {
	since := time.Now().UTC().Add(-window)

	var agg struct {
		Total      int64           `db:"total"`
		Successful int64           `db:"successful"`
		AvgMs      sql.NullFloat64 `db:"avg_ms"`
	}
	q := s.db.Rebind(`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful,
			AVG(response_time_ms) AS avg_ms
		FROM token_usage
		WHERE token_id = ? AND timestamp >= ?`)
	if err := s.db.GetContext(ctx, &agg, q, tokenID, since); err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}

	var breakdown []model.ToolCount
	bq := s.db.Rebind(`SELECT tool_name, COUNT(*) AS count
		FROM token_usage
		WHERE token_id = ? AND timestamp >= ?
		GROUP BY tool_name
		ORDER BY count DESC`)
	if err := s.db.SelectContext(ctx, &breakdown, bq, tokenID, since); err != nil {
		return nil, fmt.Errorf("usage stats breakdown: %w", err)
	}

	stats := &model.UsageStats{
		TokenID:         tokenID,
		PeriodHours:     int(window.Hours()),
		TotalRequests:   agg.Total,
		SuccessRequests: agg.Successful,
		ToolBreakdown:   breakdown,
	}
	if agg.Total > 0 {
		stats.ErrorRate = float64(agg.Total-agg.Successful) / float64(agg.Total)
	}
	if agg.AvgMs.Valid {
		stats.AvgResponseMs = agg.AvgMs.Float64
	}
	return stats, nil
}

// Analytics computes the system-wide summary across all tokens.
func (s *Store) Analytics(ctx context.Context, window time.Duration, topN int) (*model.Analytics, error) {
	since := time.Now().UTC().Add(-window)

	var counts struct {
		Total  int64 `db:"total"`
		Active int64 `db:"active"`
	}
	cq := `SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active
		FROM tokens`
	if err := s.db.GetContext(ctx, &counts, cq); err != nil {
		return nil, fmt.Errorf("analytics token counts: %w", err)
	}

	var agg struct {
		Total      int64 `db:"total"`
		Successful int64 `db:"successful"`
	}
	uq := s.db.Rebind(`SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful
		FROM token_usage WHERE timestamp >= ?`)
	if err := s.db.GetContext(ctx, &agg, uq, since); err != nil {
		return nil, fmt.Errorf("analytics usage counts: %w", err)
	}

	var mostActive []model.TokenActivity
	mq := s.db.Rebind(`SELECT u.token_id, t.name, COUNT(*) AS requests
		FROM token_usage u
		JOIN tokens t ON t.id = u.token_id
		WHERE u.timestamp >= ?
		GROUP BY u.token_id, t.name
		ORDER BY requests DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &mostActive, mq, since, topN); err != nil {
		return nil, fmt.Errorf("analytics most active: %w", err)
	}

	a := &model.Analytics{
		PeriodHours:   int(window.Hours()),
		TotalTokens:   counts.Total,
		ActiveTokens:  counts.Active,
		TotalRequests: agg.Total,
		MostActive:    mostActive,
	}
	if agg.Total > 0 {
		a.ErrorRate = float64(agg.Total-agg.Successful) / float64(agg.Total)
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Hygiene
// ---------------------------------------------------------------------------

// ExpireTokens revokes tokens past their expiry that are still marked
// active. Expiry is enforced lazily at validation time; this sweep exists
// for hygiene only.
func (s *Store) ExpireTokens(ctx context.Context, now time.Time) (int64, error) {
	q := s.db.Rebind(`UPDATE tokens
		SET is_active = ?, revoked_at = ?, revoked_by = ?, revoked_reason = ?
		WHERE expires_at IS NOT NULL AND expires_at < ? AND is_active = ?`)
	result, err := s.db.ExecContext(ctx, q, false, now.UTC(), "system", "expired", now.UTC(), true)
	if err != nil {
		return 0, fmt.Errorf("expire tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire tokens rows affected: %w", err)
	}
	return n, nil
}

// PurgeUsageBefore bulk-deletes usage events older than the cutoff and
// returns the number removed. Token rows are untouched.
func (s *Store) PurgeUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := s.db.Rebind("DELETE FROM token_usage WHERE timestamp < ?")
	result, err := s.db.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge usage rows affected: %w", err)
	}
	return n, nil
}

// isUniqueViolation matches the unique-constraint error text of both
// backends (SQLite: "UNIQUE constraint failed", Postgres: "duplicate key
// value violates unique constraint").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
