package store

import "fmt"

// The schema uses only types both SQLite and Postgres accept, so the same
// migrations run against either backend.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			hashed_secret TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'standard',
			rate_limit INTEGER NOT NULL DEFAULT 1000,
			allowed_tools TEXT,
			ip_whitelist TEXT,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			usage_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			revoked_at TIMESTAMP,
			revoked_by TEXT NOT NULL DEFAULT '',
			revoked_reason TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS token_usage (
			id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL REFERENCES tokens(id),
			timestamp TIMESTAMP NOT NULL,
			tool_name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tokens_hashed ON tokens(hashed_secret)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_active ON tokens(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_token_id ON token_usage(token_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON token_usage(timestamp)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
