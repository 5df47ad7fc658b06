package wallet

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgres opens a hosted ledger using a lib/pq connection string.
func NewPostgres(dsn string) (Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("wallet: open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("wallet: ping postgres: %w", err)
	}

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL REFERENCES players(id),
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			player_id TEXT NOT NULL REFERENCES players(id),
			amount BIGINT NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("wallet: postgres schema: %w", err)
		}
	}
	return &store{db: db, bindDollar: true}, nil
}
