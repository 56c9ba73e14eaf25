package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect opens the database at dsn and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            host_id TEXT NOT NULL,
            host_name TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            age_rating TEXT NOT NULL DEFAULT 'livre'
                CHECK (age_rating IN ('livre', '10+', '12+', '14+', '16+', '18+')),
            stream_type TEXT NOT NULL CHECK (stream_type IN ('youtube', 'external')),
            stream_url TEXT NOT NULL,
            password_hash TEXT NOT NULL DEFAULT '',
            max_participants INT NOT NULL CHECK (max_participants > 0),
            current_participants INT NOT NULL DEFAULT 0,
            is_public BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            CHECK (current_participants >= 0 AND current_participants <= max_participants)
        );`,
		`CREATE INDEX IF NOT EXISTS rooms_listing_idx ON rooms (created_at DESC) WHERE is_active AND is_public;`,
		`CREATE INDEX IF NOT EXISTS rooms_host_idx ON rooms (host_id, created_at DESC);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Int("count", len(migrations)).Msg("database migrations applied")
	return nil
}
