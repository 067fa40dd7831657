package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/clubledger/backend/internal/config"
)

// InitDB opens the Postgres pool and verifies connectivity.
func InitDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// schemaStatements create the single records table backing the entity store
// and the unique indexes the reconciliation engine relies on as its
// compare-and-insert idempotency guards. All statements are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		entity     TEXT        NOT NULL,
		id         TEXT        NOT NULL,
		data       JSONB       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (entity, id)
	)`,
	// One-time payments dedup on the provider payment id.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_records_provider_payment_id
		ON records (entity, (data->>'provider_payment_id'))
		WHERE data->>'provider_payment_id' IS NOT NULL AND data->>'provider_payment_id' <> ''`,
	// Monthly dues dedup on the structured (member, month) key.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_records_monthly_key
		ON records (entity, (data->>'monthly_key'))
		WHERE data->>'monthly_key' IS NOT NULL AND data->>'monthly_key' <> ''`,
	`CREATE INDEX IF NOT EXISTS ix_records_account_id
		ON records (entity, (data->>'account_id'))`,
	`CREATE INDEX IF NOT EXISTS ix_records_provider_subscription_id
		ON records (entity, (data->>'provider_subscription_id'))`,
}

// EnsureSchema creates the records table and indexes if missing.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InitDatabase initializes the database or exits.
func InitDatabase(cfg config.DatabaseConfig) *sql.DB {
	db, err := InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	return db
}
