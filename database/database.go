package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"

	"settlement-service/config"
)

// InitDB opens the database selected by cfg.DBDriver and creates the schema.
func InitDB(ctx context.Context, cfg *config.Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.DBDriver {
	case "mysql":
		db, err = sql.Open("mysql", cfg.MySQLDSN())
		if err != nil {
			return nil, xerrors.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.DBDriver)
	}
	return open(ctx, db)
}

// OpenSQLite opens an embedded database file. SQLite allows one writer, so
// the pool is limited to a single connection.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(ctx, db)
}

func open(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// The statements are written in the subset MySQL and SQLite share. Amounts
// are decimal strings and timestamps unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		seller_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		price VARCHAR(32) NOT NULL,
		quantity_available INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		buyer_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		items TEXT NOT NULL,
		total_amount VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		shipping TEXT NOT NULL,
		barter_id VARCHAR(64) NOT NULL DEFAULT '',
		tracking_number VARCHAR(128) NOT NULL DEFAULT '',
		courier_name VARCHAR(128) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		confirmed_at BIGINT NULL,
		shipped_at BIGINT NULL,
		delivered_at BIGINT NULL,
		completed_at BIGINT NULL,
		cancelled_at BIGINT NULL,
		disputed_at BIGINT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS escrows (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		active_order_id VARCHAR(64) NULL UNIQUE,
		amount VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		refund_reason VARCHAR(1000) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS barter_proposals (
		id VARCHAR(64) PRIMARY KEY,
		proposer_id VARCHAR(64) NOT NULL,
		recipient_id VARCHAR(64) NOT NULL,
		proposer_product_id VARCHAR(64) NOT NULL,
		recipient_product_id VARCHAR(64) NOT NULL,
		notes VARCHAR(1000) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		cancelled_at BIGINT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		link VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		is_read INT NOT NULL DEFAULT 0
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
