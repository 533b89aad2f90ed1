package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/clefnote/clefnote-api/internal/config"
)

// statementTimeout caps every statement issued by this process. Upsert
// contention from worker progress updates should never hold locks for long.
const statementTimeout = 30 * time.Second

// setupDatabase establishes a connection to the database and configures the
// connection pool. Returns the database handle if successful, or an error if
// the connection fails.
func setupDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := withStatementTimeout(cfg.Database.URL, statementTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build database DSN: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db, logger)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", "url", maskDatabaseURL(cfg.Database.URL))
	return db, nil
}

// withStatementTimeout appends a statement_timeout option to the DSN without
// clobbering options the operator already set.
func withStatementTimeout(dbURL string, timeout time.Duration) (string, error) {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "", err
	}

	q := parsed.Query()
	if q.Get("options") == "" {
		q.Set("options", fmt.Sprintf("-c statement_timeout=%d", timeout.Milliseconds()))
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}

// maskDatabaseURL masks the password in a database URL for safe logging.
func maskDatabaseURL(dbURL string) string {
	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		parsedURL.User = url.UserPassword(username, "****")
		return parsedURL.String()
	}

	return dbURL
}
