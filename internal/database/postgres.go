package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
)

// PostgresDB wraps the pgx connection pool used for the indicator
// time-series table.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresConnection creates a pooled PostgreSQL connection and verifies
// it with a ping.
func NewPostgresConnection(cfg config.DatabaseConfig, logger logging.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithComponent("database").Info("Successfully connected to PostgreSQL")

	return &PostgresDB{Pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.WithComponent("database").Info("PostgreSQL connection closed")
	}
}

// HealthCheck verifies the database connection.
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
