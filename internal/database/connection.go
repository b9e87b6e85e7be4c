// Package database wires the kernel's sqlx/pgx Postgres connection pool.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// Config describes how to reach and pool connections to the orchestration
// kernel's Postgres store.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane pooling defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "kernel",
		Database:        "agentkernel",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, and
// DB_SSL_MODE onto c, leaving unset variables untouched. An unparsable
// DB_PORT is ignored, preserving whatever value c already has.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// Validate checks that c describes a usable connection.
func (c *Config) Validate() error {
	if c.Host == "" {
		return kerrors.ConfigurationError("database.host", "database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return kerrors.ConfigurationError("database.port", "database port must be between 1 and 65535")
	}
	if c.User == "" {
		return kerrors.ConfigurationError("database.user", "database user is required")
	}
	if c.Database == "" {
		return kerrors.ConfigurationError("database.name", "database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return kerrors.ConfigurationError("database.max_open_conns", "max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return kerrors.ConfigurationError("database.max_idle_conns", "max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders c as a libpq keyword/value connection string,
// omitting password when empty so it never appears in a logged DSN.
func (c *Config) ConnectionString() string {
	s := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		s += fmt.Sprintf(" password=%s", c.Password)
	}
	return s
}

// Connect validates cfg and opens a pooled sqlx.DB over pgx/v5's stdlib
// driver.
func Connect(cfg *Config, logger *logrus.Logger) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, kerrors.FailedTo("connect to database", fmt.Errorf("invalid database configuration: %w", err))
	}

	db, err := sqlx.Connect("pgx", cfg.ConnectionString())
	if err != nil {
		return nil, kerrors.DatabaseError("open connection", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, kerrors.DatabaseError("ping database", err)
	}

	logger.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("connected to database")

	return db, nil
}
