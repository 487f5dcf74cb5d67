package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool sizes stay small: every service instance opens its own pool against the same server.
const (
	maxOpenConns    = 5
	maxIdleConns    = 2
	connMaxIdleTime = 20 * time.Second
	connMaxLifetime = 30 * time.Minute
)

// NewConnection opens the gorm pool for the given DSN and pings it.
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := ConfigurePool(db); err != nil {
		return nil, err
	}

	return db, nil
}

// ConfigurePool applies the pool limits and tests the connection.
func ConfigurePool(db *gorm.DB) error {
	sqlDb, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get the sql connection: %v", err)
	}

	sqlDb.SetMaxOpenConns(maxOpenConns)
	sqlDb.SetMaxIdleConns(maxIdleConns)
	sqlDb.SetConnMaxLifetime(connMaxLifetime)
	sqlDb.SetConnMaxIdleTime(connMaxIdleTime)

	if err := sqlDb.Ping(); err != nil {
		sqlDb.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close releases the underlying pool.
func Close(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
