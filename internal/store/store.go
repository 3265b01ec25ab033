// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store holds the shared Postgres connection and entity types for
// the five persisted tables (hosts, services, vuln, evidence, registry),
// grounded on _examples/original_source/core/collector.py and registry.py.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	// lib/pq registers the "postgres" driver used throughout.
	_ "github.com/lib/pq"

	"github.com/reconctl/reconctl/pkg/config"
)

// ErrDBConnectFailed is fatal wherever it occurs.
var ErrDBConnectFailed = errors.New("collector-db-connect-failed")

// Connect opens a pooled connection to Postgres using cfg and verifies it
// with a Ping, matching the original's "Successful connection" / fatal
// "Database connection error" behavior.
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnectFailed, err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDBConnectFailed, err)
	}

	return db, nil
}

// Host mirrors the hosts table. Identity is the (IP, FQDN) pair; both may
// be null.
type Host struct {
	ID        int64
	IP        sql.NullString
	FQDN      sql.NullString
	OS        sql.NullString
	Meta      map[string]any
	CreatedAt time.Time
}

// Service mirrors the services table. Identity is
// (HostID, Port, Protocol, ServiceName, Plugin).
type Service struct {
	ID          int64
	HostID      int64
	Port        int
	Protocol    string
	ServiceName string
	Product     sql.NullString
	Version     sql.NullString
	Banner      sql.NullString
	Plugin      string
	Meta        map[string]any
	CreatedAt   time.Time
}

// Vuln mirrors the vuln table. ServiceID is nullable for host-level
// findings.
type Vuln struct {
	ID          int64
	ServiceID   sql.NullInt64
	HostID      int64
	Plugin      string
	Source      string
	Category    string
	Severity    string
	Title       string
	Description string
	Refs        []string
	Meta        map[string]any
	CreatedAt   time.Time
}

// Evidence mirrors the evidence table; a vuln may accrue multiple rows.
type Evidence struct {
	ID        int64
	VulnID    int64
	Plugin    string
	LogType   string
	LogPath   sql.NullString
	RawLog    sql.NullString
	CreatedAt time.Time
}

// RegistryEntry mirrors the registry table. Identity is
// (TargetType, TargetValue, Port, Protocol).
type RegistryEntry struct {
	ID            int64
	TargetType    string
	TargetValue   string
	Port          sql.NullInt64
	Protocol      sql.NullString
	SourcePlugin  sql.NullString
	Status        string
	Tags          []string
	Meta          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PurgeOrder lists the five tables in the dependency order purge mode
// must truncate them.
var PurgeOrder = []string{"evidence", "vuln", "services", "hosts", "registry"}

// Purge truncates the five tables with identity reset and cascade, in
// dependency order, inside its own transaction.
func Purge(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin purge transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range PurgeOrder {
		if _, err := tx.Exec(fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", table)); err != nil {
			return fmt.Errorf("truncating %s: %w", table, err)
		}
	}

	return tx.Commit()
}
