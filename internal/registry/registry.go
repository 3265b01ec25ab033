// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the target registry (C3): a persistent set
// of (target_type, target_value, port, protocol) tuples with upsert
// semantics, queryable by later plugins to discover endpoints earlier
// plugins found. Grounded on
// _examples/original_source/core/registry.py.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/reconctl/reconctl/internal/store"
	wlog "github.com/reconctl/reconctl/pkg/log"
)

var rlog = wlog.WithComponent("registry")

// Registry is a thin wrapper around *sql.DB scoped to the registry table.
type Registry struct {
	db *sql.DB
}

func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Filter narrows GetTargets by any subset of its fields; a zero value
// means "no filter on this dimension".
type Filter struct {
	Status   string
	Type     string
	Plugin   string
	Tags     []string
	Protocol string
}

// AddTarget upserts by the unique (target_type, target_value, port,
// protocol) tuple. On conflict only status and updated_at are refreshed,
// matching the original's ON CONFLICT DO UPDATE clause.
func (r *Registry) AddTarget(targetType, targetValue string, port *int, protocol, sourcePlugin string, tags []string, meta map[string]any, status string) (int64, error) {
	if status == "" {
		status = "new"
	}
	if tags == nil {
		tags = []string{}
	}
	if meta == nil {
		meta = map[string]any{}
	}

	now := time.Now()
	metaJSON, err := store.MarshalMeta(meta)
	if err != nil {
		return 0, fmt.Errorf("marshaling registry meta: %w", err)
	}

	var id int64
	err = r.db.QueryRow(
		`INSERT INTO registry
			(target_type, target_value, port, protocol, source_plugin, status, tags, meta, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (target_type, target_value, port, protocol)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		targetType, targetValue, nullableInt(port), nullableString(protocol), nullableString(sourcePlugin),
		status, pq.Array(tags), metaJSON, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting registry target: %w", err)
	}

	rlog.WithField("target_type", targetType).WithField("target_value", targetValue).Debug("target upserted")
	return id, nil
}

// GetTargets filters the registry by any subset of f's fields; a tag
// filter uses set-overlap semantics (tags && $filter).
func (r *Registry) GetTargets(f Filter) ([]store.RegistryEntry, error) {
	query := `SELECT id, target_type, target_value, port, protocol, status, tags, meta FROM registry WHERE 1=1`
	var args []any

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND target_type = $%d", len(args))
	}
	if f.Plugin != "" {
		args = append(args, f.Plugin)
		query += fmt.Sprintf(" AND source_plugin = $%d", len(args))
	}
	if len(f.Tags) > 0 {
		args = append(args, pq.Array(f.Tags))
		query += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	if f.Protocol != "" {
		args = append(args, f.Protocol)
		query += fmt.Sprintf(" AND protocol = $%d", len(args))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying registry: %w", err)
	}
	defer rows.Close()

	var out []store.RegistryEntry
	for rows.Next() {
		var e store.RegistryEntry
		var metaJSON []byte
		var tags pq.StringArray
		if err := rows.Scan(&e.ID, &e.TargetType, &e.TargetValue, &e.Port, &e.Protocol, &e.Status, &tags, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning registry row: %w", err)
		}
		e.Tags = []string(tags)
		e.Meta = store.UnmarshalMeta(metaJSON)
		out = append(out, e)
	}

	return out, rows.Err()
}

// UpdateTargetStatus updates status and updated_at for id directly.
func (r *Registry) UpdateTargetStatus(id int64, status string) error {
	_, err := r.db.Exec(`UPDATE registry SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating registry status: %w", err)
	}
	return nil
}

// DeleteTarget removes a row by id directly.
func (r *Registry) DeleteTarget(id int64) error {
	_, err := r.db.Exec(`DELETE FROM registry WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting registry target: %w", err)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
