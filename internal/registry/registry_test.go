// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTargetUpsertsOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO registry[\s\S]*ON CONFLICT \(target_type, target_value, port, protocol\)\s+DO UPDATE SET status = EXCLUDED\.status, updated_at = EXCLUDED\.updated_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	r := New(db)
	port := 443
	id, err := r.AddTarget("ip", "10.0.0.5", &port, "tcp", "nmap", []string{"web", "ssl"}, map[string]any{"service": "https"}, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetsBuildsDynamicFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "target_type", "target_value", "port", "protocol", "status", "tags", "meta"}).
		AddRow(1, "ip", "10.0.0.5", 443, "tcp", "new", `{https,web}`, []byte(`{"service":"https"}`))

	mock.ExpectQuery(`SELECT id, target_type, target_value, port, protocol, status, tags, meta FROM registry WHERE 1=1 AND status = \$1 AND source_plugin = \$2 AND protocol = \$3`).
		WithArgs("new", "nmap", "tcp").
		WillReturnRows(rows)

	r := New(db)
	entries, err := r.GetTargets(Filter{Status: "new", Plugin: "nmap", Protocol: "tcp"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.5", entries[0].TargetValue)
	assert.True(t, entries[0].Port.Valid)
	assert.EqualValues(t, 443, entries[0].Port.Int64)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetsWithNoFilterLeavesQueryUnconstrained(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, target_type, target_value, port, protocol, status, tags, meta FROM registry WHERE 1=1$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "target_type", "target_value", "port", "protocol", "status", "tags", "meta"}))

	r := New(db)
	entries, err := r.GetTargets(Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTargetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE registry SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("scanned", sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := New(db)
	require.NoError(t, r.UpdateTargetStatus(5, "scanned"))
	require.NoError(t, mock.ExpectationsWereMet())
}
