// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconctl/reconctl/pkg/config"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

func newDoc() *config.Document {
	return &config.Document{
		ScanConfig: config.ScanConfig{TargetIP: "10.0.0.5"},
	}
}

func TestCanonicalMergeDedupsAgreeingEntries(t *testing.T) {
	important := []string{"port", "protocol", "service_name", "state"}
	a := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "state": "open", "source": "ip_tcp"}
	b := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "state": "open", "source": "domain_tcp"}

	merged := CanonicalMerge([][]plugin.Finding{{a}, {b}}, important)

	require.Len(t, merged, 1)
	assert.Equal(t, "domain_tcp+ip_tcp", merged[0].String("source"))
}

func TestCanonicalMergeKeepsDisagreeingEntriesDistinct(t *testing.T) {
	important := []string{"port", "protocol", "service_name", "state"}
	a := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "state": "open", "source": "ip_tcp"}
	b := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "state": "closed", "source": "domain_tcp"}

	merged := CanonicalMerge([][]plugin.Finding{{a}, {b}}, important)

	require.Len(t, merged, 2)
}

func TestCanonicalMergeTreatsSentinelPairAsAgreement(t *testing.T) {
	important := []string{"port", "protocol", "service_name", "product"}
	a := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "product": "-", "source": "ip_tcp"}
	b := plugin.Finding{"port": "80", "protocol": "tcp", "service_name": "http", "product": "", "source": "domain_tcp"}

	merged := CanonicalMerge([][]plugin.Finding{{a}, {b}}, important)

	require.Len(t, merged, 1)
}

func TestParseGroupFiltersNonMeaningfulEntries(t *testing.T) {
	entries := []manifest.ArtifactEntry{{Plugin: "dig", Path: "/tmp/a", Source: "dig"}}
	p := &fakePlugin{
		name: "dig",
		results: []plugin.Finding{
			{"msg": "-"},
			{"msg": "a real finding"},
		},
	}

	findings, err := parseGroup(p, entries, []string{"msg"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "a real finding", findings[0].String("msg"))
}

func TestRunPersistsHostServiceVulnAndEvidence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := plugin.NewRegistry()
	p := &fakePlugin{
		name: "nmap",
		results: []plugin.Finding{
			{
				"ip": "10.0.0.5", "port": "80", "protocol": "tcp", "service_name": "http",
				"state": "open", "severity": "medium", "msg": "open port",
				"evidence_path": "/tmp/nmap.xml",
			},
		},
	}
	reg.Register("nmap", func() plugin.Plugin { return p })

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM hosts`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO hosts`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT id FROM services`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO services`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO vuln`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO evidence`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := New(db, reg, newDoc())
	m := manifest.Manifest{Paths: []manifest.ArtifactEntry{{Plugin: "nmap", Path: "/tmp/nmap.xml", Source: "ip_tcp"}}}

	added, err := c.Run(m)
	require.NoError(t, err)
	assert.Equal(t, 1, added["nmap"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsUnknownPluginGroup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	c := New(db, plugin.NewRegistry(), newDoc())
	m := manifest.Manifest{Paths: []manifest.ArtifactEntry{{Plugin: "ghost", Path: "/tmp/x"}}}

	added, err := c.Run(m)
	require.NoError(t, err)
	assert.Empty(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

// fakePlugin implements plugin.Plugin and plugin.ImportantFielder so
// parseGroup/Run can be exercised without a live scan subprocess.
type fakePlugin struct {
	name    string
	results []plugin.Finding
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	return nil, nil
}
func (f *fakePlugin) Parse(path, source, port string) ([]plugin.Finding, error) {
	return f.results, nil
}
func (f *fakePlugin) ImportantFields() []string { return []string{"msg"} }
