// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package collector implements C7: it groups manifest entries by plugin,
// dispatches to each plugin's parser, applies meaningfulness and merge
// rules, and persists hosts/services/vulns/evidence under one transaction
// per run. Grounded on
// _examples/original_source/core/collector.py.
package collector

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/reconctl/reconctl/internal/store"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

var clog = wlog.WithComponent("collector")

// ErrCollectorFatal wraps any error that invalidates the whole run and
// aborts with no partial commit.
var ErrCollectorFatal = errors.New("collector-fatal")

// Collector ties the plugin registry, config document and DB connection
// together for one run.
type Collector struct {
	db       *sql.DB
	registry *plugin.Registry
	doc      *config.Document
}

func New(db *sql.DB, registry *plugin.Registry, doc *config.Document) *Collector {
	return &Collector{db: db, registry: registry, doc: doc}
}

// Purge truncates the five tables and returns without reading any
// manifest, per the exclusive purge mode of spec.md §4.4.
func (c *Collector) Purge() error {
	clog.Info("database purge mode")
	return store.Purge(c.db)
}

// Run processes the full manifest inside one transaction, committing once
// at the end. Per-entry failures are logged and skipped; the run
// continues. A fatal error aborts the whole transaction.
func (c *Collector) Run(m manifest.Manifest) (map[string]int, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: beginning collector transaction: %v", store.ErrDBConnectFailed, err)
	}
	defer tx.Rollback()

	groups := m.GroupByPlugin()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	added := make(map[string]int, len(names))

	for _, name := range names {
		entries := groups[name]

		p, ok := c.registry.Lookup(name)
		if !ok {
			clog.WithField("plugin", name).Warn("unknown plugin in manifest, skipping group")
			continue
		}

		var importantFields []string
		if imp, ok := p.(plugin.ImportantFielder); ok {
			importantFields = imp.ImportantFields()
		}

		findings, err := parseGroup(p, entries, importantFields)
		if err != nil {
			clog.WithField("plugin", name).WithError(err).Error("error running parse()")
			continue
		}

		if len(findings) == 0 {
			clog.WithField("plugin", name).Info("no data to insert")
			continue
		}

		n := 0
		for _, entry := range findings {
			if err := c.persist(tx, name, entry); err != nil {
				clog.WithField("plugin", name).WithError(err).Warn("error inserting data")
				continue
			}
			n++
		}

		added[name] = n
		clog.WithField("plugin", name).WithField("added", n).Info("records added")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing collector transaction: %v", ErrCollectorFatal, err)
	}

	return added, nil
}

// parseGroup applies §4.4's grouping/parsing/merge/filter pipeline to one
// plugin's artifacts.
func parseGroup(p plugin.Plugin, entries []manifest.ArtifactEntry, importantFields []string) ([]plugin.Finding, error) {
	merger, canMerge := p.(plugin.Merger)

	var results []plugin.Finding

	if canMerge && len(entries) > 1 {
		parsedLists := make([][]plugin.Finding, 0, len(entries))
		for _, e := range entries {
			parsed, err := p.Parse(e.Path, e.Source, e.Port)
			if err != nil {
				return nil, err
			}
			parsedLists = append(parsedLists, parsed)
		}
		merged, err := merger.MergeEntries(parsedLists)
		if err != nil {
			return nil, err
		}
		for _, entry := range merged {
			if plugin.IsMeaningful(entry, importantFields) {
				results = append(results, entry)
			}
		}
		return results, nil
	}

	for _, e := range entries {
		parsed, err := p.Parse(e.Path, e.Source, e.Port)
		if err != nil {
			return nil, err
		}
		for _, entry := range parsed {
			if plugin.IsMeaningful(entry, importantFields) {
				results = append(results, entry)
			}
		}
	}

	return results, nil
}

// persist writes one finding's host/service/vuln/evidence rows.
func (c *Collector) persist(tx *sql.Tx, pluginName string, entry plugin.Finding) error {
	ip := entry.String("ip")
	if ip == "" && entry.String("target_type") == "ip" {
		ip = c.doc.ScanConfig.TargetIP
	}
	fqdn := entry.String("fqdn")
	if fqdn == "" && entry.String("target_type") == "domain" {
		fqdn = c.doc.ScanConfig.TargetDomain
	}
	osName := entry.String("os")
	hostMeta := entry.Meta("host")

	hostID, err := getOrCreateHost(tx, ip, fqdn, osName, hostMeta)
	if err != nil {
		return fmt.Errorf("get_or_create_host: %w", err)
	}

	var serviceID sql.NullInt64
	port, hasPort := parsePort(entry.String("port"))
	protocol := entry.String("protocol")
	serviceName := entry.String("service_name")
	if hasPort && protocol != "" && serviceName != "" {
		id, err := getOrCreateService(tx, hostID, port, protocol, serviceName,
			entry.String("product"), entry.String("version"), entry.String("banner"),
			pluginName, entry.Meta("service"))
		if err != nil {
			return fmt.Errorf("get_or_create_service: %w", err)
		}
		serviceID = sql.NullInt64{Int64: id, Valid: true}
	}

	category := c.doc.CategoryFor(pluginName)
	sev := entry.String("severity")
	if sev == "" {
		sev = "info"
	}
	title := firstNonEmpty(entry.String("title"), entry.String("msg"), "Finding")
	description := firstNonEmpty(entry.String("description"), entry.String("script_output"), "-")
	source := firstNonEmpty(entry.String("source"), entry.NestedString("source"), "-")

	vulnID, err := createVuln(tx, serviceID, hostID, pluginName, source, category, sev, title, description, entry.Refs(), entry.Meta("vuln"))
	if err != nil {
		return fmt.Errorf("create_vuln: %w", err)
	}

	evidencePath := entry.String("evidence_path")
	if evidencePath != "" {
		evidenceType := firstNonEmpty(entry.String("evidence_type"), source)
		if err := createEvidence(tx, vulnID, pluginName, evidenceType, evidencePath, ""); err != nil {
			return fmt.Errorf("create_evidence (path): %w", err)
		}
	}

	rawLogVal := firstNonEmpty(entry.String("evidence"), entry.String("raw_log"))
	logPath := entry.String("log_path")
	if rawLogVal != "" || logPath != "" {
		logType := firstNonEmpty(entry.String("log_type"), "raw")
		if err := createEvidence(tx, vulnID, pluginName, logType, logPath, rawLogVal); err != nil {
			return fmt.Errorf("create_evidence (raw): %w", err)
		}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePort(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func getOrCreateHost(tx *sql.Tx, ip, fqdn, osName string, meta map[string]any) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM hosts WHERE ip IS NOT DISTINCT FROM $1 AND fqdn IS NOT DISTINCT FROM $2`,
		nullable(ip), nullable(fqdn)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	metaJSON, err := store.MarshalMeta(meta)
	if err != nil {
		return 0, err
	}

	err = tx.QueryRow(
		`INSERT INTO hosts (ip, fqdn, os, meta, created_at) VALUES ($1, $2, $3, $4, now()) RETURNING id`,
		nullable(ip), nullable(fqdn), nullable(osName), metaJSON,
	).Scan(&id)
	return id, err
}

func getOrCreateService(tx *sql.Tx, hostID int64, port int, protocol, serviceName, product, version, banner, pluginName string, meta map[string]any) (int64, error) {
	var id int64
	err := tx.QueryRow(
		`SELECT id FROM services WHERE host_id = $1 AND port = $2 AND protocol = $3 AND service_name = $4 AND plugin = $5`,
		hostID, port, protocol, serviceName, pluginName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	metaJSON, err := store.MarshalMeta(meta)
	if err != nil {
		return 0, err
	}

	err = tx.QueryRow(
		`INSERT INTO services (host_id, port, protocol, service_name, product, version, banner, plugin, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now()) RETURNING id`,
		hostID, port, protocol, serviceName, nullable(product), nullable(version), nullable(banner), pluginName, metaJSON,
	).Scan(&id)
	return id, err
}

func createVuln(tx *sql.Tx, serviceID sql.NullInt64, hostID int64, pluginName, source, category, severity, title, description string, refs []string, meta map[string]any) (int64, error) {
	metaJSON, err := store.MarshalMeta(meta)
	if err != nil {
		return 0, err
	}
	if refs == nil {
		refs = []string{}
	}

	var id int64
	err = tx.QueryRow(
		`INSERT INTO vuln (service_id, host_id, plugin, source, category, severity, title, description, refs, created_at, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10) RETURNING id`,
		serviceID, hostID, pluginName, source, category, severity, title, description, pq.Array(refs), metaJSON,
	).Scan(&id)
	return id, err
}

func createEvidence(tx *sql.Tx, vulnID int64, pluginName, logType, logPath, rawLog string) error {
	_, err := tx.Exec(
		`INSERT INTO evidence (vuln_id, plugin, log_type, log_path, raw_log, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		vulnID, pluginName, nullable(logType), nullable(logPath), nullable(rawLog),
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
