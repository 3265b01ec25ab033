// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the contract every scan plugin implements plus the
// registration table that replaces the original's importlib path-based
// dynamic loading (see the Design Note on dynamic plugin loading).
package plugin

import (
	"context"

	"github.com/reconctl/reconctl/pkg/config"
	"github.com/reconctl/reconctl/pkg/manifest"
)

// Finding is the shape a parser produces; field names mirror the keys the
// original Python plugins emit (ip, fqdn, port, protocol, service_name,
// severity, ...), kept as a flexible map plus a handful of typed
// accessors used by the collector.
type Finding map[string]any

func (f Finding) str(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func (f Finding) String(key string) string { return f.str(key) }

// Refs coerces the "refs" field: a bare string becomes a one-element list.
func (f Finding) Refs() []string {
	switch v := f["refs"].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Meta returns the "<prefix>_meta" map field, or an empty map. An empty
// prefix reads the bare "meta" key.
func (f Finding) Meta(prefix string) map[string]any {
	key := "meta"
	if prefix != "" {
		key = prefix + "_meta"
	}
	if m, ok := f[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// NestedString reads a string field out of the bare "meta" map, e.g. the
// fallback `(item.get("meta") or {}).get("source")` lookup the collector
// performs when a top-level field is absent.
func (f Finding) NestedString(key string) string {
	if s, ok := f.Meta("")[key].(string); ok {
		return s
	}
	return ""
}

// ViewRow is an opaque presentation row handed to the (external) report
// builder via an optional ViewProjector.
type ViewRow map[string]any

// Snapshot is the read-only view of the persisted tables passed to
// ViewProjector.ViewRows; the core never constructs one itself — it is
// populated by the (external) report builder process from the DB.
type Snapshot struct {
	Vulns    []map[string]any
	Services []map[string]any
	Hosts    []map[string]any
}

// Plugin is the mandatory surface every scan plugin implements.
type Plugin interface {
	// Name is the plugin's stable identifier, matching its config entry.
	Name() string
	// Scan launches whatever subprocess invocations are needed and
	// returns the artifacts produced. Must not return an error through
	// to the runner for a sub-invocation failure — a failed invocation
	// contributes nothing to the returned slice.
	Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error)
	// Parse maps one artifact to zero-or-more findings.
	Parse(path string, source string, port string) ([]Finding, error)
}

// Merger is implemented by plugins that must coalesce multiple artifacts
// from the same run before insertion (see the canonical merge rule).
type Merger interface {
	MergeEntries(entryLists [][]Finding) ([]Finding, error)
}

// ImportantFielder declares the fields that must carry a non-sentinel
// value for an entry to count as "meaningful". Absence means "no filter".
type ImportantFielder interface {
	ImportantFields() []string
}

// ViewProjector is the optional report-builder projection hook.
type ViewProjector interface {
	ViewRows(snapshot Snapshot) ([]ViewRow, error)
}

// InstallChecker lets the runner ask a plugin whether its backing tool is
// already present, instead of falling back to a bare PATH lookup.
type InstallChecker interface {
	IsInstalled(ctx context.Context) bool
}

// Constructor builds a Plugin instance; registered constructors take no
// arguments because all per-run state flows through Scan/Parse params.
type Constructor func() Plugin

// Registry maps plugin name to its constructor, replacing dynamic
// path-based loading with explicit, typed registration.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds name to the registry. Re-registering a name overwrites it.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// Lookup returns a fresh Plugin instance for name, or false if name is
// unregistered — the caller treats that as a soft error (skip, log, keep
// the run going) per the Design Note about unknown plugins in config.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Sentinels is the set of string values that count as "not meaningfully
// present" for the purposes of ImportantFielder filtering.
var Sentinels = map[string]bool{
	"-": true, "": true, "None": true, "null": true, "0": true,
}

// IsMeaningful reports whether entry has at least one important field
// carrying a non-sentinel value. An empty fields list means "no filter" —
// every entry is meaningful.
func IsMeaningful(entry Finding, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		v := trimmed(entry.str(f))
		if !Sentinels[v] {
			return true
		}
	}
	return false
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
