// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the JSON document exchanged between the runner
// and the collector (and read by the external report builder): the full
// set of artifacts produced by a run plus per-plugin scan durations.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrManifestMissing/ErrManifestMalformed are fatal at collector startup.
var (
	ErrManifestMissing   = errors.New("manifest-missing")
	ErrManifestMalformed = errors.New("manifest-malformed")
)

// ArtifactEntry binds one artifact file to the plugin that produced it.
type ArtifactEntry struct {
	Plugin string `json:"plugin"`
	Path   string `json:"path"`
	Source string `json:"source,omitempty"`
	Port   string `json:"port,omitempty"`
}

// PluginDuration is the recorded wall-clock time for one plugin's scan.
type PluginDuration struct {
	Plugin   string  `json:"plugin"`
	Duration float64 `json:"duration"`
}

// Manifest is the full artifact + duration listing for one run.
type Manifest struct {
	RunID     string           `json:"run_id,omitempty"`
	Paths     []ArtifactEntry  `json:"paths"`
	Durations []PluginDuration `json:"durations"`
}

// GroupByPlugin groups artifact entries by plugin name, preserving
// within-group order of first appearance.
func (m Manifest) GroupByPlugin() map[string][]ArtifactEntry {
	groups := make(map[string][]ArtifactEntry)
	for _, entry := range m.Paths {
		groups[entry.Plugin] = append(groups[entry.Plugin], entry)
	}
	return groups
}

// Write marshals the manifest as indented JSON to path.
func Write(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// Read loads and decodes a manifest file written by the runner.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestMissing
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMalformed, err)
	}

	return &m, nil
}
