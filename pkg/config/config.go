// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the single static JSON configuration document that
// drives a scan run: target, enabled plugins and their options, dependency
// edges, database connection parameters and report switches.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrConfigMissingTarget is returned when neither target_ip nor
// target_domain is present in scan_config.
var ErrConfigMissingTarget = errors.New("config-missing-target")

// ReportFormat enumerates the report_formats values the core round-trips
// for the (external) report builder without interpreting them itself.
type ReportFormat string

const (
	ReportHTML     ReportFormat = "html"
	ReportPDF      ReportFormat = "pdf"
	ReportTXT      ReportFormat = "txt"
	ReportTerminal ReportFormat = "terminal"
)

// ScanConfig describes the target and run-wide switches.
type ScanConfig struct {
	TargetIP      string         `json:"target_ip,omitempty"`
	TargetDomain  string         `json:"target_domain,omitempty"`
	TargetNetwork string         `json:"target_network,omitempty"`
	ClearDB       bool           `json:"clear_db,omitempty"`
	ClearLogs     bool           `json:"clear_logs,omitempty"`
	ReportFormats []ReportFormat `json:"report_formats,omitempty"`
	ReportTheme   string         `json:"report_theme,omitempty"`
	OpenReport    bool           `json:"open_report,omitempty"`
}

// LevelConfig is one entry of a plugin's "levels" map, giving the extra
// CLI arguments a difficulty level (easy/middle/hard/extreme) adds.
type LevelConfig struct {
	Args string `json:"args,omitempty"`
}

// PluginConfig is one entry of the ordered "plugins" list.
type PluginConfig struct {
	Name               string                 `json:"name"`
	Enabled            bool                   `json:"enabled"`
	Category           string                 `json:"category,omitempty"`
	Version            string                 `json:"version,omitempty"`
	Install            []string               `json:"install,omitempty"`
	DependsOn          []string               `json:"depends_on,omitempty"`
	StrictDependencies bool                   `json:"strict_dependencies,omitempty"`
	Level              string                 `json:"level,omitempty"`
	Levels             map[string]LevelConfig `json:"levels,omitempty"`
}

// DatabaseConfig carries the Postgres connection parameters, named after
// the original config.json's "database" block.
type DatabaseConfig struct {
	Host     string `json:"POSTGRES_HOST"`
	Port     int    `json:"POSTGRES_PORT"`
	User     string `json:"POSTGRES_USER"`
	Password string `json:"POSTGRES_PASSWORD"`
	Database string `json:"POSTGRES_DB"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// DSN renders a lib/pq-compatible connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, sslmode,
	)
}

// Document is the root of the static configuration file.
type Document struct {
	ScanConfig         ScanConfig     `json:"scan_config"`
	Plugins            []PluginConfig `json:"plugins"`
	Database           DatabaseConfig `json:"database"`
	ReportCategoryOrder []string      `json:"report_category_order,omitempty"`
}

// Load reads and decodes the document at path and validates that at least
// one primary target is present.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}

// Validate enforces the "at least one of target_ip/target_domain" rule.
func (d *Document) Validate() error {
	if d.ScanConfig.TargetIP == "" && d.ScanConfig.TargetDomain == "" {
		return ErrConfigMissingTarget
	}
	return nil
}

// EnabledPlugins returns the subset of Plugins with Enabled set, preserving
// declaration order.
func (d *Document) EnabledPlugins() []PluginConfig {
	out := make([]PluginConfig, 0, len(d.Plugins))
	for _, p := range d.Plugins {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// CategoryFor returns the configured category for a plugin name, defaulting
// to "General Info" when the plugin has none declared.
func (d *Document) CategoryFor(name string) string {
	for _, p := range d.Plugins {
		if p.Name == name {
			if p.Category == "" {
				return "General Info"
			}
			return p.Category
		}
	}
	return "General Info"
}
