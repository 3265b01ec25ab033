// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nuclei implements the nuclei plugin: template-driven HTTP
// vulnerability scanning against registry-discovered web targets.
// Grounded on _examples/original_source/plugins/nuclei.py.
package nuclei

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reconctl/reconctl/internal/registry"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

const Name = "nuclei"

var nlog = wlog.WithComponent("plugin.nuclei")

// Reg is the shared target registry, wired the same way
// internal/plugins/nmap.Reg is; nuclei reads nmap-tagged web targets.
var Reg *registry.Registry

const templatesDir = "/root/nuclei-templates"

type Plugin struct{}

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) IsInstalled(ctx context.Context) bool {
	_, err := exec.LookPath("nuclei")
	return err == nil
}

func (p *Plugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	urls := p.targetURLs(cfg, doc)
	if len(urls) == 0 {
		return nil, nil
	}

	paths := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			out, err := runNuclei(gctx, u.url)
			if err != nil {
				nlog.WithField("url", u.url).WithError(err).Error("nuclei invocation failed")
				return nil
			}
			paths[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var entries []manifest.ArtifactEntry
	for i, u := range urls {
		if paths[i] == "" {
			continue
		}
		entries = append(entries, manifest.ArtifactEntry{Plugin: Name, Path: paths[i], Source: u.source, Port: strconv.Itoa(u.port)})
	}
	return entries, nil
}

type targetURL struct {
	url    string
	source string
	port   int
}

// targetURLs builds http(s) URLs either directly from the configured
// domain (the original's hard-coded single-target mode) or, when
// StrictDependencies is set, from nmap-tagged web services in the
// registry — the same handoff nikto uses.
func (p *Plugin) targetURLs(cfg config.PluginConfig, doc *config.Document) []targetURL {
	if cfg.StrictDependencies && Reg != nil {
		rows, err := Reg.GetTargets(registry.Filter{Status: "new", Plugin: "nmap", Protocol: "tcp"})
		if err != nil {
			nlog.WithError(err).Warn("failed to query registry for nuclei targets")
		} else {
			var out []targetURL
			for _, row := range rows {
				if !row.Port.Valid {
					continue
				}
				scheme := "http"
				for _, tag := range row.Tags {
					if tag == "ssl" || tag == "https" {
						scheme = "https"
					}
				}
				out = append(out, targetURL{
					url:    fmt.Sprintf("%s://%s:%d", scheme, row.TargetValue, row.Port.Int64),
					source: "registry",
					port:   int(row.Port.Int64),
				})
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	if doc.ScanConfig.TargetDomain == "" {
		return nil
	}
	return []targetURL{{url: "http://" + doc.ScanConfig.TargetDomain, source: "domain", port: 80}}
}

func runNuclei(ctx context.Context, target string) (string, error) {
	tmp, err := os.CreateTemp("", "nuclei_*.jsonl")
	if err != nil {
		return "", err
	}
	outputPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, "nuclei", "-u", target, "-jsonl", "-t", templatesDir, "-o", outputPath)
	out, err := cmd.CombinedOutput()
	nlog.WithField("target", target).Infof("nuclei output: %s", strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("nuclei exited with error: %w", err)
	}
	return outputPath, nil
}

// nucleiLine mirrors one JSONL line of nuclei's output.
type nucleiLine struct {
	TemplateID string `json:"templateID"`
	Info       struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
	} `json:"info"`
	MatchedAt string `json:"matched-at"`
	Type      string `json:"type"`
	Host      string `json:"host"`
}

func (p *Plugin) Parse(path string, source string, port string) ([]plugin.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening nuclei output %s: %w", path, err)
	}
	defer f.Close()

	var findings []plugin.Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry nucleiLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			nlog.WithError(err).Warn("skipping malformed nuclei line")
			continue
		}

		findings = append(findings, plugin.Finding{
			"templateID":    dash(entry.TemplateID),
			"info.name":     dash(entry.Info.Name),
			"info.severity": dash(entry.Info.Severity),
			"matched-at":    dash(entry.MatchedAt),
			"type":          dash(entry.Type),
			"host":          dash(entry.Host),
			"msg":           dash(entry.Info.Name),
			"severity":      normalizeSeverity(entry.Info.Severity),
			"source":        source,
			"port":          port,
			"evidence_path": path,
			"evidence_type": "nuclei",
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading nuclei output %s: %w", path, err)
	}

	return findings, nil
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case "critical", "high", "medium", "low", "info":
		return strings.ToLower(s)
	default:
		return "high"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
