// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nikto implements the nikto plugin: HTTP(S) vulnerability
// scanning over targets pulled from the target registry that nmap
// populated, demonstrating the strict-dependency registry handoff of
// spec.md §4.5/S6. Grounded on
// _examples/original_source/plugins/nikto.py.
package nikto

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reconctl/reconctl/internal/collector"
	"github.com/reconctl/reconctl/internal/registry"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

const Name = "nikto"

var nlog = wlog.WithComponent("plugin.nikto")

// Reg is the shared target registry, wired by the host process before a
// run the same way internal/plugins/nmap.Reg is.
var Reg *registry.Registry

type Plugin struct{}

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) IsInstalled(ctx context.Context) bool {
	if _, err := exec.LookPath("nikto"); err != nil {
		return false
	}
	_, err := os.Stat("/opt/nikto/program")
	return err == nil
}

func (p *Plugin) ImportantFields() []string { return []string{"msg"} }

type target struct {
	value string
	port  int
	proto string
}

func (p *Plugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	var targets []target

	if cfg.StrictDependencies && Reg != nil {
		if doc.ScanConfig.TargetIP != "" {
			targets = append(targets, targetsFromRegistry(doc.ScanConfig.TargetIP)...)
		}
		if doc.ScanConfig.TargetDomain != "" {
			targets = append(targets, targetsFromRegistry(doc.ScanConfig.TargetDomain)...)
		}
	} else {
		if doc.ScanConfig.TargetIP != "" {
			targets = append(targets, target{doc.ScanConfig.TargetIP, 80, "http"}, target{doc.ScanConfig.TargetIP, 443, "https"})
		}
		if doc.ScanConfig.TargetDomain != "" {
			targets = append(targets, target{doc.ScanConfig.TargetDomain, 80, "http"}, target{doc.ScanConfig.TargetDomain, 443, "https"})
		}
	}

	dedup := map[target]bool{}
	var unique []target
	for _, t := range targets {
		if dedup[t] {
			continue
		}
		dedup[t] = true
		unique = append(unique, t)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].value != unique[j].value {
			return unique[i].value < unique[j].value
		}
		return unique[i].port < unique[j].port
	})

	paths := make([]string, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range unique {
		i, t := i, t
		g.Go(func() error {
			suffix := fmt.Sprintf("%s_%d", t.proto, t.port)
			out, err := runNikto(gctx, t.value, suffix, t.port)
			if err != nil {
				nlog.WithField("target", t.value).WithField("port", t.port).WithError(err).Error("nikto invocation failed")
				return nil
			}
			paths[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var entries []manifest.ArtifactEntry
	for i, t := range unique {
		if paths[i] == "" {
			continue
		}
		source := sourceLabel(doc, t)
		entries = append(entries, manifest.ArtifactEntry{Plugin: Name, Path: paths[i], Source: source, Port: strconv.Itoa(t.port)})
	}

	return entries, nil
}

func sourceLabel(doc *config.Document, t target) string {
	targetType := "domain"
	if t.value == doc.ScanConfig.TargetIP {
		targetType = "ip"
	}
	return fmt.Sprintf("%s_%s", targetType, t.proto)
}

// targetsFromRegistry mirrors get_targets_from_registry: it queries the
// registry for "new" entries nmap tagged as tcp web services on
// targetValue and derives an http/https target tuple for each.
func targetsFromRegistry(targetValue string) []target {
	rows, err := Reg.GetTargets(registry.Filter{Status: "new", Plugin: "nmap", Protocol: "tcp"})
	if err != nil {
		nlog.WithError(err).Warn("failed to query registry for nikto targets")
		return nil
	}

	var out []target
	for _, row := range rows {
		if row.TargetValue != targetValue || !row.Port.Valid {
			continue
		}
		proto := "http"
		for _, tag := range row.Tags {
			if tag == "ssl" || tag == "https" {
				proto = "https"
			}
		}
		if row.Port.Int64 == 443 {
			proto = "https"
		}
		out = append(out, target{targetValue, int(row.Port.Int64), proto})
	}
	return out
}

func runNikto(ctx context.Context, host, suffix string, port int) (string, error) {
	tmp, err := os.CreateTemp("", fmt.Sprintf("nikto_%s_*.json", suffix))
	if err != nil {
		return "", err
	}
	outputPath := tmp.Name()
	tmp.Close()

	argv := []string{"-h", host, "-p", strconv.Itoa(port), "-Format", "json", "-o", outputPath}
	cmd := exec.CommandContext(ctx, "nikto", argv...)
	out, err := cmd.CombinedOutput()
	nlog.WithField("target", host).Infof("nikto output: %s", strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("nikto exited with error: %w", err)
	}

	return outputPath, nil
}

// niktoItem mirrors one element of nikto's JSON -Format output.
type niktoItem struct {
	Vulnerabilities []struct {
		URL        string `json:"url"`
		Method     string `json:"method"`
		Msg        string `json:"msg"`
		ID         string `json:"id"`
		References string `json:"references"`
	} `json:"vulnerabilities"`
}

func (p *Plugin) Parse(path string, source string, port string) ([]plugin.Finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading nikto json %s: %w", path, err)
	}

	var items []niktoItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parsing nikto json %s: %w", path, err)
	}

	var findings []plugin.Finding
	for _, item := range items {
		for _, v := range item.Vulnerabilities {
			findings = append(findings, plugin.Finding{
				"url":        dash(v.URL),
				"method":     dash(v.Method),
				"msg":        dash(v.Msg),
				"id":         dash(v.ID),
				"references": dash(v.References),
				"source":     source,
				"port":       port,
			})
		}
	}

	return findings, nil
}

// MergeEntries is present so artifacts from an IP-based and a
// domain-based invocation against the same port can be coalesced via the
// canonical rule, even though nikto rarely needs it
// (should_merge_entries() returns false in the original — kept here for
// symmetry with nmap).
func (p *Plugin) MergeEntries(entryLists [][]plugin.Finding) ([]plugin.Finding, error) {
	return collector.CanonicalMerge(entryLists, p.ImportantFields()), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
