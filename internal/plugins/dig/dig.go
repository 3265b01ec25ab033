// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package dig implements the dig plugin: DNS record enumeration
// (A/AAAA/MX/TXT/NS and friends) with no upstream dependencies. Grounded
// on _examples/original_source/plugins/dig.py.
package dig

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

const Name = "dig"

var dlog = wlog.WithComponent("plugin.dig")

type Plugin struct{}

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) IsInstalled(ctx context.Context) bool {
	_, err := exec.LookPath("dig")
	return err == nil
}

// entry mirrors one parsed dig-output row, laid out flat so Parse can
// turn it straight into a plugin.Finding.
type entry struct {
	section string
	name    string
	ttl     int
	rtype   string
	data    string
}

func (p *Plugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	target := doc.ScanConfig.TargetDomain
	if target == "" {
		target = doc.ScanConfig.TargetIP
	}
	if target == "" {
		return nil, fmt.Errorf("dig requires target_domain or target_ip, but none provided")
	}

	level, args := digLevel(cfg)

	var queries [][]string
	if isIP(target) {
		queries = append(queries, []string{"-x", target})
	} else {
		queries = append(queries, append(strings.Fields(args), target))
	}
	if (level == "middle" || level == "hard" || level == "extreme") && !isIP(target) {
		queries = append(queries,
			[]string{"+dnssec", target},
			[]string{"+trace", target},
			[]string{"TXT", target},
			[]string{fmt.Sprintf("_dmarc.%s", target), "TXT"},
			[]string{fmt.Sprintf("default._domainkey.%s", target), "TXT"},
		)
	}

	results := make([][]entry, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			out, err := runDig(gctx, q)
			if err != nil {
				dlog.WithField("args", strings.Join(q, " ")).WithError(err).Error("dig invocation failed")
				return nil
			}
			results[i] = parseDigOutput(out)
			return nil
		})
	}
	_ = g.Wait()

	var all []entry
	for _, r := range results {
		all = append(all, r...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	path, err := writeTempArtifact(all, target)
	if err != nil {
		return nil, err
	}

	return []manifest.ArtifactEntry{{Plugin: Name, Path: path, Source: "dig"}}, nil
}

func digLevel(cfg config.PluginConfig) (string, string) {
	level := cfg.Level
	if level == "" {
		level = "easy"
	}
	args := ""
	if lc, ok := cfg.Levels[level]; ok {
		args = lc.Args
	}
	return level, args
}

func isIP(target string) bool {
	return net.ParseIP(target) != nil
}

func runDig(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "dig", args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("dig execution error: %w", err)
	}
	return string(out), nil
}

// parseDigOutput walks dig's default text output, tracking which
// section (answer/authority/additional) each resource record belongs
// to, matching the original's line-prefix state machine.
func parseDigOutput(output string) []entry {
	var entries []entry
	section := "answer"

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, ";; ANSWER SECTION:"):
			section = "answer"
			continue
		case strings.HasPrefix(line, ";; AUTHORITY SECTION:"):
			section = "authority"
			continue
		case strings.HasPrefix(line, ";; ADDITIONAL SECTION:"):
			section = "additional"
			continue
		case strings.HasPrefix(line, ";") || strings.TrimSpace(line) == "":
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		ttl, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			section: section,
			name:    parts[0],
			ttl:     ttl,
			rtype:   parts[3],
			data:    strings.Join(parts[4:], " "),
		})
	}

	return entries
}

func writeTempArtifact(entries []entry, target string) (string, error) {
	tmp, err := os.CreateTemp("", "dig_*.txt")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	for _, e := range entries {
		fmt.Fprintf(tmp, "%s\t%s\t%d\t%s\t%s\n", e.section, e.name, e.ttl, e.rtype, e.data)
	}

	return tmp.Name(), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (p *Plugin) Parse(path string, source string, _ string) ([]plugin.Finding, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("reading dig output %s: %w", path, err)
	}

	var findings []plugin.Finding
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 5)
		if len(fields) != 5 {
			continue
		}
		findings = append(findings, plugin.Finding{
			"section":       fields[0],
			"name":          fields[1],
			"ttl":           fields[2],
			"type":          fields[3],
			"data":          fields[4],
			"severity":      "info",
			"source":        source,
			"evidence_path": path,
			"evidence_type": "dig",
		})
	}

	return findings, nil
}
