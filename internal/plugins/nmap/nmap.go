// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nmap implements the nmap plugin: TCP/UDP port, service and
// script-output scanning, registering discovered web services into the
// target registry for strictly-dependent plugins (nikto, nuclei) to pick
// up. Grounded on
// _examples/original_source/plugins/nmap.py.
package nmap

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reconctl/reconctl/internal/collector"
	"github.com/reconctl/reconctl/internal/registry"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
	"github.com/reconctl/reconctl/pkg/severity"
)

const Name = "nmap"

var nlog = wlog.WithComponent("plugin.nmap")

// Reg is the registry set to the shared target registry before a run so
// Scan can register discovered web services; wired by the runner's host
// process once a DB connection is available.
var Reg *registry.Registry

type Plugin struct{}

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) IsInstalled(ctx context.Context) bool {
	_, err := exec.LookPath("nmap")
	return err == nil
}

func (p *Plugin) ImportantFields() []string {
	return []string{"port", "protocol", "state", "reason", "service_name", "product", "version", "extra", "cpe", "script_output"}
}

// invocation is one (target, source label, args) nmap run.
type invocation struct {
	target string
	source string
	args   string
}

func (p *Plugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	var invocations []invocation
	if ip := doc.ScanConfig.TargetIP; ip != "" {
		invocations = append(invocations,
			invocation{ip, "ip_tcp", "-sS -sV --script=default,vuln -T4"},
			invocation{ip, "ip_udp", "-sU --top-ports 20 -T4"},
		)
	}
	if domain := doc.ScanConfig.TargetDomain; domain != "" {
		invocations = append(invocations, invocation{domain, "domain_tcp", "-sS -sV --script=default,vuln -T4"})
	}

	paths := make([]string, len(invocations))
	g, gctx := errgroup.WithContext(ctx)
	for i, inv := range invocations {
		i, inv := i, inv
		g.Go(func() error {
			out, err := runNmap(gctx, inv.target, inv.source, inv.args)
			if err != nil {
				nlog.WithField("target", inv.target).WithError(err).Error("nmap invocation failed")
				return nil
			}
			paths[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var entries []manifest.ArtifactEntry
	for i, inv := range invocations {
		if paths[i] == "" {
			continue
		}
		entries = append(entries, manifest.ArtifactEntry{Plugin: Name, Path: paths[i], Source: inv.source})

		if Reg != nil {
			p.registerWebTargets(paths[i], inv.source, doc)
		}
	}

	return entries, nil
}

func (p *Plugin) registerWebTargets(path, source string, doc *config.Document) {
	findings, err := p.Parse(path, source, "")
	if err != nil {
		return
	}
	for _, f := range findings {
		if f.String("state") != "open" || f.String("protocol") != "tcp" {
			continue
		}
		svc := strings.ToLower(f.String("service_name"))
		if svc != "http" && svc != "https" {
			continue
		}

		targetType := "domain"
		targetValue := doc.ScanConfig.TargetDomain
		if strings.HasPrefix(source, "ip") {
			targetType = "ip"
			targetValue = doc.ScanConfig.TargetIP
		}

		portStr := f.String("port")
		var portPtr *int
		if n, err := strconv.Atoi(portStr); err == nil {
			portPtr = &n
		}

		if _, err := Reg.AddTarget(targetType, targetValue, portPtr, f.String("protocol"), Name, []string{"web"}, map[string]any{"service": svc}, "new"); err != nil {
			nlog.WithError(err).Warn("failed to register web target")
		}
	}
}

func runNmap(ctx context.Context, target, source, args string) (string, error) {
	tmp, err := os.CreateTemp("", fmt.Sprintf("nmap_%s_*.xml", source))
	if err != nil {
		return "", err
	}
	outputPath := tmp.Name()
	tmp.Close()

	argv := append(strings.Fields(args), target, "-oX", outputPath)
	cmd := exec.CommandContext(ctx, "nmap", argv...)
	out, err := cmd.CombinedOutput()
	nlog.WithField("target", target).Infof("nmap output: %s", strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("nmap exited with error: %w", err)
	}

	return outputPath, nil
}

// nmapXML mirrors the subset of nmap's -oX schema the parser reads.
type nmapXML struct {
	Host struct {
		Address []struct {
			AddrType string `xml:"addrtype,attr"`
			Addr     string `xml:"addr,attr"`
		} `xml:"address"`
		Hostnames struct {
			Hostname []struct {
				Name string `xml:"name,attr"`
			} `xml:"hostname"`
		} `xml:"hostnames"`
		OS struct {
			OSMatch []struct {
				Name string `xml:"name,attr"`
			} `xml:"osmatch"`
		} `xml:"os"`
		Ports struct {
			Port []struct {
				Protocol string `xml:"protocol,attr"`
				PortID   string `xml:"portid,attr"`
				State    struct {
					State  string `xml:"state,attr"`
					Reason string `xml:"reason,attr"`
				} `xml:"state"`
				Service struct {
					Name      string `xml:"name,attr"`
					Product   string `xml:"product,attr"`
					Version   string `xml:"version,attr"`
					ExtraInfo string `xml:"extrainfo,attr"`
					CPE       string `xml:"cpe"`
				} `xml:"service"`
				Script []struct {
					Output string `xml:"output,attr"`
				} `xml:"script"`
			} `xml:"port"`
		} `xml:"ports"`
	} `xml:"host"`
}

func (p *Plugin) Parse(path string, source string, _ string) ([]plugin.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading nmap xml %s: %w", path, err)
	}

	var doc nmapXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing nmap xml %s: %w", path, err)
	}

	var ip, fqdn, osName string
	for _, a := range doc.Host.Address {
		if a.AddrType == "ipv4" {
			ip = a.Addr
		}
	}
	if len(doc.Host.Hostnames.Hostname) > 0 {
		fqdn = doc.Host.Hostnames.Hostname[0].Name
	}
	if len(doc.Host.OS.OSMatch) > 0 {
		osName = doc.Host.OS.OSMatch[0].Name
	}

	var results []plugin.Finding
	for _, port := range doc.Host.Ports.Port {
		var scripts []string
		for _, s := range port.Script {
			if s.Output != "" {
				scripts = append(scripts, s.Output)
			}
		}
		rawOutput := dash(strings.Join(scripts, "; "))
		scriptOutput := formatScriptOutput(rawOutput)

		portID, _ := strconv.Atoi(port.PortID)

		data := plugin.Finding{
			"ip":            ip,
			"fqdn":          fqdn,
			"os":            osName,
			"port":          strconv.Itoa(portID),
			"protocol":      dash(port.Protocol),
			"state":         dash(port.State.State),
			"reason":        dash(port.State.Reason),
			"service_name":  dash(port.Service.Name),
			"product":       dash(port.Service.Product),
			"version":       dash(port.Service.Version),
			"extra":         dash(port.Service.ExtraInfo),
			"cpe":           dash(port.Service.CPE),
			"script_output": scriptOutput,
			"source":        source,
			"evidence_path": path,
			"evidence_type": source,
		}

		sev := severity.Classify(toFields(data), nil)
		data["severity"] = string(sev)
		data["host_meta"] = map[string]any{"os": osName}
		data["service_meta"] = map[string]any{"cpe": data["cpe"], "extra": data["extra"]}
		data["vuln_meta"] = map[string]any{
			"state": data["state"], "reason": data["reason"], "product": data["product"],
			"version": data["version"], "extra": data["extra"], "cpe": data["cpe"],
			"script_output": data["script_output"],
		}

		results = append(results, data)
	}

	return results, nil
}

// MergeEntries coalesces multiple nmap artifacts (e.g. ip_tcp + domain_tcp
// invocations of the same underlying service) via the canonical merge
// rule, matching the original's merge_entries/merge_sources pair.
func (p *Plugin) MergeEntries(entryLists [][]plugin.Finding) ([]plugin.Finding, error) {
	return collector.CanonicalMerge(entryLists, p.ImportantFields()), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func toFields(f plugin.Finding) severity.Fields {
	fields := severity.Fields{}
	for _, k := range []string{"script_output", "output", "msg", "message", "description", "reason", "state", "detail"} {
		fields[k] = f.String(k)
	}
	return fields
}

// formatScriptOutput collapses duplicate lines and groups them into
// labeled [Vulnerabilities], [FTP Info] and [SSH Info] sections. There are
// no TLS, certificate or HTTP sections; once at least one section is
// present, lines that match no section are left out of the result, and
// when none is present the deduplicated lines are returned as they are.
func formatScriptOutput(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "-" || raw == "" {
		return "-"
	}

	seen := map[string]bool{}
	var unique []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "-" || seen[line] {
			continue
		}
		seen[line] = true
		unique = append(unique, line)
	}

	var sections []string
	if section := filterLines(unique, "CVE-", "vulnerab"); len(section) > 0 {
		sections = append(sections, "[Vulnerabilities]\n"+strings.Join(section, "\n"))
	}
	if section := filterLines(unique, "Anonymous FTP login allowed", "FTP"); len(section) > 0 {
		sections = append(sections, "[FTP Info]\n"+strings.Join(section, "\n"))
	}
	if section := filterLines(unique, "SSH"); len(section) > 0 {
		sections = append(sections, "[SSH Info]\n"+strings.Join(section, "\n"))
	}

	if len(sections) == 0 {
		return strings.Join(unique, "\n")
	}
	return strings.Join(sections, "\n\n")
}

func filterLines(lines []string, needles ...string) []string {
	var out []string
	for _, line := range lines {
		for _, n := range needles {
			if strings.Contains(line, n) || strings.Contains(strings.ToLower(line), strings.ToLower(n)) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}
