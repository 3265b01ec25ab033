// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package runner implements C5: for each enabled plugin, ensures tool
// availability (installing if permitted), invokes Scan under a timing
// measurement, and normalizes the returned artifacts into manifest form.
// Grounded on
// _examples/original_source/core/plugin_runner.py, with the goroutine
// fan-out modeled on the teacher's errgroup-free but mutex-guarded
// concurrent map pattern in pkg/integrations/v4/manager.go, generalized
// to golang.org/x/sync/errgroup.
package runner

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

var rlog = wlog.WithComponent("runner")

// Runner dispatches scan() across the plugin registry.
type Runner struct {
	registry *plugin.Registry
	doc      *config.Document
}

func New(registry *plugin.Registry, doc *config.Document) *Runner {
	return &Runner{registry: registry, doc: doc}
}

// pluginResult is what one plugin's invocation contributes to the run.
type pluginResult struct {
	name     string
	entries  []manifest.ArtifactEntry
	duration float64
}

// RunWave invokes exactly the given set of enabled plugin configs
// concurrently, as one wave, and returns their combined manifest
// contribution. The orchestrator calls this once per wave; when no
// plugin declares strict dependencies, Run below calls it once with the
// full enabled set.
func (r *Runner) RunWave(ctx context.Context, wave []config.PluginConfig) (manifest.Manifest, error) {
	results := make([]pluginResult, len(wave))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range wave {
		i, cfg := i, cfg
		g.Go(func() (err error) {
			results[i] = r.runOne(gctx, cfg)
			return nil // a plugin's own failure never aborts the wave
		})
	}
	// errgroup.Wait only returns non-nil if a Go func returned an error,
	// which runOne never does — plugin failures are absorbed internally.
	if err := g.Wait(); err != nil {
		return manifest.Manifest{}, err
	}

	var m manifest.Manifest
	for _, res := range results {
		m.Paths = append(m.Paths, res.entries...)
		m.Durations = append(m.Durations, manifest.PluginDuration{Plugin: res.name, Duration: res.duration})
	}

	return m, nil
}

// Run dispatches all enabled plugins in a single flat wave — the
// no-strict-dependencies fallback of §4.2. Callers that detect strict
// dependencies should use the orchestrator instead.
func (r *Runner) Run(ctx context.Context, plugins []config.PluginConfig) (manifest.Manifest, error) {
	enabled := make([]config.PluginConfig, 0, len(plugins))
	for _, p := range plugins {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return r.RunWave(ctx, enabled)
}

// runOne resolves installation, measures Scan, and normalizes its return
// shape. It never returns an error to its caller — any failure becomes an
// empty artifact list with duration 0, matching the original's absorbed
// exception handling.
func (r *Runner) runOne(ctx context.Context, cfg config.PluginConfig) (result pluginResult) {
	result.name = cfg.Name

	defer func() {
		if rec := recover(); rec != nil {
			rlog.WithField("plugin", cfg.Name).Errorf("panic in plugin scan: %v", rec)
			result.entries = nil
			result.duration = 0
		}
	}()

	if !cfg.Enabled {
		rlog.WithField("plugin", cfg.Name).Info("plugin disabled in config, skipping")
		return result
	}

	p, ok := r.registry.Lookup(cfg.Name)
	if !ok {
		rlog.WithField("plugin", cfg.Name).Error("plugin not registered, skipping")
		return result
	}

	if !r.ensureInstalled(ctx, p, cfg) {
		return result
	}

	rlog.WithField("plugin", cfg.Name).Info("running scan()")
	start := time.Now()
	entries, err := p.Scan(ctx, cfg, r.doc)
	duration := math.Round(time.Since(start).Seconds()*100) / 100

	if err != nil {
		rlog.WithField("plugin", cfg.Name).WithError(err).Error("error running plugin")
		return pluginResult{name: cfg.Name}
	}

	result.entries = normalize(cfg.Name, entries)
	result.duration = duration
	rlog.WithField("plugin", cfg.Name).WithField("duration", duration).Info("plugin completed")
	return result
}

// normalize fills in the owning plugin name on every entry, since a
// plugin's Scan may only have populated Path/Source/Port.
func normalize(name string, entries []manifest.ArtifactEntry) []manifest.ArtifactEntry {
	out := make([]manifest.ArtifactEntry, len(entries))
	for i, e := range entries {
		if e.Plugin == "" {
			e.Plugin = name
		}
		out[i] = e
	}
	return out
}

// ensureInstalled applies the install policy of §4.2: skip if already
// installed (via IsInstalled, falling back to a PATH lookup); when a
// required version is declared, compare it against the detected version
// string and reinvoke the install commands with a reinstall directive on
// mismatch. A failed fresh install disables the plugin for the run but
// never aborts it; a failed reinstall is logged and the plugin proceeds
// with whatever version is already present, matching the original's
// install_plugin, which never inspects the reinstall subprocess's exit
// code either.
func (r *Runner) ensureInstalled(ctx context.Context, p plugin.Plugin, cfg config.PluginConfig) bool {
	if len(cfg.Install) == 0 {
		return true
	}

	if !isInstalled(ctx, p, cfg.Name) {
		rlog.WithField("plugin", cfg.Name).Info("installing dependencies")
		for _, cmd := range cfg.Install {
			if err := runShell(ctx, cmd); err != nil {
				rlog.WithField("plugin", cfg.Name).WithError(err).Error("plugin install failed")
				return false
			}
		}
		return true
	}

	if cfg.Version == "" {
		rlog.WithField("plugin", cfg.Name).Info("already installed, skipping install")
		return true
	}

	version := detectVersion(ctx, cfg.Name)
	if version != "" && strings.Contains(version, cfg.Version) {
		rlog.WithField("plugin", cfg.Name).Info("already up to date")
		return true
	}

	rlog.WithField("plugin", cfg.Name).Info("found but version is outdated, reinstalling")
	for _, cmd := range cfg.Install {
		if err := runShell(ctx, reinstallDirective(cmd)); err != nil {
			rlog.WithField("plugin", cfg.Name).WithError(err).Warn("reinstall command failed")
		}
	}
	return true
}

func isInstalled(ctx context.Context, p plugin.Plugin, name string) bool {
	if checker, ok := p.(plugin.InstallChecker); ok {
		return checker.IsInstalled(ctx)
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// detectVersion runs the tool's --version flag and returns its trimmed
// stdout, or "" if the command could not be run or exited non-zero.
func detectVersion(ctx context.Context, name string) string {
	out, err := exec.CommandContext(ctx, name, "--version").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// reinstallDirective rewrites an apt-style "install -y" invocation into
// a forced reinstall, matching the original's cmd.replace("install -y",
// "install --reinstall -y").
func reinstallDirective(cmd string) string {
	return strings.ReplaceAll(cmd, "install -y", "install --reinstall -y")
}

func runShell(ctx context.Context, cmd string) error {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if out, err := c.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd, err, string(out))
	}
	return nil
}
