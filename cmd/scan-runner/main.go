// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// scan-runner loads the static config document, registers the built-in
// plugins, resolves the dependency graph over enabled plugins and
// dispatches their scans, then writes the combined manifest for
// scan-collector to pick up.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/reconctl/reconctl/internal/orchestrator"
	"github.com/reconctl/reconctl/internal/plugins/dig"
	"github.com/reconctl/reconctl/internal/plugins/nikto"
	"github.com/reconctl/reconctl/internal/plugins/nmap"
	"github.com/reconctl/reconctl/internal/plugins/nuclei"
	"github.com/reconctl/reconctl/internal/registry"
	"github.com/reconctl/reconctl/internal/runner"
	"github.com/reconctl/reconctl/internal/store"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

var mlog = wlog.WithComponent("cmd.scan-runner")

func main() {
	configPath := flag.String("config", "/config/config.json", "path to the scan configuration document")
	outputPath := flag.String("output", "", "path to write the resulting manifest (required)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		wlog.SetLevel(logrus.DebugLevel)
	}
	if *outputPath == "" {
		mlog.Error("--output is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *outputPath); err != nil {
		mlog.WithError(err).Error("scan run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, outputPath string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Connect(doc.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(db)
	nmap.Reg = reg
	nikto.Reg = reg
	nuclei.Reg = reg

	plugins := plugin.NewRegistry()
	plugins.Register(nmap.Name, nmap.New)
	plugins.Register(nikto.Name, nikto.New)
	plugins.Register(nuclei.Name, nuclei.New)
	plugins.Register(dig.Name, dig.New)

	r := runner.New(plugins, doc)
	enabled := doc.EnabledPlugins()

	var m manifest.Manifest
	if anyStrict(enabled) {
		mlog.Info("strict dependencies present, dispatching through the wave orchestrator")
		m, err = orchestrator.Run(ctx, r, enabled)
	} else {
		mlog.Info("no strict dependencies, dispatching as a single flat wave")
		m, err = r.Run(ctx, enabled)
	}
	if err != nil {
		return err
	}
	m.RunID = uuid.NewString()

	if err := manifest.Write(outputPath, m); err != nil {
		return err
	}
	mlog.WithField("artifacts", len(m.Paths)).WithField("output", outputPath).Info("scan run complete")
	return nil
}

func anyStrict(plugins []config.PluginConfig) bool {
	for _, p := range plugins {
		if p.StrictDependencies {
			return true
		}
	}
	return false
}
