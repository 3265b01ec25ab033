// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// scan-collector reads a manifest written by scan-runner, parses each
// plugin's artifacts and persists the normalized findings, or, in purge
// mode, truncates the persisted tables without touching any manifest.
package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/reconctl/reconctl/internal/collector"
	"github.com/reconctl/reconctl/internal/plugins/dig"
	"github.com/reconctl/reconctl/internal/plugins/nikto"
	"github.com/reconctl/reconctl/internal/plugins/nmap"
	"github.com/reconctl/reconctl/internal/plugins/nuclei"
	"github.com/reconctl/reconctl/internal/store"
	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

var mlog = wlog.WithComponent("cmd.scan-collector")

func main() {
	configPath := flag.String("config", "/config/config.json", "path to the scan configuration document")
	tempFile := flag.String("temp-file", "", "path to the manifest written by scan-runner")
	purgeOnly := flag.Bool("purge-only", false, "truncate the persisted tables and exit (cannot be combined with --temp-file)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		wlog.SetLevel(logrus.DebugLevel)
	}
	if *purgeOnly == (*tempFile != "") {
		mlog.Error("exactly one of --temp-file or --purge-only is required")
		os.Exit(1)
	}

	if err := run(*configPath, *tempFile, *purgeOnly); err != nil {
		mlog.WithError(err).Error("collector run failed")
		os.Exit(1)
	}
}

func run(configPath, tempFile string, purgeOnly bool) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Connect(doc.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	plugins := plugin.NewRegistry()
	plugins.Register(nmap.Name, nmap.New)
	plugins.Register(nikto.Name, nikto.New)
	plugins.Register(nuclei.Name, nuclei.New)
	plugins.Register(dig.Name, dig.New)

	c := collector.New(db, plugins, doc)

	if doc.ScanConfig.ClearDB || purgeOnly {
		if err := c.Purge(); err != nil {
			return err
		}
		if purgeOnly {
			return nil
		}
	}

	m, err := manifest.Read(tempFile)
	if err != nil {
		return err
	}

	added, err := c.Run(*m)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range added {
		total += n
	}
	mlog.WithField("total_added", total).Info("collector run complete")
	return nil
}
