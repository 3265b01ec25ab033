// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements C6: it topologically orders enabled
// plugins by their declared dependencies and dispatches wave-parallel
// batches, delegating the actual wave dispatch to a WaveDispatcher
// (internal/runner.Runner satisfies it).
// Grounded on
// _examples/original_source/core/orchestrator.py.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reconctl/reconctl/pkg/config"
	wlog "github.com/reconctl/reconctl/pkg/log"
	"github.com/reconctl/reconctl/pkg/manifest"
)

var olog = wlog.WithComponent("orchestrator")

// ErrCyclicDependency is returned before any plugin executes when the
// dependency graph over enabled plugins cannot be fully ordered.
var ErrCyclicDependency = errors.New("cyclic-dependency")

// WaveDispatcher executes one wave of plugin configs concurrently and
// returns their combined manifest contribution; internal/runner.Runner
// satisfies this.
type WaveDispatcher interface {
	RunWave(ctx context.Context, wave []config.PluginConfig) (manifest.Manifest, error)
}

// BuildDependencyGraph builds the edge set over enabled plugins: a plugin
// with StrictDependencies=false contributes no edges even if DependsOn is
// set; dependencies naming a disabled plugin are silently dropped.
func BuildDependencyGraph(enabled []config.PluginConfig) map[string]map[string]bool {
	enabledNames := make(map[string]bool, len(enabled))
	for _, p := range enabled {
		enabledNames[p.Name] = true
	}

	graph := make(map[string]map[string]bool, len(enabled))
	for _, p := range enabled {
		deps := map[string]bool{}
		if p.StrictDependencies {
			for _, dep := range p.DependsOn {
				if enabledNames[dep] {
					deps[dep] = true
				}
			}
		}
		graph[p.Name] = deps
	}

	return graph
}

func allDepsExecuted(graph map[string]map[string]bool, node string, executed map[string]bool) bool {
	for dep := range graph[node] {
		if !executed[dep] {
			return false
		}
	}
	return true
}

// Waves computes the wave partition directly via a Kahn's-algorithm style
// peel: each wave is the maximal set
// of not-yet-executed plugins whose full dependency set is already
// executed. This is used by Run instead of a flat topological list so
// that within-wave concurrency is explicit and each wave is provably a
// maximal antichain (property 2 of spec.md §8).
func Waves(graph map[string]map[string]bool, order []string) ([][]string, error) {
	executed := map[string]bool{}
	var waves [][]string

	for len(executed) < len(graph) {
		var wave []string
		for _, name := range order {
			if executed[name] {
				continue
			}
			if allDepsExecuted(graph, name, executed) {
				wave = append(wave, name)
			}
		}

		if len(wave) == 0 {
			missing := make([]string, 0)
			for node := range graph {
				if !executed[node] {
					missing = append(missing, node)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(missing, ", "))
		}

		waves = append(waves, wave)
		for _, name := range wave {
			executed[name] = true
		}
	}

	return waves, nil
}

// Run resolves the dependency graph over enabled, dispatches wave by wave
// through dispatcher, and returns the merged manifest across all waves.
// Within a wave, plugin order is unspecified; across waves, every
// dependency completes strictly before every dependent begins, including
// visibility of registry writes (the wave boundary is a full barrier).
func Run(ctx context.Context, dispatcher WaveDispatcher, enabled []config.PluginConfig) (manifest.Manifest, error) {
	byName := make(map[string]config.PluginConfig, len(enabled))
	order := make([]string, 0, len(enabled))
	for _, p := range enabled {
		byName[p.Name] = p
		order = append(order, p.Name)
	}

	graph := BuildDependencyGraph(enabled)

	waves, err := Waves(graph, order)
	if err != nil {
		olog.WithError(err).Error("cyclic dependency detected, aborting before running any plugin")
		return manifest.Manifest{}, err
	}
	olog.WithField("waves", len(waves)).Info("dependency graph resolved")

	var combined manifest.Manifest
	for i, wave := range waves {
		cfgs := make([]config.PluginConfig, 0, len(wave))
		for _, name := range wave {
			cfgs = append(cfgs, byName[name])
		}

		olog.WithField("wave", i+1).WithField("plugins", strings.Join(wave, ",")).Info("dispatching wave")
		m, err := dispatcher.RunWave(ctx, cfgs)
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("dispatching wave %d: %w", i+1, err)
		}

		combined.Paths = append(combined.Paths, m.Paths...)
		combined.Durations = append(combined.Durations, m.Durations...)
	}

	return combined, nil
}
