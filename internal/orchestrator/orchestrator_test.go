// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconctl/reconctl/pkg/config"
	"github.com/reconctl/reconctl/pkg/manifest"
)

type fakeDispatcher struct {
	waves [][]string
}

func (f *fakeDispatcher) RunWave(ctx context.Context, wave []config.PluginConfig) (manifest.Manifest, error) {
	var names []string
	for _, p := range wave {
		names = append(names, p.Name)
	}
	f.waves = append(f.waves, names)

	var m manifest.Manifest
	for _, p := range wave {
		m.Paths = append(m.Paths, manifest.ArtifactEntry{Plugin: p.Name, Path: "/tmp/" + p.Name})
	}
	return m, nil
}

func TestRunTwoWaveOrdering(t *testing.T) {
	enabled := []config.PluginConfig{
		{Name: "nmap", Enabled: true},
		{Name: "dig", Enabled: true},
		{Name: "nikto", Enabled: true, StrictDependencies: true, DependsOn: []string{"nmap"}},
		{Name: "nuclei", Enabled: true, StrictDependencies: true, DependsOn: []string{"nmap"}},
	}

	d := &fakeDispatcher{}
	m, err := Run(context.Background(), d, enabled)
	require.NoError(t, err)

	require.Len(t, d.waves, 2)
	assert.ElementsMatch(t, []string{"nmap", "dig"}, d.waves[0])
	assert.ElementsMatch(t, []string{"nikto", "nuclei"}, d.waves[1])
	assert.Len(t, m.Paths, 4)
}

func TestBuildDependencyGraphDropsDisabledDependency(t *testing.T) {
	enabled := []config.PluginConfig{
		{Name: "nikto", Enabled: true, StrictDependencies: true, DependsOn: []string{"nmap"}},
	}

	graph := BuildDependencyGraph(enabled)
	assert.Empty(t, graph["nikto"], "a dependency on a disabled plugin must not appear as an edge")
}

func TestBuildDependencyGraphIgnoresDependsOnWithoutStrictFlag(t *testing.T) {
	enabled := []config.PluginConfig{
		{Name: "nmap", Enabled: true},
		{Name: "nikto", Enabled: true, DependsOn: []string{"nmap"}},
	}

	graph := BuildDependencyGraph(enabled)
	assert.Empty(t, graph["nikto"], "depends_on without strict_dependencies contributes no edge")
}

func TestWavesDetectsCycle(t *testing.T) {
	graph := map[string]map[string]bool{
		"a": {"b": true},
		"b": {"a": true},
	}
	_, err := Waves(graph, []string{"a", "b"})
	require.ErrorIs(t, err, ErrCyclicDependency)
}

func TestRunAbortsBeforeDispatchOnCycle(t *testing.T) {
	enabled := []config.PluginConfig{
		{Name: "a", Enabled: true, StrictDependencies: true, DependsOn: []string{"b"}},
		{Name: "b", Enabled: true, StrictDependencies: true, DependsOn: []string{"a"}},
	}

	d := &fakeDispatcher{}
	_, err := Run(context.Background(), d, enabled)
	require.ErrorIs(t, err, ErrCyclicDependency)
	assert.Empty(t, d.waves, "no wave should dispatch once a cycle is detected")
}
