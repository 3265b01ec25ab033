// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconctl/reconctl/pkg/config"
	"github.com/reconctl/reconctl/pkg/manifest"
	"github.com/reconctl/reconctl/pkg/plugin"
)

type scriptedPlugin struct {
	name      string
	entries   []manifest.ArtifactEntry
	scanErr   error
	installed bool
	panics    bool
}

func (p *scriptedPlugin) Name() string                                 { return p.name }
func (p *scriptedPlugin) IsInstalled(ctx context.Context) bool          { return p.installed }
func (p *scriptedPlugin) Scan(ctx context.Context, cfg config.PluginConfig, doc *config.Document) ([]manifest.ArtifactEntry, error) {
	if p.panics {
		panic("boom")
	}
	if p.scanErr != nil {
		return nil, p.scanErr
	}
	return p.entries, nil
}
func (p *scriptedPlugin) Parse(path, source, port string) ([]plugin.Finding, error) { return nil, nil }

func newRunner(reg *plugin.Registry) *Runner {
	doc := &config.Document{ScanConfig: config.ScanConfig{TargetDomain: "example.test"}}
	return New(reg, doc)
}

func TestRunWaveNormalizesPluginName(t *testing.T) {
	defer leaktest.Check(t)()

	reg := plugin.NewRegistry()
	reg.Register("dig", func() plugin.Plugin {
		return &scriptedPlugin{name: "dig", installed: true, entries: []manifest.ArtifactEntry{{Path: "/tmp/dig.txt"}}}
	})

	r := newRunner(reg)
	m, err := r.RunWave(context.Background(), []config.PluginConfig{{Name: "dig", Enabled: true}})
	require.NoError(t, err)
	require.Len(t, m.Paths, 1)
	assert.Equal(t, "dig", m.Paths[0].Plugin)
}

func TestRunWaveSkipsDisabledPlugin(t *testing.T) {
	defer leaktest.Check(t)()

	reg := plugin.NewRegistry()
	called := false
	reg.Register("dig", func() plugin.Plugin {
		called = true
		return &scriptedPlugin{name: "dig", installed: true}
	})

	r := newRunner(reg)
	m, err := r.RunWave(context.Background(), []config.PluginConfig{{Name: "dig", Enabled: false}})
	require.NoError(t, err)
	assert.Empty(t, m.Paths)
	assert.False(t, called, "a disabled plugin should never be instantiated")
}

func TestRunWaveAbsorbsScanError(t *testing.T) {
	defer leaktest.Check(t)()

	reg := plugin.NewRegistry()
	reg.Register("nikto", func() plugin.Plugin {
		return &scriptedPlugin{name: "nikto", installed: true, scanErr: errors.New("nikto exited with error")}
	})

	r := newRunner(reg)
	m, err := r.RunWave(context.Background(), []config.PluginConfig{{Name: "nikto", Enabled: true}})
	require.NoError(t, err, "one plugin's scan failure must not fail the wave")
	assert.Empty(t, m.Paths)
}

func TestRunWaveRecoversFromPanic(t *testing.T) {
	defer leaktest.Check(t)()

	reg := plugin.NewRegistry()
	reg.Register("nmap", func() plugin.Plugin {
		return &scriptedPlugin{name: "nmap", installed: true, panics: true}
	})

	r := newRunner(reg)
	m, err := r.RunWave(context.Background(), []config.PluginConfig{{Name: "nmap", Enabled: true}})
	require.NoError(t, err)
	assert.Empty(t, m.Paths)
}

func TestRunWaveSkipsUnregisteredPlugin(t *testing.T) {
	defer leaktest.Check(t)()

	r := newRunner(plugin.NewRegistry())
	m, err := r.RunWave(context.Background(), []config.PluginConfig{{Name: "ghost", Enabled: true}})
	require.NoError(t, err)
	assert.Empty(t, m.Paths)
}

func TestRunFiltersToEnabledOnly(t *testing.T) {
	defer leaktest.Check(t)()

	reg := plugin.NewRegistry()
	reg.Register("dig", func() plugin.Plugin {
		return &scriptedPlugin{name: "dig", installed: true, entries: []manifest.ArtifactEntry{{Path: "/tmp/dig.txt"}}}
	})
	reg.Register("nmap", func() plugin.Plugin {
		return &scriptedPlugin{name: "nmap", installed: true, entries: []manifest.ArtifactEntry{{Path: "/tmp/nmap.xml"}}}
	})

	r := newRunner(reg)
	m, err := r.Run(context.Background(), []config.PluginConfig{
		{Name: "dig", Enabled: true},
		{Name: "nmap", Enabled: false},
	})
	require.NoError(t, err)
	require.Len(t, m.Paths, 1)
	assert.Equal(t, "dig", m.Paths[0].Plugin)
}

// touchCmd returns an "install" command that creates marker when run,
// so tests can observe whether ensureInstalled actually executed it.
func touchCmd(t *testing.T) (cmd string, marker string) {
	t.Helper()
	marker = filepath.Join(t.TempDir(), "ran")
	return "touch " + marker, marker
}

// versionScript writes an executable shell script that ignores its
// arguments and prints version to stdout, standing in for a real
// tool's --version output.
func versionScript(t *testing.T, version string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	content := "#!/bin/sh\necho " + version + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestEnsureInstalledRunsInstallWhenNotInstalled(t *testing.T) {
	cmd, marker := touchCmd(t)
	r := newRunner(plugin.NewRegistry())
	p := &scriptedPlugin{name: "nmap", installed: false}
	cfg := config.PluginConfig{Name: "nmap", Install: []string{cmd}}

	ok := r.ensureInstalled(context.Background(), p, cfg)
	require.True(t, ok)
	_, err := os.Stat(marker)
	assert.NoError(t, err, "install command should have run")
}

func TestEnsureInstalledSkipsInstallWhenAlreadyInstalledAndNoVersionDeclared(t *testing.T) {
	cmd, marker := touchCmd(t)
	r := newRunner(plugin.NewRegistry())
	p := &scriptedPlugin{name: "nmap", installed: true}
	cfg := config.PluginConfig{Name: "nmap", Install: []string{cmd}}

	ok := r.ensureInstalled(context.Background(), p, cfg)
	require.True(t, ok)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "install command must not run when already installed and no version is declared")
}

func TestEnsureInstalledReinstallsOnVersionMismatch(t *testing.T) {
	cmd, marker := touchCmd(t)
	tool := versionScript(t, "v1.0.0")

	r := newRunner(plugin.NewRegistry())
	p := &scriptedPlugin{name: "nmap", installed: true}
	cfg := config.PluginConfig{Name: tool, Version: "v2.0.0", Install: []string{cmd}}

	ok := r.ensureInstalled(context.Background(), p, cfg)
	require.True(t, ok)
	_, err := os.Stat(marker)
	assert.NoError(t, err, "a detected version not containing the required version must trigger a reinstall")
}

func TestEnsureInstalledSkipsReinstallWhenVersionMatches(t *testing.T) {
	cmd, marker := touchCmd(t)
	tool := versionScript(t, "v1.2.0")

	r := newRunner(plugin.NewRegistry())
	p := &scriptedPlugin{name: "nmap", installed: true}
	cfg := config.PluginConfig{Name: tool, Version: "v1.2.0", Install: []string{cmd}}

	ok := r.ensureInstalled(context.Background(), p, cfg)
	require.True(t, ok)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "a detected version containing the required version must not trigger a reinstall")
}

func TestReinstallDirectiveRewritesAptInstallFlag(t *testing.T) {
	assert.Equal(t, "apt-get install --reinstall -y nmap", reinstallDirective("apt-get install -y nmap"))
	assert.Equal(t, "pip install nikto", reinstallDirective("pip install nikto"), "commands without the apt-style flag pass through unchanged")
}
