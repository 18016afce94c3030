// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/daemon"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigCheckValid(t *testing.T) {
	path := writeConfig(t, `
feeds:
  tech:
    url: https://www.youtube.com/@example/videos
    schedule: "@hourly"
`)
	assert.Equal(t, daemon.ExitOK, runConfigCLI([]string{"check", "-file", path}))
}

func TestConfigCheckInvalid(t *testing.T) {
	path := writeConfig(t, `
feeds:
  tech:
    schedule: "@hourly"
`)
	assert.Equal(t, daemon.ExitConfig, runConfigCLI([]string{"check", "-file", path}))
}

func TestConfigCheckMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	assert.Equal(t, daemon.ExitConfig, runConfigCLI([]string{"check", "-file", missing}))
}

func TestConfigCLIUsage(t *testing.T) {
	assert.Equal(t, daemon.ExitFailure, runConfigCLI(nil))
	assert.Equal(t, daemon.ExitFailure, runConfigCLI([]string{"frobnicate"}))
}

func TestDebugCLIUsage(t *testing.T) {
	assert.Equal(t, daemon.ExitFailure, runDebugCLI(nil))
	assert.Equal(t, daemon.ExitFailure, runDebugCLI([]string{"ytdlp"}))
}
