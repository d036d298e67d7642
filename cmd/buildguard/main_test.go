package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/services/exports"
	"buildguard-desktop/internal/services/live"
)

func TestExportFlags(t *testing.T) {
	t.Run("Should build a cli request with the id as default name", func(t *testing.T) {
		f := exportFlags{profile: "p1", kind: "repository", id: "repo-1", rows: 50000, format: "json"}

		req, err := f.request()
		require.NoError(t, err)
		assert.Equal(t, exports.TriggerCLI, req.Trigger)
		assert.Equal(t, "repo-1", req.Target.Name)
		assert.Equal(t, export.ResourceRepository, req.Target.Type)
		assert.Equal(t, 50000, req.Target.TotalRows)
		assert.False(t, req.Upload)
	})

	t.Run("Should carry the upload flag", func(t *testing.T) {
		f := exportFlags{profile: "p1", kind: "repository", id: "repo-1", format: "csv", upload: true}

		req, err := f.request()
		require.NoError(t, err)
		assert.True(t, req.Upload)
	})

	t.Run("Should reject invalid targets and formats", func(t *testing.T) {
		tests := []struct {
			name  string
			flags exportFlags
		}{
			{name: "Unknown type", flags: exportFlags{kind: "pipeline", id: "x", format: "csv"}},
			{name: "Version without sub id", flags: exportFlags{kind: "dataset_version", id: "ds-1", format: "csv"}},
			{name: "Unknown format", flags: exportFlags{kind: "repository", id: "repo-1", format: "xml"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := tt.flags.request()
				assert.Error(t, err)
			})
		}
	})
}

func TestLineEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := newLineEmitter(&buf)

	e.Emit("live:w1", live.Update{WatchID: "w1", Type: live.UpdateOpen})
	e.Emit("live:w1", live.Update{WatchID: "w1", Type: live.UpdateError, Error: "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"watch_id":"w1","type":"open"}`, lines[0])
	assert.JSONEq(t, `{"watch_id":"w1","type":"error","error":"boom"}`, lines[1])
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["export"])
	assert.True(t, names["watch"])
	assert.True(t, names["history"])
}

func TestProgressEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := newProgressEmitter(&buf)

	e.Emit("export:s1", exports.SessionEvent{SessionID: "s1", ResourceName: "core-builds", State: export.State{Status: export.StatusIdle}})
	assert.False(t, e.bar.IsStarted())

	e.Emit("export:s1", exports.SessionEvent{SessionID: "s1", ResourceName: "core-builds", State: export.State{Status: export.StatusPolling, Progress: 40}})
	assert.True(t, e.bar.IsStarted())
	assert.Equal(t, int64(40), e.bar.Current())

	e.Emit("export:s1", exports.SessionEvent{SessionID: "s1", ResourceName: "core-builds", State: export.State{Status: export.StatusCompleted, Progress: 100}})
	assert.Equal(t, int64(100), e.bar.Current())
	assert.Contains(t, buf.String(), "core-builds")

	assert.NotPanics(t, func() { e.Emit("live:w1", live.Update{}) })
}

func TestHistoryTable(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []exports.HistoryEntry{
		{ResourceName: "core-builds", Format: "csv", Mode: "sync", Status: "completed", Trigger: "cli",
			StartedAt: now.Add(-3 * time.Minute).Format(time.RFC3339), Summary: "Saved to /tmp/core-builds.csv"},
		{ResourceName: "ci-history-v3", Format: "json", Mode: "async", Status: "error", Trigger: "scheduled",
			StartedAt: "not a time", Summary: "Failed: worker crashed"},
	}

	rows := historyRows(entries, now)
	require.Len(t, rows, 2)
	assert.Equal(t, "3 minutes ago", rows[0][5])
	assert.Equal(t, "not a time", rows[1][5])

	var buf bytes.Buffer
	renderTable(&buf, []string{"Resource", "Format", "Mode", "Status", "Trigger", "Started", "Summary"}, rows)
	out := buf.String()
	assert.Contains(t, out, "RESOURCE")
	assert.Contains(t, out, "core-builds")
	assert.Contains(t, out, "Failed: worker crashed")
}

func TestDescribeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core-builds.csv")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))

	assert.Equal(t, path+" (2.0 kB)", describeFile(path))
	assert.Equal(t, "/missing.csv", describeFile("/missing.csv"))
}
