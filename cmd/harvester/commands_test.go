package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content_harvester/internal/storage/postgres"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"extract"},
		{"refresh"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	extract, _, err := root.Find([]string{"extract"})
	require.NoError(t, err)
	for _, name := range []string{"terms", "limit", "lang"} {
		assert.NotNil(t, extract.Flags().Lookup(name), name)
	}
}

func TestRootCommand_MissingConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"migrate", "status", "--config", t.TempDir() + "/missing.yaml"})

	err := root.Execute()
	assert.ErrorContains(t, err, "read config file")
}

func TestPrintMigrations(t *testing.T) {
	applied := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, printMigrations(&buf, []postgres.MigrationStatus{
		{Version: 1, Description: "create search_terms and content_records", AppliedAt: &applied},
		{Version: 2, Description: "create run_logs"},
	}))

	out := buf.String()
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "2026-03-01 12:00:00 UTC")
	assert.Contains(t, out, "pending")
}
