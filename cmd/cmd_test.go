package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodbench/internal/config"
	"prodbench/internal/storage"
)

func setViper(t *testing.T, key string, value any) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestRunOptionsAppliesOverrides(t *testing.T) {
	setViper(t, "base-url", "http://api.internal:9000/api/v1/")
	setViper(t, "vus", 3)
	setViper(t, "duration", 2*time.Second)
	setViper(t, "limit", 50)
	setViper(t, "no-history", true)
	setViper(t, "strict-checks", true)

	opts, err := runOptions("benchmarks")
	require.NoError(t, err)

	assert.Equal(t, "http://api.internal:9000/api/v1", opts.Plan.BaseURL)
	assert.Equal(t, "50", opts.Plan.Vars["limit"])
	require.Len(t, opts.Plan.Scenarios, 2)
	for _, sc := range opts.Plan.Scenarios {
		assert.Equal(t, 3, sc.VUs)
		assert.Equal(t, 2*time.Second, sc.Duration)
	}
	assert.True(t, opts.StrictChecks)
	assert.Empty(t, opts.HistoryPath)
}

func TestRunOptionsUnknownPreset(t *testing.T) {
	_, err := runOptions("checkout-flow")
	assert.ErrorIs(t, err, config.ErrUnknownPreset)
}

func TestHistoryPathPrefersFlag(t *testing.T) {
	setViper(t, "no-history", false)
	setViper(t, "history-db", "/tmp/runs.db")
	assert.Equal(t, "/tmp/runs.db", historyPath())
}

func TestPresetsCommandListsPlans(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"presets"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	for _, name := range config.PresetNames() {
		assert.Contains(t, out.String(), name)
	}
	assert.Contains(t, out.String(), "non_cached_products")
}

func TestHistoryCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(&storage.HistoryItem{
		ID:        "run-1",
		Timestamp: time.Now(),
		Plan:      "cached",
		Passed:    true,
		Summary:   storage.RunSummary{TotalRequests: 42, P95LatencyMs: 9.5},
	}))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"history", "--history-db", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "PASS")

	out.Reset()
	rootCmd.SetArgs([]string{"history", "show", "run-1", "--history-db", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "cached")

	rootCmd.SetArgs([]string{"history", "show", "missing", "--history-db", path})
	assert.ErrorIs(t, rootCmd.Execute(), storage.ErrNotFound)
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 99", (&ExitError{Code: 99}).Error())
}
