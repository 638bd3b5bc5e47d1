package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/mchain/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCLI_BuildGenerateExport(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCHAIN_DATABASE_PATH", filepath.Join(dir, "mchain.db"))
	t.Setenv("MCHAIN_LOG_LEVEL", "error")

	corpus := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(corpus, []byte("the cat sat\nthe cat sat\nthe cat ran\n"), 0o644))
	common := []string{"--config", filepath.Join(dir, "config.json"), "--env-file", filepath.Join(dir, "missing.env"), "--degree", "1"}

	var summary markov.BuildSummary
	out := runCLI(t, append([]string{"build", corpus}, common...)...)
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Trained)

	out = runCLI(t, append([]string{"generate", "-n", "2", "--seed", "5"}, common...)...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, []string{"the cat sat", "the cat ran"}, line)
	}

	exportPath := filepath.Join(dir, "model.json")
	runCLI(t, append([]string{"export", exportPath}, common...)...)
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var exported markov.ExportedModel
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Equal(t, 1, exported.Order)

	var stats markov.ModelStats
	out = runCLI(t, append([]string{"stats"}, common...)...)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 12, stats.TotalFrequency)
}
