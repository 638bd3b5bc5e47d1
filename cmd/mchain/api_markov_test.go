package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/mchain/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, backend string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.Backend = backend
	cfg.Store.DatabasePath = filepath.Join(t.TempDir(), "mchain.db")
	cfg.Model.Degree = 1
	cfg.Model.Temperature = 0
	cfg.Model.MaxSteps = 10

	log := newLogger(io.Discard, parseLevel("debug"))
	app, err := OpenApp(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	server, err := NewServer(context.Background(), app, log)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func train(t *testing.T, ts *httptest.Server, body string) markov.BuildSummary {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/markov/train", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary markov.BuildSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	return summary
}

func TestMarkovAPI_TrainAndGenerate(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			_, ts := newTestServer(t, backend)

			summary := train(t, ts, "the cat sat\nthe cat ran\n")
			assert.Equal(t, 2, summary.Trained)
			assert.NotEmpty(t, summary.RunID)

			resp, err := http.Get(ts.URL + "/api/markov/generate?count=3")
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var results []GenerateResult
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
			require.Len(t, results, 3)
			for _, r := range results {
				assert.Equal(t, "the cat sat", r.Text)
				assert.False(t, r.Truncated)
			}
		})
	}
}

func TestMarkovAPI_TrainJSONLines(t *testing.T) {
	_, ts := newTestServer(t, "memory")
	body := `{"content":"one fish"}` + "\n" + `{"content":7}` + "\n" + `{"other":"x"}` + "\n"
	resp, err := http.Post(ts.URL+"/api/markov/train?field=content", "application/x-ndjson", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary markov.BuildSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 1, summary.Trained)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestMarkovAPI_Transitions(t *testing.T) {
	_, ts := newTestServer(t, "sqlite")
	train(t, ts, "the cat sat\nthe cat ran\n")

	resp, err := http.Get(ts.URL + "/api/markov/transitions?state=" + url.QueryEscape(`["cat"]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var transitions []markov.Transition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&transitions))
	require.Len(t, transitions, 2)
	assert.Equal(t, markov.Symbol("sat"), transitions[0].Next)
	assert.Equal(t, 1, transitions[0].Count)

	bad, err := http.Get(ts.URL + "/api/markov/transitions?state=cat")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	unseen, err := http.Get(ts.URL + "/api/markov/transitions?state=" + url.QueryEscape(`["dog"]`))
	require.NoError(t, err)
	defer unseen.Body.Close()
	raw, _ := io.ReadAll(unseen.Body)
	assert.Equal(t, "[]\n", string(raw))
}

func TestMarkovAPI_GenerateValidation(t *testing.T) {
	_, ts := newTestServer(t, "memory")
	for _, query := range []string{"count=0", "count=abc", "count=1000", "max_steps=0", "max_steps=-3"} {
		resp, err := http.Get(ts.URL + "/api/markov/generate?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}

	resp, err := http.Post(ts.URL+"/api/markov/generate", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMarkovAPI_GenerateTruncated(t *testing.T) {
	server, ts := newTestServer(t, "memory")
	ctx := context.Background()
	store := server.app.Store()
	_, err := store.Link(ctx, markov.NewState(1), "a", "a")
	require.NoError(t, err)
	_, err = store.Link(ctx, markov.State{"a"}, "a", "a")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/markov/generate?max_steps=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	var results []GenerateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Truncated)
	assert.Equal(t, "a a a", results[0].Text)
}

func TestMarkovAPI_StatsExportImport(t *testing.T) {
	_, ts := newTestServer(t, "sqlite")
	train(t, ts, "the cat sat\nthe cat ran\n")

	resp, err := http.Get(ts.URL + "/api/markov/stats")
	require.NoError(t, err)
	var stats markov.ModelStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 6, stats.TotalChains)
	assert.Equal(t, "default", stats.Model.Name)

	resp, err = http.Get(ts.URL + "/api/markov/export")
	require.NoError(t, err)
	exported, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "default.json")

	// Merging the export back doubles every count.
	resp, err = http.Post(ts.URL+"/api/markov/import", "application/json", bytes.NewReader(exported))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/markov/stats")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 16, stats.TotalFrequency)
}

func TestMarkovAPI_ExportNeedsSQLite(t *testing.T) {
	_, ts := newTestServer(t, "memory")
	resp, err := http.Get(ts.URL + "/api/markov/export")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/markov/import", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "memory")
	train(t, ts, "hello world\n")
	resp, err := http.Get(ts.URL + "/api/markov/generate")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `mchain_records_total{model="default",outcome="trained"} 1`)
	assert.Contains(t, string(body), `mchain_generations_total{model="default",outcome="complete"} 1`)
	assert.Contains(t, string(body), `mchain_request_duration_seconds_count{endpoint="generate"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(markov.ErrInvalidConfiguration))
	assert.Equal(t, http.StatusBadRequest, statusFor(markov.ErrDegreeMismatch))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(markov.ErrCorpusUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(markov.ErrStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
}
