package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/mchain/pkg/markov"
)

const maxGenerateCount = 50

// MarkovAPI holds the dependencies for the Markov chain API handlers.
type MarkovAPI struct {
	app     *App
	builder *markov.Builder
	gen     *markov.Generator
	metrics *Metrics
	logger  *slog.Logger
}

// GenerateResult is one generated text. Truncated is set when the walk ran
// out of steps before reaching a terminal edge.
type GenerateResult struct {
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(app *App, builder *markov.Builder, gen *markov.Generator, metrics *Metrics, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		app:     app,
		builder: builder,
		gen:     gen,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for all /api/markov endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/markov/train", m.metrics.instrument("train", m.handleTrain))
	mux.HandleFunc("/api/markov/generate", m.metrics.instrument("generate", m.handleGenerate))
	mux.HandleFunc("/api/markov/transitions", m.metrics.instrument("transitions", m.handleTransitions))
	mux.HandleFunc("/api/markov/stats", m.metrics.instrument("stats", m.handleStats))
	mux.HandleFunc("/api/markov/export", m.metrics.instrument("export", m.handleExport))
	mux.HandleFunc("/api/markov/import", m.metrics.instrument("import", m.handleImport))
}

func (m *MarkovAPI) modelName() string {
	return m.app.config.Model.Name
}

// handleTrain trains on the request body. Plain bodies are one text per
// line; application/x-ndjson bodies are JSON records read through the
// field named by the "field" query parameter (default "text").
func (m *MarkovAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	format := markov.PlainLines
	field := "text"
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-ndjson") {
		format = markov.JSONLines
		if f := r.URL.Query().Get("field"); f != "" {
			field = f
		}
	}

	summary, err := m.builder.AddDocuments(r.Context(), markov.NewLineCorpus(r.Body, format), markov.FieldSelector(field))
	if summary != nil {
		m.metrics.trained.WithLabelValues(m.modelName(), "trained").Add(float64(summary.Trained))
		m.metrics.trained.WithLabelValues(m.modelName(), "skipped").Add(float64(summary.Skipped))
		m.metrics.trained.WithLabelValues(m.modelName(), "failed").Add(float64(summary.Failed))
	}
	if err != nil {
		m.logger.Error("Failed to train model", "model", m.modelName(), "error", err)
		respondWithError(w, statusFor(err), fmt.Sprintf("Training failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// handleGenerate produces "count" texts of at most "max_steps" tokens each.
func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	count, err := intParam(r, "count", 1)
	if err != nil || count < 1 || count > maxGenerateCount {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxGenerateCount))
		return
	}
	maxSteps, err := intParam(r, "max_steps", m.app.config.Model.MaxSteps)
	if err != nil || maxSteps < 1 {
		respondWithError(w, http.StatusBadRequest, "max_steps must be a positive integer")
		return
	}

	results := make([]GenerateResult, 0, count)
	for i := 0; i < count; i++ {
		text, err := m.gen.Generate(r.Context(), maxSteps)
		switch {
		case errors.Is(err, markov.ErrGenerationBudgetExceeded):
			m.metrics.generations.WithLabelValues(m.modelName(), "truncated").Inc()
			results = append(results, GenerateResult{Text: text, Truncated: true})
		case err != nil:
			m.metrics.generations.WithLabelValues(m.modelName(), "error").Inc()
			m.logger.Error("Failed to generate text", "model", m.modelName(), "error", err)
			respondWithError(w, statusFor(err), fmt.Sprintf("Generation failed: %v", err))
			return
		default:
			m.metrics.generations.WithLabelValues(m.modelName(), "complete").Inc()
			results = append(results, GenerateResult{Text: text})
		}
	}
	respondWithJSON(w, http.StatusOK, results)
}

// handleTransitions lists the transitions of the state given as a JSON
// array in the "state" query parameter, e.g. state=["the"].
func (m *MarkovAPI) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	state, err := markov.ParseStateKey(r.URL.Query().Get("state"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "state must be a JSON array of symbols")
		return
	}
	ts, err := m.app.Store().Transitions(r.Context(), state)
	if err != nil {
		m.logger.Error("Failed to read transitions", "state", state.String(), "error", err)
		respondWithError(w, statusFor(err), fmt.Sprintf("Failed to read transitions: %v", err))
		return
	}
	if ts == nil {
		ts = []markov.Transition{}
	}
	respondWithJSON(w, http.StatusOK, ts)
}

func (m *MarkovAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	reporter, ok := m.app.Store().(markov.StatsReporter)
	if !ok {
		respondWithError(w, http.StatusNotImplemented, "Store does not report statistics")
		return
	}
	stats, err := reporter.Stats(r.Context())
	if err != nil {
		m.logger.Error("Failed to compute stats", "error", err)
		respondWithError(w, statusFor(err), fmt.Sprintf("Failed to compute stats: %v", err))
		return
	}
	if stats.Model.Name == "" {
		stats.Model.Name = m.modelName()
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (m *MarkovAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	store, ok := m.app.Store().(*markov.SQLiteStore)
	if !ok {
		respondWithError(w, http.StatusNotImplemented, "Export requires the sqlite store")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", m.modelName()))
	if err := store.Export(r.Context(), w); err != nil {
		m.logger.Error("Failed to export model", "model", m.modelName(), "error", err)
	}
}

func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if m.app.models == nil {
		respondWithError(w, http.StatusNotImplemented, "Import requires the sqlite store")
		return
	}
	model, err := m.app.models.Import(r.Context(), r.Body)
	if err != nil {
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, statusFor(err), fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusAccepted, model)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps library errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, markov.ErrInvalidConfiguration), errors.Is(err, markov.ErrDegreeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, markov.ErrCorpusUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, markov.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
