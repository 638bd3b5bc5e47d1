package markov

import (
	"fmt"
	"io"
	"log/slog"
)

// GeneratorConfig holds everything a Generator needs besides its store.
type GeneratorConfig struct {
	// Degree is the length of the state window walked during generation.
	// Must be >= 1.
	Degree int
	// Sampler draws one candidate per step. Nil means an unseeded
	// WeightedSampler.
	Sampler Sampler
	// Tokenizer supplies the separator placed between generated tokens.
	// Nil means a single space.
	Tokenizer Tokenizer
	// TrainedDegree is the degree the store was built with, if known. A
	// different Degree only matches the leading positions of trained states,
	// which usually yields short or empty output.
	TrainedDegree int
	// StrictDegree turns a Degree/TrainedDegree mismatch into a construction
	// error instead of a logged warning.
	StrictDegree bool
	// Logger receives generation diagnostics. Nil discards logs.
	Logger *slog.Logger
}

// Generator walks a Store's transitions to produce text. It never writes to
// the store and is safe for concurrent use if its Sampler is.
type Generator struct {
	store     Store
	degree    int
	sampler   Sampler
	separator string
	logger    *slog.Logger
}

// NewGenerator creates and returns a new Generator reading from store.
func NewGenerator(store Store, cfg GeneratorConfig) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: generator needs a store", ErrInvalidConfiguration)
	}
	if cfg.Degree < 1 {
		return nil, fmt.Errorf("%w: degree must be >= 1, got %d", ErrInvalidConfiguration, cfg.Degree)
	}
	g := &Generator{
		store:     store,
		degree:    cfg.Degree,
		sampler:   cfg.Sampler,
		separator: " ",
		logger:    cfg.Logger,
	}
	if g.sampler == nil {
		g.sampler = NewWeightedSampler()
	}
	if cfg.Tokenizer != nil {
		g.separator = cfg.Tokenizer.Separator()
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := ValidateDegree(cfg.TrainedDegree, cfg.Degree); err != nil {
		if cfg.StrictDegree {
			return nil, err
		}
		g.logger.Warn("Generator degree differs from trained degree; only leading state positions will match",
			slog.Int("trained_degree", cfg.TrainedDegree),
			slog.Int("degree", cfg.Degree),
		)
	}
	return g, nil
}

// Degree returns the generator's state window length.
func (g *Generator) Degree() int {
	return g.degree
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}
