package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultProgressEvery is how many corpus records AddDocuments processes
// between progress log lines.
const DefaultProgressEvery = 1000

// BuilderConfig holds everything a Builder needs besides its store.
type BuilderConfig struct {
	// Degree is the number of preceding symbols that form a state. Must be >= 1.
	Degree int
	// Tokenizer splits texts into tokens.
	Tokenizer Tokenizer
	// Symbolizer normalizes tokens into symbols.
	Symbolizer Symbolizer
	// Logger receives progress and per-record failures. Nil discards logs.
	Logger *slog.Logger
	// ProgressEvery sets the progress log interval in records. Zero means
	// DefaultProgressEvery.
	ProgressEvery int
}

// Builder trains a Markov chain into a Store.
type Builder struct {
	store         Store
	tokenizer     Tokenizer
	symbolizer    Symbolizer
	degree        int
	progressEvery int
	logger        *slog.Logger
}

// BuildSummary reports the outcome of an AddDocuments run.
type BuildSummary struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Trained   int    `json:"trained"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// NewBuilder validates cfg and returns a Builder writing to store. It asks
// the store for its lookup indexes; a failure there is logged and ignored
// since it only costs query speed.
func NewBuilder(ctx context.Context, store Store, cfg BuilderConfig) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: builder needs a store", ErrInvalidConfiguration)
	}
	if cfg.Degree < 1 {
		return nil, fmt.Errorf("%w: degree must be >= 1, got %d", ErrInvalidConfiguration, cfg.Degree)
	}
	if cfg.Tokenizer == nil || cfg.Symbolizer == nil {
		return nil, fmt.Errorf("%w: builder needs a tokenizer and a symbolizer", ErrInvalidConfiguration)
	}
	b := &Builder{
		store:         store,
		tokenizer:     cfg.Tokenizer,
		symbolizer:    cfg.Symbolizer,
		degree:        cfg.Degree,
		progressEvery: cfg.ProgressEvery,
		logger:        cfg.Logger,
	}
	if b.progressEvery <= 0 {
		b.progressEvery = DefaultProgressEvery
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		b.logger.WarnContext(ctx, "Could not ensure transition indexes", slog.Any("error", err))
	}
	return b, nil
}

// Degree returns the builder's state length.
func (b *Builder) Degree() int {
	return b.degree
}

// Link records one observation of the transition state -> next produced by
// token. It is a single atomic upsert in the store and returns the record
// after the update. An empty token leaves the token set untouched.
func (b *Builder) Link(ctx context.Context, state State, next Symbol, token string) (*Transition, error) {
	if len(state) != b.degree {
		return nil, fmt.Errorf("%w: state has length %d, builder degree is %d", ErrInvalidConfiguration, len(state), b.degree)
	}
	return b.store.Link(ctx, state, next, token)
}

// AddText tokenizes text and records every transition of its symbol
// sequence, starting from the all-null state. It finishes with a terminal
// edge from the final state so generation can end there.
func (b *Builder) AddText(ctx context.Context, text string) error {
	state := NewState(b.degree)
	for _, token := range b.tokenizer.Tokenize(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		symbol := b.symbolizer.Symbolize(token)
		if _, err := b.Link(ctx, state, symbol, token); err != nil {
			return fmt.Errorf("failed to link %q: %w", token, err)
		}
		state.Shift(symbol)
	}
	if _, err := b.Link(ctx, state, NullSymbol, ""); err != nil {
		return fmt.Errorf("failed to link terminal edge: %w", err)
	}
	return nil
}

// AddDocuments trains on every record of source, using selector to pull the
// text out of each record. Records the selector skips are ignored; records
// it fails on are logged and counted but do not stop the run. A corpus that
// cannot be counted or enumerated fails with ErrCorpusUnavailable, and a
// store error aborts the run.
func (b *Builder) AddDocuments(ctx context.Context, source CorpusSource, selector Selector) (*BuildSummary, error) {
	summary := &BuildSummary{RunID: uuid.NewString()}
	logger := b.logger.With(slog.String("run_id", summary.RunID))

	total, err := source.Count(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: count failed: %w", ErrCorpusUnavailable, err)
	}
	summary.Total = total

	it, err := source.Records(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: enumeration failed: %w", ErrCorpusUnavailable, err)
	}
	defer func(it RecordIterator) {
		_ = it.Close()
	}(it)

	logger.InfoContext(ctx, "Training started", slog.Int("records", total), slog.Int("degree", b.degree))

	for {
		if err = ctx.Err(); err != nil {
			return summary, err
		}
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("%w: read failed after %d records: %w", ErrCorpusUnavailable, summary.Processed, err)
		}
		summary.Processed++

		text, ok, err := selector(rec)
		switch {
		case err != nil:
			summary.Failed++
			logger.WarnContext(ctx, "Skipping corpus record",
				slog.Any("error", &SelectorError{Index: summary.Processed, Err: err}),
			)
		case !ok:
			summary.Skipped++
		default:
			if err = b.AddText(ctx, text); err != nil {
				return summary, err
			}
			summary.Trained++
		}

		if summary.Processed%b.progressEvery == 0 {
			logger.InfoContext(ctx, "Training progress",
				slog.Int("processed", summary.Processed),
				slog.Int("total", total),
				slog.Int("percent", percentOf(summary.Processed, total)),
			)
		}
	}

	logger.InfoContext(ctx, "Training completed",
		slog.Int("processed", summary.Processed),
		slog.Int("trained", summary.Trained),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

func percentOf(n, total int) int {
	if total <= 0 {
		return 100
	}
	return (n*100 + total - 1) / total
}
