package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CTAG07/mchain/pkg/markov"
	"github.com/CTAG07/mchain/pkg/markov/redisstore"
)

// App bundles the store and chain components built from a Config.
type App struct {
	config        *Config
	logger        *slog.Logger
	db            *sql.DB
	models        *markov.Models
	store         markov.Store
	trainedDegree int
}

// OpenApp opens the configured store. For SQLite the model is created on
// first use and its recorded order becomes the trained degree.
func OpenApp(ctx context.Context, config *Config, logger *slog.Logger) (*App, error) {
	a := &App{config: config, logger: logger}

	switch config.Store.Backend {
	case "sqlite", "":
		if dir := filepath.Dir(config.Store.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err := initDB(config.Store.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err = markov.SetupSchema(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to setup markov schema: %w", err)
		}
		a.db = db
		a.models = markov.NewModels(db)
		a.models.SetLogger(logger)

		model, err := a.models.Ensure(ctx, config.Model.Name, config.Model.Degree)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store, err := markov.NewSQLiteStore(db, model)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to prepare store statements: %w", err)
		}
		store.SetLogger(logger)
		a.store = store
		a.trainedDegree = model.Order

	case "redis":
		a.store = redisstore.New(config.Store.RedisAddr, config.Store.RedisPassword, config.Store.RedisDB,
			redisstore.WithPrefix(config.Store.RedisPrefix+config.Model.Name+":"))

	case "memory":
		a.store = markov.NewMemoryStore()

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", markov.ErrInvalidConfiguration, config.Store.Backend)
	}

	logger.Debug("Store opened",
		slog.String("backend", config.Store.Backend),
		slog.String("model", config.Model.Name),
	)
	return a, nil
}

// Close releases the store and the database handle.
func (a *App) Close() error {
	err := a.store.Close()
	if a.db != nil {
		if dbErr := a.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// Store returns the open transition store.
func (a *App) Store() markov.Store {
	return a.store
}

func (a *App) textCodec() (markov.Tokenizer, markov.Symbolizer, error) {
	switch a.config.Model.Mode {
	case "char":
		return markov.CharTokenizer{}, markov.CharSymbolizer{}, nil
	case "word", "":
		var opts []markov.TokenizerOption
		if a.config.Model.Pattern != "" {
			opts = append(opts, markov.WithPattern(a.config.Model.Pattern))
		}
		tok, err := markov.NewWordTokenizer(opts...)
		if err != nil {
			return nil, nil, err
		}
		return tok, markov.WordSymbolizer{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown mode %q", markov.ErrInvalidConfiguration, a.config.Model.Mode)
	}
}

// NewBuilder returns a builder for the configured model. A SQLite model
// keeps the order it was created with.
func (a *App) NewBuilder(ctx context.Context) (*markov.Builder, error) {
	tok, sym, err := a.textCodec()
	if err != nil {
		return nil, err
	}
	degree := a.config.Model.Degree
	if a.trainedDegree > 0 {
		degree = a.trainedDegree
	}
	return markov.NewBuilder(ctx, a.store, markov.BuilderConfig{
		Degree:     degree,
		Tokenizer:  tok,
		Symbolizer: sym,
		Logger:     a.logger,
	})
}

// NewGenerator returns a generator for the configured model and sampler.
func (a *App) NewGenerator() (*markov.Generator, error) {
	tok, _, err := a.textCodec()
	if err != nil {
		return nil, err
	}
	m := a.config.Model
	opts := []markov.SamplerOption{markov.WithTemperature(m.Temperature), markov.WithTopK(m.TopK)}
	if m.Seed != 0 {
		opts = append(opts, markov.WithSeed(m.Seed))
	}
	return markov.NewGenerator(a.store, markov.GeneratorConfig{
		Degree:        m.Degree,
		Sampler:       markov.NewWeightedSampler(opts...),
		Tokenizer:     tok,
		TrainedDegree: a.trainedDegree,
		StrictDegree:  m.StrictDegree,
		Logger:        a.logger,
	})
}
