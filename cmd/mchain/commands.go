package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/CTAG07/mchain/pkg/markov"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [corpus-file]",
	Short: "Train the model on a corpus",
	Long: `Trains the model on every record of a corpus. The corpus is a text file with
one document per line, a JSON-lines file (--format jsonl), or a table of the
SQLite database (--table).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := OpenApp(ctx, config, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		format, _ := cmd.Flags().GetString("format")
		field, _ := cmd.Flags().GetString("field")
		table, _ := cmd.Flags().GetString("table")

		var source markov.CorpusSource
		switch {
		case table != "":
			if app.db == nil {
				return fmt.Errorf("%w: --table needs the sqlite store", markov.ErrInvalidConfiguration)
			}
			if source, err = markov.NewSQLCorpus(app.db, table, field); err != nil {
				return err
			}
		case len(args) == 1:
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", markov.ErrCorpusUnavailable, err)
			}
			defer f.Close()
			lineFormat := markov.PlainLines
			if format == "jsonl" {
				lineFormat = markov.JSONLines
			}
			source = markov.NewLineCorpus(f, lineFormat)
		default:
			source = markov.NewLineCorpus(cmd.InOrStdin(), markov.PlainLines)
		}

		builder, err := app.NewBuilder(ctx)
		if err != nil {
			return err
		}
		summary, err := builder.AddDocuments(ctx, source, markov.FieldSelector(field))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), summary)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate text from the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		count, _ := cmd.Flags().GetInt("count")
		stream, _ := cmd.Flags().GetBool("stream")
		if cmd.Flags().Changed("max-steps") {
			config.Model.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
		}
		if cmd.Flags().Changed("seed") {
			config.Model.Seed, _ = cmd.Flags().GetUint64("seed")
		}

		app, err := OpenApp(ctx, config, logger)
		if err != nil {
			return err
		}
		defer app.Close()
		gen, err := app.NewGenerator()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i := 0; i < count; i++ {
			if stream {
				if err = streamOne(ctx, gen, out); err != nil {
					return err
				}
				continue
			}
			text, err := gen.Generate(ctx, config.Model.MaxSteps)
			if errors.Is(err, markov.ErrGenerationBudgetExceeded) {
				logger.Warn("Output truncated", "max_steps", config.Model.MaxSteps)
			} else if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
		}
		return nil
	},
}

func streamOne(ctx context.Context, gen *markov.Generator, out io.Writer) error {
	tokens, err := gen.GenerateStream(ctx, config.Model.MaxSteps)
	if err != nil {
		return err
	}
	for tok := range tokens {
		if tok.Err != nil {
			if errors.Is(tok.Err, markov.ErrGenerationBudgetExceeded) {
				logger.Warn("Output truncated", "max_steps", config.Model.MaxSteps)
				break
			}
			return tok.Err
		}
		fmt.Fprint(out, tok.Text)
	}
	fmt.Fprintln(out)
	return ctx.Err()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts an HTTP server exposing training, generation, inspection and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("addr") {
			config.Server.ApiAddr, _ = cmd.Flags().GetString("addr")
		}

		app, err := OpenApp(ctx, config, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		server, err := NewServer(ctx, app, logger)
		if err != nil {
			return fmt.Errorf("failed to create server object: %w", err)
		}
		return server.Run(ctx, config.Server.ApiAddr)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the model as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := OpenApp(cmd.Context(), config, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		store, ok := app.Store().(*markov.SQLiteStore)
		if !ok {
			return fmt.Errorf("%w: export needs the sqlite store", markov.ErrInvalidConfiguration)
		}
		if len(args) == 0 {
			return store.Export(cmd.Context(), cmd.OutOrStdout())
		}
		var buf bytes.Buffer
		if err = store.Export(cmd.Context(), &buf); err != nil {
			return err
		}
		return atomic.WriteFile(args[0], &buf)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge an exported JSON model into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := OpenApp(cmd.Context(), config, logger)
		if err != nil {
			return err
		}
		defer app.Close()
		if app.models == nil {
			return fmt.Errorf("%w: import needs the sqlite store", markov.ErrInvalidConfiguration)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		model, err := app.models.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), model)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print statistics about the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := OpenApp(cmd.Context(), config, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		reporter, ok := app.Store().(markov.StatsReporter)
		if !ok {
			return fmt.Errorf("%w: store does not report statistics", markov.ErrInvalidConfiguration)
		}
		stats, err := reporter.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), stats)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(buildCmd, generateCmd, serveCmd, exportCmd, importCmd, statsCmd)

	buildCmd.Flags().String("format", "lines", "Corpus file format: lines or jsonl")
	buildCmd.Flags().String("field", "text", "Record field holding the text")
	buildCmd.Flags().String("table", "", "Read the corpus from this table of the SQLite database")

	generateCmd.Flags().IntP("count", "n", 1, "Number of texts to generate")
	generateCmd.Flags().Int("max-steps", 0, "Maximum tokens per text")
	generateCmd.Flags().Uint64("seed", 0, "Seed for reproducible output")
	generateCmd.Flags().Bool("stream", false, "Print tokens as they are generated")

	serveCmd.Flags().String("addr", "", "Address to listen on")
}
