package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	config *Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mchain",
	Short: "mchain builds and walks n-th order Markov chains",
	Long: `mchain trains Markov chains of words or characters from text corpora into
a SQLite or Redis transition store, and generates new text from them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		path, _ := cmd.Flags().GetString("config")
		cfg, err := LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlags(cmd, cfg)

		config = cfg
		logger = newLogger(os.Stderr, parseLevel(cfg.Server.LogLevel))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("config", "./config.json", "Path to the JSON or YAML configuration file")
	flags.String("env-file", ".env", "Environment file loaded before the configuration")
	flags.String("store", "", "Transition store: sqlite, redis or memory")
	flags.String("model", "", "Model name")
	flags.Int("degree", 0, "Number of preceding symbols forming a state")
	flags.String("mode", "", "Tokenization mode: word or char")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
}

// applyFlags copies explicitly set persistent flags over the config.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.Backend, _ = flags.GetString("store")
	}
	if flags.Changed("model") {
		cfg.Model.Name, _ = flags.GetString("model")
	}
	if flags.Changed("degree") {
		cfg.Model.Degree, _ = flags.GetInt("degree")
	}
	if flags.Changed("mode") {
		cfg.Model.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("log-level") {
		cfg.Server.LogLevel, _ = flags.GetString("log-level")
	}
}
