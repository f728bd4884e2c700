package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/user/munch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "munch",
	Short: "Munch: a chat-driven food ordering assistant",
	Long:  "Munch bridges a browser chat UI, an OpenAI-compatible model, and a remote food ordering tool service.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env next to the binary is a convenience for local runs;
		// missing is fine.
		godotenv.Load()
	},
}

func init() {
	defaultCfg := filepath.Join(os.Getenv("HOME"), ".munch", "config.json")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "config file path")
}

// loadConfig loads the config file, exiting on failure. Commands that cannot
// run without config call this instead of handling the error individually.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
