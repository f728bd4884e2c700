package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/munch/internal/engine"
	"github.com/user/munch/internal/mcp"
	"github.com/user/munch/internal/server"
	"github.com/user/munch/internal/store"
	"github.com/user/munch/pkg/llm"
	"github.com/user/munch/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the munch web server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Chat history store
	chats := store.NewHistoryStore(cfg.DataDir)

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	// History window
	window, err := engine.NewWindow(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create history window: %w", err)
	}

	// Tool connection manager
	manager, err := mcp.NewManager(mcp.Config{
		BaseURL:      cfg.MCP.BaseURL,
		Transport:    cfg.MCP.Transport,
		CallbackPort: cfg.MCP.CallbackPort,
		AuthTimeout:  time.Duration(cfg.MCP.AuthTimeoutSecs) * time.Second,
		DataDir:      cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	// Orchestration engine
	eng := engine.New(provider, manager, chats, window, cfg.MaxToolRounds, cfg.ResultLimit)

	srv := server.NewServer(eng, manager, chats, cfg.HTTP.StaticDir)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv,
	}

	go func() {
		slog.Info("munch started",
			"listen", cfg.HTTP.Listen,
			"data_dir", cfg.DataDir,
			"log_level", cfg.LogLevel,
			"llm_model", cfg.LLM.Model,
			"mcp_url", cfg.MCP.BaseURL,
			"mcp_transport", cfg.MCP.Transport,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	manager.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
