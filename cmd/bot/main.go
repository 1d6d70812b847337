package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	adapterhttp "github.com/dchu3/base-mcp-bot/adapter/http"
	"github.com/dchu3/base-mcp-bot/internal/config"
	"github.com/dchu3/base-mcp-bot/internal/core"
	"github.com/dchu3/base-mcp-bot/internal/logging"
	"github.com/dchu3/base-mcp-bot/internal/planner"
)

var (
	userKey string
	logger  *zap.Logger
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "An agentic tool-orchestration bot",
	Long: `bot runs a Planning/Executing agentic loop over a pool of MCP-style
tool servers, backed by a pluggable LLM bridge and a persistent
conversation store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		var err error
		logger, err = logging.New(cfg.LogLevel, cfg.LogDev)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Run a single message through the agentic loop and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  serve,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget a user's conversation history",
	RunE:  clearSession,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userKey, "user", "cli", "user key identifying the conversation")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	defer c.Shutdown(ctx)

	message := args[0]
	for _, a := range args[1:] {
		message += " " + a
	}

	result, err := c.Ask(ctx, userKey, message)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Println(result.AssistantText)
	if result.TerminalState != planner.StateDone {
		fmt.Fprintf(os.Stderr, "run ended in state %q after %d tool call(s)\n", result.TerminalState, len(result.ToolCallsMade))
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	server := adapterhttp.NewServer(c)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("starting http server", zap.String("addr", addr))
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown reported an error", zap.Error(err))
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Warn("core shutdown reported an error", zap.Error(err))
	}

	logger.Info("stopped")
	return nil
}

func clearSession(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	defer c.Shutdown(ctx)

	if err := c.Clear(ctx, userKey); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	fmt.Printf("cleared conversation history for %q\n", userKey)
	return nil
}
