// Command assistant-gateway serves the text chat and voice assistant API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

var version = "dev"

func newRootCmd(deps serveDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant-gateway",
		Short:         "Chat and voice assistant gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd(deps)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newMigrateCmd(deps))
	return root
}

// loadEnv reads .env without overriding variables already set. A missing
// file is not an error.
func loadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps serveDeps) int {
	if err := loadEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "assistant-gateway: %v\n", err)
		return 1
	}
	deps.stderr = stderr
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "assistant-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultServeDeps()))
}
