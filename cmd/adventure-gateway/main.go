// ABOUTME: Entry point for the adventure-gateway server
// ABOUTME: Runs the session service and admin maintenance commands

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/adventure-gateway/internal/config"
	"github.com/2389/adventure-gateway/internal/gateway"
	"github.com/2389/adventure-gateway/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: adventure-gateway <command> [flags]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the adventure gateway")
		fmt.Println("  status    Show cached session counts")
		fmt.Println("  clear     Delete every cached session")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "clear":
		err = runClear(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the -config flag from args and loads the file.
func loadConfig(name string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func runServe(ctx context.Context, args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)

	gw, err := gateway.New(cfg, slog.Default())
	if err != nil {
		return err
	}
	return gw.Run(ctx)
}

func runStatus(ctx context.Context, args []string) error {
	cfg, err := loadConfig("status", args)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Printf("Sessions: %d\n", stats.Total)
	green.Printf("  active: %d\n", stats.Active)
	yellow.Printf("  paused: %d\n", stats.Paused)
	if !stats.Oldest.IsZero() {
		fmt.Printf("  oldest: %s\n", stats.Oldest.Format("2006-01-02 15:04"))
	}
	return nil
}

func runClear(ctx context.Context, args []string) error {
	cfg, err := loadConfig("clear", args)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := st.ClearAll(ctx)
	if err != nil {
		return err
	}

	color.Green("Cleared %d session(s)\n", count)
	return nil
}

// setupLogging configures the default slog logger from config.
func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
