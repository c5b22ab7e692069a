// Package main runs the order processing service: it receives blob
// notifications for order files, joins the three parts of each order and
// drives the merge, persist and cleanup steps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/kevingbb/processorders/config"
	"github.com/kevingbb/processorders/service"
)

// Build information, overridden with -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "processorders"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		fmt.Println(cfg.String())
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting order processing service",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, service.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service stopped with errors: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range cliCfg.ConfigPaths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.ShutdownTimeout > 0 {
		cfg.Service.ShutdownTimeout = config.Duration(cliCfg.ShutdownTimeout)
	}
	return cfg, nil
}
