// Command tearoomd serves the comment REST API backed by PostgreSQL and Redis.
// It is the local stand-in the tea-room client talks to during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/teahouse/tearoom/api"
	"github.com/teahouse/tearoom/internal/validator"
	"github.com/teahouse/tearoom/postgres"
	"github.com/teahouse/tearoom/redis"
)

const version = "0.1.0"

func main() {
	fmt.Println(color.YellowString(" _                                   \n| |_ ___  __ _ _ __ ___   ___  _ __ ___\n| __/ _ \\/ _` | '__/ _ \\ / _ \\| '_ ` _ \\\n| ||  __/ (_| | | | (_) | (_) | | | | | |\n \\__\\___|\\__,_|_|  \\___/ \\___/|_| |_| |_|"))
	fmt.Printf("%s v%s\n", color.New(color.FgHiYellow).Add(color.Bold).Sprintf("tearoomd"), version)
	color.HiBlack("=========================================\n")

	cfg, err := loadConfig(viper.New(), ".", "..")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	logger.Info("Connected to PostgreSQL")

	rd, err := redis.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rd.Close()
	logger.Info("Connected to Redis", "addr", cfg.RedisAddr)

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: &api.API{
			Logger: logger,
			DB:     pg,
			Likes:  rd,
			Val:    validator.New(),
		},
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
