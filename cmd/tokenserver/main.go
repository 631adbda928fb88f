package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sebas/agentphone/internal/banner"
	"github.com/sebas/agentphone/internal/logger"
	"github.com/sebas/agentphone/internal/tokenserver"
)

func main() {
	configPath := flag.String("config", "", "Path to tokenserver.yaml (searched in . and ./configs when empty)")
	flag.Parse()

	logger.InitLogger(os.Stdout)

	cfg, err := tokenserver.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	banner.Print(os.Stdout, "TOKEN SERVER", []banner.ConfigLine{
		{Label: "Port", Value: strconv.Itoa(cfg.Port)},
		{Label: "Issuer", Value: cfg.Issuer},
		{Label: "Token TTL", Value: cfg.TTL.String()},
		{Label: "Agents", Value: strconv.Itoa(len(cfg.Agents))},
		{Label: "Configured", Value: strconv.FormatBool(cfg.Configured())},
	})

	srv := tokenserver.NewServer(cfg)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Warn("Shutdown incomplete", "error", err)
	}
}
