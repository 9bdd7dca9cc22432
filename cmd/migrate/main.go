package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voice-crm/internal/config"
	"voice-crm/migrations"
	"voice-crm/pkg/logger"
	"voice-crm/pkg/utils"

	"github.com/pressly/goose/v3"
)

// migrate applies the embedded schema. Usage: migrate [up|down|status|version].
func main() {
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Error("goose dialect", "err", err)
		os.Exit(1)
	}

	if err := goose.RunContext(ctx, command, db, "."); err != nil {
		log.Error("migration failed", "command", command, "err", err)
		os.Exit(1)
	}
	log.Info("migration finished", "command", command)
}
