package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/conorfennell/recalldeck/internal/access"
	"github.com/conorfennell/recalldeck/internal/cards"
	"github.com/conorfennell/recalldeck/internal/config"
	"github.com/conorfennell/recalldeck/internal/logger"
	"github.com/conorfennell/recalldeck/internal/stats"
	"github.com/conorfennell/recalldeck/internal/store"
	"github.com/conorfennell/recalldeck/internal/web"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	st, err := store.OpenSQLite(cfg.Store.DSN)
	if err != nil {
		log.Fatalw("failed to open store", "dsn", cfg.Store.DSN, "error", err)
	}
	defer st.Close()
	log.Infow("store opened", "dsn", cfg.Store.DSN)

	repo := cards.NewRepository(st, log)
	resolver := access.NewResolver(repo, log)
	server := web.NewServer(repo, resolver, stats.NewLogSink(log), cfg.Session, log)

	log.Infow("listening", "addr", cfg.Server.Addr)
	if err := server.Run(cfg.Server.Addr); err != nil {
		log.Fatalw("server exited", "error", err)
	}
}
