// Worker purges expired sessions from the Postgres session store. Run one
// instance next to servers that use SESSION_BACKEND=postgres so sweeping does
// not depend on any single API process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/johndoe6345789/pyracms-core/internal/config"
	"github.com/johndoe6345789/pyracms-core/internal/db"
	"github.com/johndoe6345789/pyracms-core/internal/logger"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessionrepo "github.com/johndoe6345789/pyracms-core/internal/session/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.Env, os.Stdout)
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: open database")
	}
	defer conn.Close()

	keyer, err := security.NewSessionKeyer([]byte(cfg.ServerSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("worker: session keyer")
	}
	manager := session.NewManager(sessionrepo.NewPostgresStore(conn), keyer)

	interval := cfg.SessionSweepInterval()
	log.Info().Dur("interval", interval).Msg("worker: sweeping expired sessions")
	manager.RunSweeper(ctx, interval, log, func(n int) {
		if n > 0 {
			log.Info().Int("removed", n).Msg("worker: sweep pass")
		}
	})
	log.Info().Msg("worker: stopped")
}
