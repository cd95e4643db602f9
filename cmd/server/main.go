// Server runs the identity service: the JSON HTTP API, the gRPC AuthService
// and the background session sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/common-nighthawk/go-figure"

	"github.com/johndoe6345789/pyracms-core/internal/config"
	"github.com/johndoe6345789/pyracms-core/internal/logger"
)

const appName = "pyracms"

func main() {
	host := flag.String("host", "", "HTTP listen host (overrides HTTP_ADDR host)")
	port := flag.Int("port", 0, "HTTP listen port (overrides HTTP_ADDR port)")
	dbURL := flag.String("db", "", "Postgres DSN (overrides DATABASE_URL)")
	flag.Parse()

	displayAppname(appName)

	cfg, err := config.Load()
	if err == nil {
		err = applyFlags(cfg, *host, *port, *dbURL)
	}
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "fatal configuration error:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Env, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			log.Error().Err(err).Msg("fatal configuration error")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// applyFlags lets --host, --port and --db override the environment, then
// revalidates.
func applyFlags(cfg *config.Config, host string, port int, dbURL string) error {
	if host != "" || port != 0 {
		h, p, err := net.SplitHostPort(cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("config: HTTP_ADDR %q: %w", cfg.HTTPAddr, err)
		}
		if host != "" {
			h = host
		}
		if port != 0 {
			p = strconv.Itoa(port)
		}
		cfg.HTTPAddr = net.JoinHostPort(h, p)
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	return cfg.Validate()
}

func displayAppname(name string) {
	f := figure.NewFigure(name, "cybermedium", true)
	f.Print()
	fmt.Println()
}
