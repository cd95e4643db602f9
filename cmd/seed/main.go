// seed creates the initial admin account in the Postgres user store.
// Idempotent: an existing username or email is reported and left alone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/johndoe6345789/pyracms-core/internal/config"
	"github.com/johndoe6345789/pyracms-core/internal/db"
	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/logger"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessionrepo "github.com/johndoe6345789/pyracms-core/internal/session/repository"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

func main() {
	username := flag.String("username", "admin", "Admin username")
	email := flag.String("email", "admin@example.com", "Admin email")
	password := flag.String("password", "", "Admin password (prompted when empty)")
	dsn := flag.String("db", "", "Postgres DSN (overrides DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dsn != "" {
		cfg.DatabaseURL = *dsn
	}
	log := logger.New(cfg.LogLevel, cfg.Env, os.Stderr)
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env or pass --db")
	}

	pw := *password
	if pw == "" {
		pw, err = promptPassword()
		if err != nil {
			log.Fatal().Err(err).Msg("read password")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	hasher, err := security.NewHasher(cfg.HasherConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("hasher")
	}
	tokenCfg, err := cfg.TokenConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("token config")
	}
	tokens, err := security.NewTokenProvider(tokenCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tokens")
	}
	keyer, err := security.NewSessionKeyer([]byte(cfg.ServerSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("session keyer")
	}
	// Seeding never logs in, so sessions stay in memory.
	auth, err := service.NewAuthService(userrepo.NewPostgresRepository(conn), hasher, tokens,
		session.NewManager(sessionrepo.NewMemoryStore(), keyer), service.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	u, err := auth.Register(ctx, *username, *email, pw)
	switch {
	case errors.Is(err, userrepo.ErrUserExists):
		log.Info().Str("username", *username).Msg("admin user already exists; nothing to do")
	case err != nil:
		log.Fatal().Err(err).Msg("create admin user")
	default:
		log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("admin user created")
	}
}

// promptPassword reads the password twice from the terminal without echo.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass -password")
	}
	fmt.Fprint(os.Stderr, "Admin password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	pw := strings.TrimRight(string(first), "\r\n")
	if pw == "" {
		return "", errors.New("password must not be empty")
	}
	return pw, nil
}
