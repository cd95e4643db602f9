// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up.
// It reads DATABASE_URL directly so it can run without the server secret.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/johndoe6345789/pyracms-core/internal/db/migrate"
	"github.com/johndoe6345789/pyracms-core/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	dsn := flag.String("db", "", "Postgres DSN (overrides DATABASE_URL)")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	log := logger.New(v.GetString("LOG_LEVEL"), v.GetString("APP_ENV"), os.Stderr)

	url := *dsn
	if url == "" {
		url = v.GetString("DATABASE_URL")
	}
	if url == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env or pass --db")
	}

	if *direction == "version" {
		printVersion(log, url)
		return
	}
	if err := migrate.Run(url, *direction, migrate.WithLogger(log)); err != nil {
		log.Fatal().Err(err).Str("direction", *direction).Msg("migrate failed")
	}
	printVersion(log, url)
}

func printVersion(log zerolog.Logger, url string) {
	version, dirty, err := migrate.Version(url)
	if err != nil {
		log.Fatal().Err(err).Msg("read schema version")
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
}
