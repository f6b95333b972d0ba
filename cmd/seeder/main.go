// cmd/seeder/main.go
package main

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/config"
	"github.com/unclebandit/wa-campaign-dispatch/internal/db"
	"github.com/unclebandit/wa-campaign-dispatch/internal/logger"
)

//go:embed seed/*.sql
var seedFS embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database unavailable")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	seedFiles, err := fs.Glob(seedFS, "seed/*.sql")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list seed files")
	}
	sort.Strings(seedFiles)

	for _, file := range seedFiles {
		content, err := seedFS.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("Seeded")
	}

	log.Info().Msg("Database seeding completed successfully!")
}
