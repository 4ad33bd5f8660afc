package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/clinton-khozah/website-sub002/internal/config"
	"github.com/clinton-khozah/website-sub002/internal/logger"
)

// Applies the session/payment schema. Usage: migrate [up|down],
// defaulting to up.
func main() {
	log := logger.New("info", "console")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.DBUrl == "" {
		log.Fatal().Msg("DB_URL is required")
	}

	migrationsPath, err := locateMigrations()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	m, err := migrate.New("file://"+migrationsPath, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationsPath).Msg("Failed to open migrations")
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "down":
		err = m.Down()
	case "up":
		err = m.Up()
	default:
		log.Fatal().Str("direction", direction).Msg("Unknown direction, want up or down")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("Schema already current")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("direction", direction).Msg("Migration failed")
	}
	log.Info().Str("direction", direction).Msg("Migration applied")
}

// locateMigrations walks up from the working directory, then falls
// back to the binary's directory, looking for the migrations folder.
func locateMigrations() (string, error) {
	var roots []string
	if cwd, err := os.Getwd(); err == nil {
		dir := cwd
		for {
			roots = append(roots, dir)
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		roots = append(roots, exeDir, filepath.Dir(exeDir))
	}

	for _, root := range roots {
		candidate := filepath.Join(root, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
