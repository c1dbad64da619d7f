// Package seed parses seed flags and loads a catalog file into the database.
package seed

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	entrypoint "github.com/louisbranch/qualityhub/internal/platform/cmd"
	server "github.com/louisbranch/qualityhub/internal/services/quality/app"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/seed"
)

// Config holds seed command configuration.
type Config struct {
	DBPath   string `env:"QUALITYHUB_DB_PATH" envDefault:"data/qualityhub.db"`
	SeedFile string `env:"QUALITYHUB_SEED_FILE" envDefault:"data/seed.yaml"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.SeedFile, "file", cfg.SeedFile, "YAML seed file")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.SeedFile) == "" {
		return Config{}, fmt.Errorf("seed file is required")
	}
	return cfg, nil
}

// Run applies the seed file and prints what was loaded to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(ctx context.Context) error {
		store, err := server.OpenStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		profiles := qualityprofile.NewService(store, qualityprofile.Config{})
		summary, err := seed.LoadFile(ctx, store, profiles, cfg.SeedFile)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out,
			"seeded %s: metrics=%d rules=%d components=%d measures=%d analyses=%d favorites=%d profiles=%d changes=%d\n",
			cfg.SeedFile, summary.Metrics, summary.Rules, summary.Components, summary.Measures,
			summary.Analyses, summary.Favorites, summary.Profiles, summary.Changes)
		return err
	})
}
