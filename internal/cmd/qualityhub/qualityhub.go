// Package qualityhub parses server flags and launches the qualityhub server.
package qualityhub

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/louisbranch/qualityhub/internal/platform/auth"
	entrypoint "github.com/louisbranch/qualityhub/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/qualityhub/internal/platform/grpc"
	server "github.com/louisbranch/qualityhub/internal/services/quality/app"
)

// Config holds qualityhub command configuration.
type Config struct {
	HTTPAddr                   string        `env:"QUALITYHUB_HTTP_ADDR" envDefault:":9000"`
	GRPCHealthPort             int           `env:"QUALITYHUB_GRPC_HEALTH_PORT" envDefault:"9001"`
	DBPath                     string        `env:"QUALITYHUB_DB_PATH" envDefault:"data/qualityhub.db"`
	AuthHMACKey                string        `env:"QUALITYHUB_AUTH_HMAC_KEY"`
	IndexRefresh               time.Duration `env:"QUALITYHUB_INDEX_REFRESH" envDefault:"1m"`
	AllowDisableInheritedRules bool          `env:"QUALITYHUB_ALLOW_DISABLE_INHERITED_RULES" envDefault:"true"`

	// HealthCheck probes a running server instead of starting one.
	HealthCheck bool
	HealthWait  time.Duration
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP API listen address")
	fs.IntVar(&cfg.GRPCHealthPort, "grpc-port", cfg.GRPCHealthPort, "gRPC health server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.DurationVar(&cfg.IndexRefresh, "index-refresh", cfg.IndexRefresh, "project index reload interval (0 disables)")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "probe the gRPC health of a running server and exit")
	fs.DurationVar(&cfg.HealthWait, "healthcheck-timeout", 3*time.Second, "how long -healthcheck waits for SERVING")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// serverConfig validates cfg and converts it for the server.
func (cfg Config) serverConfig() (server.Config, error) {
	key, err := auth.ParseKey(cfg.AuthHMACKey)
	if err != nil {
		return server.Config{}, err
	}
	if key == nil {
		log.Printf("QUALITYHUB_AUTH_HMAC_KEY is not set; every request is anonymous")
	}
	if cfg.GRPCHealthPort <= 0 {
		return server.Config{}, fmt.Errorf("grpc health port must be positive, got %d", cfg.GRPCHealthPort)
	}
	return server.Config{
		HTTPAddr:                   cfg.HTTPAddr,
		GRPCAddr:                   fmt.Sprintf(":%d", cfg.GRPCHealthPort),
		DBPath:                     cfg.DBPath,
		AuthKey:                    key,
		IndexRefresh:               cfg.IndexRefresh,
		AllowDisableInheritedRules: cfg.AllowDisableInheritedRules,
	}, nil
}

// Run starts the server, or probes one with -healthcheck.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.HealthWait)
		defer cancel()
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.GRPCHealthPort))
		return platformgrpc.Probe(probeCtx, addr, server.HealthService, log.Printf)
	}
	serverCfg, err := cfg.serverConfig()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceQualityHub, func(ctx context.Context) error {
		return server.Run(ctx, serverCfg)
	})
}
