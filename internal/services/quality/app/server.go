// Package server wires the qualityhub runtime: HTTP API, gRPC health and the
// project index refresher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/qualityhub/internal/platform/auth"
	"github.com/louisbranch/qualityhub/internal/platform/timeouts"
	"github.com/louisbranch/qualityhub/internal/services/quality/api/httpapi"
	"github.com/louisbranch/qualityhub/internal/services/quality/component"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/exchange"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage/sqlite"
)

// HealthService is the gRPC health name reported for the API.
const HealthService = "qualityhub.api"

// Config configures a server.
type Config struct {
	HTTPAddr                   string
	GRPCAddr                   string
	DBPath                     string
	AuthKey                    []byte
	IndexRefresh               time.Duration
	AllowDisableInheritedRules bool
}

// Server hosts the HTTP API and the gRPC health service over one store.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	store        *sqlite.Store
	index        *projectindex.Index
	refresh      time.Duration
}

// New opens the store, loads the project index and binds both listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	index := projectindex.New(store)
	if err := index.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load project index: %w", err)
	}
	log.Printf("project index loaded with %d projects", index.Len())

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	profiles := qualityprofile.NewService(store, qualityprofile.Config{
		AllowDisableInheritedRules: cfg.AllowDisableInheritedRules,
	})
	backups := backup.NewService(store, profiles)
	handler := httpapi.NewHandler(auth.Config{Key: cfg.AuthKey}, httpapi.Services{
		Components: component.NewService(store, index),
		Rules:      rule.NewService(store),
		Profiles:   profiles,
		Backups:    backups,
		Exchange:   exchange.NewService(profiles, backups),
	})

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpListener: httpListener,
		grpcListener: grpcListener,
		httpServer:   &http.Server{Handler: handler, ReadHeaderTimeout: timeouts.ReadHeader},
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		index:        index,
		refresh:      cfg.IndexRefresh,
	}, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC health address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates a server and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP server, the gRPC health server and the index refresher
// until ctx ends or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("http api listening at %v", s.httpListener.Addr())
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("grpc health listening at %v", s.grpcListener.Addr())
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.index.Run(gctx, s.refresh)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http api: %v", err)
		}
		s.grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	for _, l := range []net.Listener{s.httpListener, s.grpcListener} {
		if l != nil {
			_ = l.Close()
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close qualityhub store: %v", err)
		}
	}
}

// OpenStore opens the SQLite store at path, creating its directory.
func OpenStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open qualityhub sqlite store: %w", err)
	}
	return store, nil
}
