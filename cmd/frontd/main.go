package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"reporthub.io/internal/audit"
	"reporthub.io/internal/backend"
	"reporthub.io/internal/cache"
	"reporthub.io/internal/config"
	"reporthub.io/internal/httpapi"
	"reporthub.io/internal/obs"
	"reporthub.io/internal/session"
	"reporthub.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "frontd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("frontd", os.Args[1:])
	if err != nil {
		return err
	}

	log := obs.InitLogger(cfg.Log.Level)
	defer func() { _ = obs.Sync() }()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.New(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout), backend.WithLogger(log))
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	probe := httpapi.ReadyProbe{Checks: map[string]httpapi.Pinger{}}

	var snapshots cache.SnapshotCache = cache.NewMemory(nil)
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		snapshots = rc
		probe.Checks["redis"] = rc
		log.Info("snapshot cache backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.PG.DSN != "" {
		store, err := pg.Open(cfg.PG.DSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		audit.SetSink(store)
		probe.Checks["postgres"] = store
		log.Info("audit events persisted to postgres")
	}

	sessionCfg := session.Config{
		Backend:         client,
		Cache:           snapshots,
		CacheTTL:        cfg.Cache.TTL,
		RedirectToLogin: cfg.Session.RedirectToLogin,
		LoginPath:       cfg.Login.Path,
	}
	api := httpapi.New(probe, version, sessionCfg,
		httpapi.WithContext(ctx),
		httpapi.WithRateLimit(cfg.Rate.Burst, cfg.Rate.PerSecond),
		httpapi.WithSecureCookies(cfg.HTTP.SecureCookies),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2*cfg.Backend.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, httpapi.NewGRPCServer(probe, version))
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		api.Sessions().Run(gctx, cfg.Session.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
