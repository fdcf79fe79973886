package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wfunc/babyfoot/archive"
	"github.com/wfunc/babyfoot/auth"
	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/config"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/monitor"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/rpc"
	"github.com/wfunc/babyfoot/server"
	"github.com/wfunc/babyfoot/services"
	"github.com/wfunc/babyfoot/session"
	"github.com/wfunc/babyfoot/tournament"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Log.Development)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Store
	hub := broadcast.NewHub()
	store, closeStore, err := openStore(ctx, cfg, hub)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()
	logger.Log.Infof("Using %s store.", cfg.Store.Driver)

	// Initialize services
	mon := monitor.NewMonitor("babyfoot")
	sessions := session.NewManager(store, session.Options{
		TTL:         cfg.Session.TTL,
		PinAttempts: cfg.Session.PinAttempts,
	})
	games := game.NewEngine(store, game.Options{WinMargin: cfg.Game.WinMargin})
	tournaments := tournament.NewScheduler(store, tournament.Options{
		Points: tournament.PointsTable{
			Win:  cfg.Tournament.Points.Win,
			Draw: cfg.Tournament.Points.Draw,
			Loss: cfg.Tournament.Points.Loss,
		},
		PinAttempts: cfg.Session.PinAttempts,
		Games:       games,
	})
	coordinator := services.NewCoordinator(sessions, games, tournaments, mon)
	if cfg.Archive.Bucket != "" {
		sink, err := archive.NewS3Sink(ctx, archive.S3Options{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			logger.Log.Fatalf("Failed to init archive: %v", err)
		}
		coordinator.SetArchiver(archive.New(sink))
		logger.Log.Infof("Archiving finished games to s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	if err := sessions.StartSweeper(cfg.Session.SweepInterval); err != nil {
		logger.Log.Fatalf("Failed to start session sweeper: %v", err)
	}
	defer sessions.StopSweeper()

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret)
	} else {
		logger.Log.Warn("auth.jwt_secret not set, trusting X-User-ID headers from the gateway")
	}

	// Start Servers
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, coordinator, store, verifier)
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewService(coordinator, store, verifier))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           mon.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gameServer.Start)
	g.Go(rpcServer.Start)
	g.Go(func() error {
		logger.Log.Infof("Metrics listening on %s", cfg.Server.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rpcServer.Stop()
		return errors.Join(
			gameServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
	}
}

// openStore builds the configured store. The returned close func releases
// the store and any change listener.
func openStore(ctx context.Context, cfg *config.Config, hub *broadcast.Hub) (persistence.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory", "":
		store := persistence.NewMemoryStore(hub)
		return store, func() { store.Close() }, nil

	case "postgres":
		pg := cfg.Store.Postgres
		dsn := persistence.PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)
		store, err := persistence.OpenGormStore(dsn, hub)
		if err != nil {
			return nil, nil, err
		}
		if !pg.Listen {
			return store, func() { store.Close() }, nil
		}
		listener, err := persistence.NewNotifyListener(dsn, store, hub)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, func() {
			listener.Close()
			store.Close()
		}, nil

	case "redis":
		store, err := persistence.OpenRedisStore(ctx, cfg.Store.Redis.URL, hub)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
