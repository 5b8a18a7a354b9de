package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/broadcast"
	"github.com/park285/Cheese-PvP-Server/internal/clock"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/httpapi"
	"github.com/park285/Cheese-PvP-Server/internal/identity"
	"github.com/park285/Cheese-PvP-Server/internal/invite"
	"github.com/park285/Cheese-PvP-Server/internal/msgcat"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
	"github.com/park285/Cheese-PvP-Server/internal/results"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/internal/sweeper"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server_exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	st, rdb, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	closers = append(closers, st)
	if rdb != nil && cfg.StoreDriver != "redis" {
		closers = append(closers, rdb)
	}

	sinks := []results.Sink{results.LogSink{Log: logger}}
	if cfg.DatabaseURL != "" {
		archive, err := results.OpenArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("results archive: %w", err)
		}
		closers = append(closers, archive)
		sinks = append(sinks, archive)
	}
	if rdb != nil && cfg.ResultsStream != "" {
		sinks = append(sinks, results.NewStream(rdb, cfg.ResultsStream))
	}
	publisher := results.NewPublisher(sinks, results.WithLogger(logger))

	cat, err := msgcat.New(cfg.MsgcatDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}
	base, inc, err := clock.ParseTimeControl(cfg.TimeControl)
	if err != nil {
		return err
	}

	gw := broadcast.NewGateway(logger)
	coord := coordinator.New(st, coordinator.Settings{
		Timing:                cfg.Timing,
		DefaultTimeControl:    game.TimeControl{Base: base, Increment: inc},
		AutoResumeOnReconnect: cfg.AutoResumeOnReconnect,
		MaxReceipts:           cfg.MaxReceipts,
	},
		coordinator.WithBroadcaster(gw),
		coordinator.WithConcluder(publisher),
		coordinator.WithCatalog(cat),
		coordinator.WithLogger(logger),
	)

	ids, err := resolver(cfg)
	if err != nil {
		return err
	}
	opts := []httpapi.Option{
		httpapi.WithCatalog(cat),
		httpapi.WithLogger(logger),
		httpapi.WithAdminKeys(cfg.AdminAPIKeys...),
		httpapi.WithWSOptions(broadcast.WSOptions{
			SendTimeout:  cfg.Timing.SendTimeout,
			PingInterval: 30 * time.Second,
			Logger:       logger,
		}),
	}
	if rdb != nil {
		opts = append(opts, httpapi.WithInvites(invite.NewManager(rdb, coord, invite.WithLogger(logger))))
	}
	api := httpapi.New(coord, gw, ids, opts...)

	if n, err := coord.RepublishConclusions(ctx); err != nil {
		logger.Warn("startup_republish_failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("startup_republished", zap.Int("count", n))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sw := sweeper.New(st, coord, cfg.Timing, sweeper.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server_listen", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := sw.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		gw.CloseAll()
		coord.Wait()
		logger.Info("server_stopped")
		return err
	})
	return g.Wait()
}

// openStore opens the configured session store. The redis client is also
// returned when REDIS_URL is set so invites and the results stream can use
// it with any driver.
func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, *redis.Client, error) {
	switch cfg.StoreDriver {
	case "redis":
		r, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Client(), nil
	case "memory":
		rdb, err := optionalRedis(cfg)
		return store.NewMemory(), rdb, err
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		rdb, err := optionalRedis(cfg)
		if err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, rdb, nil
	}
}

func optionalRedis(cfg *appcfg.AppConfig) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := store.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func resolver(cfg *appcfg.AppConfig) (identity.Resolver, error) {
	var chain identity.Chain
	if cfg.IdentityStaticTokens != "" {
		static, err := identity.ParseStaticTokens(cfg.IdentityStaticTokens)
		if err != nil {
			return nil, err
		}
		chain = append(chain, static)
	}
	if cfg.IdentityBaseURL != "" {
		chain = append(chain, identity.NewRemote(cfg.IdentityBaseURL))
	}
	return chain, nil
}
