package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/go_cart/cart-sync/internal/cache"
	"github.com/fjod/go_cart/cart-sync/internal/config"
	"github.com/fjod/go_cart/cart-sync/internal/gateway"
	h "github.com/fjod/go_cart/cart-sync/internal/http"
	"github.com/fjod/go_cart/cart-sync/internal/logger"
	"github.com/fjod/go_cart/cart-sync/internal/metrics"
	"github.com/fjod/go_cart/cart-sync/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer zl.Sync()

	recorder := metrics.NewRecorder()

	rest, err := gateway.NewRESTGateway(gateway.Config{
		BaseURL:            cfg.Backend.BaseURL,
		AuthToken:          cfg.Backend.AuthToken,
		Timeout:            cfg.Backend.Timeout,
		RateLimit:          cfg.Backend.RateLimit,
		RateBurst:          cfg.Backend.RateBurst,
		BreakerMaxFailures: cfg.Backend.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Backend.BreakerOpenTimeout,
		DefaultMaxPerOrder: cfg.Backend.DefaultMaxPerOrder,
	}, gateway.WithLogger(zl), gateway.WithObserver(recorder))
	if err != nil {
		return fmt.Errorf("create cart gateway: %w", err)
	}

	var gw gateway.Gateway = rest
	if cfg.Cache.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		zl.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
		gw = gateway.NewCachingGateway(gw, cache.NewRedisCache(redisClient, cfg.Cache.TTL), cfg.Cache.SessionID, zl)
	}

	controller := service.NewCartController(gw,
		service.WithLogger(zl),
		service.WithMetrics(recorder),
		service.WithDebounceDelay(cfg.Cart.DebounceDelay),
		service.WithCommitTimeout(cfg.Cart.CommitTimeout),
		service.WithReadTimeout(cfg.Cart.ReadTimeout),
	)
	defer controller.Dispose()

	if err := controller.Load(context.Background()); err != nil {
		return err
	}

	cartHandler := h.NewCartHandler(controller, cfg.Cart.ReadTimeout, zl)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      h.NewRouter(cartHandler, recorder.Handler(), zl),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	// event streams never finish on their own; end them when shutdown starts
	streamCtx, stopStreams := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return streamCtx }
	srv.RegisterOnShutdown(stopStreams)

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("cart-sync starting", zap.String("port", cfg.HTTP.Port), zap.String("backend", cfg.Backend.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	zl.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zl.Info("server exited")
	return nil
}
