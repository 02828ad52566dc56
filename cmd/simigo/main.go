// Command simigo runs the image similarity HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/simigo"
	"github.com/hupe1980/simigo/config"
	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/fetch"
	"github.com/hupe1980/simigo/httpd"
	"github.com/hupe1980/simigo/imagestore"
	"github.com/hupe1980/simigo/resource"
	"github.com/hupe1980/simigo/store"
)

func main() {
	var (
		cfgPath string
		debug   bool
	)

	flag.StringVar(&cfgPath, "config", "simigo.yaml", "path to YAML config file (optional)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := simigo.NewTextLogger(level)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *simigo.Logger) error {
	ctx := context.Background()

	images, err := newImageStore(cfg)
	if err != nil {
		return fmt.Errorf("image store: %w", err)
	}

	cache, err := store.NewCache(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("vector cache: %w", err)
	}

	extractor, err := feature.NewHistogramExtractor()
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}

	finder, err := simigo.New(images, extractor,
		simigo.WithLogger(logger),
		simigo.WithMetricsCollector(&simigo.BasicMetricsCollector{}),
		simigo.WithBaseURL(cfg.BaseURL),
		simigo.WithRequestTTL(cfg.RequestTTL()),
		simigo.WithVectorCache(cache),
		simigo.WithResourceController(resource.NewController(resource.Config{
			MaxWorkers: int64(cfg.MaxWorkers),
		})),
		simigo.WithFetcher(fetch.New(func(o *fetch.Options) {
			o.Timeout = cfg.FetchTimeout()
		})),
	)
	if err != nil {
		return err
	}

	logger.Info("loading feature store", "images_dir", cfg.ImagesDir)

	if err := finder.RefreshStore(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	stats := finder.Stats()
	logger.Info("feature store loaded", "entries", stats.StoreEntries)

	sched := simigo.NewScheduler(finder, func(o *simigo.SchedulerOptions) {
		o.SweepInterval = cfg.SweepInterval()
		o.RefreshInterval = cfg.RefreshInterval()
	})

	sched.Start()
	defer func() { _ = sched.Close() }()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpd.New(finder, images, func(o *httpd.Options) {
			o.Logger = logger.Logger
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("listening", "addr", cfg.Addr, "base_url", cfg.BaseURL)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func newImageStore(cfg *config.Config) (imagestore.Store, error) {
	switch cfg.Store.Type {
	case "local", "":
		return imagestore.NewLocalStore(cfg.ImagesDir)
	case "minio":
		mc := cfg.Store.Minio

		accessKey := os.Getenv(mc.AccessKeyEnv)
		secretKey := os.Getenv(mc.SecretKeyEnv)

		client, err := minio.New(mc.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: mc.UseSSL,
		})
		if err != nil {
			return nil, err
		}

		return imagestore.NewMinioStore(client, mc.Bucket, mc.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}
