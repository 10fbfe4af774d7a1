// Command annserve serves approximate-nearest-neighbor queries over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/annserve"
	"github.com/hupe1980/annserve/blobstore"
	minioblob "github.com/hupe1980/annserve/blobstore/minio"
	s3blob "github.com/hupe1980/annserve/blobstore/s3"
	"github.com/hupe1980/annserve/loader"
	"github.com/hupe1980/annserve/resource"
	"github.com/hupe1980/annserve/server"
	"github.com/hupe1980/annserve/vectorsource"
	"github.com/hupe1980/annserve/watcher"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "/etc/annserve/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "config file path")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "annserve: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	ctrl := resource.NewController(resource.Config{
		MaxConcurrentRefreshes: cfg.Limits.MaxConcurrentRefreshes,
		DownloadBytesPerSec:    cfg.Limits.DownloadBytesPerSec,
	})

	l := loader.NewTarLoader(store, cfg.ArtifactKeys(),
		loader.WithScratchDir(cfg.ScratchDir),
		loader.WithController(ctrl),
		loader.WithLogger(logger.Logger),
	)

	registry := annserve.NewRegistry(l,
		annserve.WithLogger(logger),
		annserve.WithResourceController(ctrl),
		annserve.WithMetricsCollector(&annserve.BasicMetricsCollector{}),
	)
	defer registry.Close()

	logger.Info("loading indexes", "count", len(cfg.Indexes))
	start := time.Now()
	g, loadCtx := errgroup.WithContext(ctx)
	g.SetLimit(int(cfg.Limits.MaxConcurrentRefreshes))
	for _, name := range cfg.IndexNames() {
		g.Go(func() error {
			return registry.Add(loadCtx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	logger.Info("indexes loaded", "count", len(cfg.Indexes), "elapsed", time.Since(start))

	engineOpts := []annserve.Option{annserve.WithLogger(logger)}
	if fallbacks := cfg.FallbackIndexes(); len(fallbacks) > 0 {
		engineOpts = append(engineOpts, annserve.WithFallbackIndexes(fallbacks))
	}
	if cfg.OOI.Table != "" {
		source, err := newVectorSource(ctx, cfg)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, annserve.WithVectorSource(source))
	}
	engine := annserve.NewEngine(registry, engineOpts...)

	if w := newWatcher(cfg, registry, store, logger); w != nil {
		go func() {
			if err := w.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(registry, engine,
		server.WithLogger(logger),
		server.WithScratchDir(cfg.ScratchDir),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Listen); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func newLogger(cfg *Config) (*annserve.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	if cfg.LogFormat == "json" {
		return annserve.NewJSONLogger(level), nil
	}
	return annserve.NewTextLogger(level), nil
}

func newStore(ctx context.Context, cfg *Config) (blobstore.Store, error) {
	switch cfg.Store.Kind {
	case "local":
		return blobstore.NewLocalStore(cfg.Store.Root), nil
	case "s3":
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Store.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Store.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return s3blob.NewStore(client, cfg.Store.Bucket, cfg.Store.Prefix,
			s3blob.WithSpoolDir(cfg.ScratchDir)), nil
	case "minio":
		client, err := minio.New(cfg.Store.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Store.AccessKey, cfg.Store.SecretKey, ""),
			Secure: cfg.Store.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minioblob.NewStore(client, cfg.Store.Bucket), nil
	default:
		return nil, fmt.Errorf("config: unknown store kind %q", cfg.Store.Kind)
	}
}

func newVectorSource(ctx context.Context, cfg *Config) (vectorsource.Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Store.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Store.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var srcOpts []vectorsource.DynamoOption
	if cfg.OOI.KeyAttr != "" {
		srcOpts = append(srcOpts, vectorsource.WithKeyAttr(cfg.OOI.KeyAttr))
	}
	if cfg.OOI.VectorAttr != "" {
		srcOpts = append(srcOpts, vectorsource.WithVectorAttr(cfg.OOI.VectorAttr))
	}

	source := vectorsource.NewDynamoSource(dynamodb.NewFromConfig(awsCfg), cfg.OOI.Table, srcOpts...)
	return vectorsource.NewCachedSource(source, cfg.OOI.CacheSize)
}

// newWatcher wires up auto refresh, returning nil when nothing is watched.
func newWatcher(cfg *Config, registry *annserve.Registry, store blobstore.Store, logger *annserve.Logger) *watcher.Watcher {
	pollInterval := time.Duration(0)
	for _, idx := range cfg.Indexes {
		if d := time.Duration(idx.PollInterval); d > 0 && (pollInterval == 0 || d < pollInterval) {
			pollInterval = d
		}
	}

	opts := []watcher.Option{watcher.WithLogger(logger)}
	if pollInterval > 0 {
		opts = append(opts, watcher.WithPollInterval(pollInterval))
	}
	w := watcher.New(registry, opts...)

	watching := false
	for name, idx := range cfg.Indexes {
		if idx.Watch {
			path := idx.Artifact
			if cfg.Store.Root != "" {
				path = filepath.Join(cfg.Store.Root, idx.Artifact)
			}
			if err := w.WatchFile(name, path); err != nil {
				logger.Warn("watch disabled", "index", name, "error", err)
				continue
			}
			watching = true
		}
		if idx.PollInterval > 0 {
			if err := w.PollRemote(name, store, idx.Artifact); err != nil {
				logger.Warn("poll disabled", "index", name, "error", err)
				continue
			}
			watching = true
		}
	}
	if !watching {
		return nil
	}
	return w
}
