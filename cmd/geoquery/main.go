package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/results"
	"github.com/mohammed-shakir/geotemporal-query/internal/catalog"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/health"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/server"
	"github.com/mohammed-shakir/geotemporal-query/internal/decision/simple"
	"github.com/mohammed-shakir/geotemporal-query/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geotemporal-query/internal/logger"
	h3mapper "github.com/mohammed-shakir/geotemporal-query/internal/mapper/h3"
	"github.com/mohammed-shakir/geotemporal-query/internal/metrics"
	"github.com/mohammed-shakir/geotemporal-query/internal/pipeline"
	"github.com/mohammed-shakir/geotemporal-query/internal/service"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	_ "github.com/mohammed-shakir/geotemporal-query/internal/store/ipfs"
	_ "github.com/mohammed-shakir/geotemporal-query/internal/store/local"
	_ "github.com/mohammed-shakir/geotemporal-query/internal/store/s3"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
	"github.com/mohammed-shakir/geotemporal-query/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding the store backend via flag
	backendFlag := flag.String("store", "", "store backend (local, s3, ipfs)")
	flag.Parse()

	cfg := config.FromEnv()
	if *backendFlag != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(*backendFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "geoquery",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting geoquery",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.Store.Backend,
		"result_cache", cfg.ResultCacheEnabled,
		"invalidation", cfg.Invalidation.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.MetricsAddr,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		reg = p.Registerer()
		p.Serve(ctx, appLog)
	}

	opener, err := store.New(cfg.Store, appLog)
	if err != nil {
		appLog.Error("store setup failed", "err", err)
		return 1
	}

	var codec zarr.CodecOptions
	if cfg.Store.EncryptionKey != "" {
		if codec.EncryptionKey, err = zarr.ParseEncryptionKey(cfg.Store.EncryptionKey); err != nil {
			appLog.Error("invalid encryption key", "err", err)
			return 1
		}
	}

	cat, err := catalog.New(opener, catalog.Options{Size: cfg.CatalogSize, TTL: cfg.CatalogTTL, Codec: codec, Logger: appLog})
	if err != nil {
		appLog.Error("catalog setup failed", "err", err)
		return 1
	}

	pipe := pipeline.New(pipeline.Config{
		DefaultPointLimit:     cfg.PointLimit,
		SkipMissingTimestamps: cfg.SkipMissingTimestamps,
		RequireData:           cfg.RequireData,
	}, appLog)

	var resultCache cache.Interface = cache.Noop{}
	var ready []health.Component
	if cfg.ResultCacheEnabled {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cli, err := redisstore.New(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			appLog.Error("redis setup failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = cli.Close() }()
		resultCache = results.New(cli, h3mapper.New(), results.Config{
			FootprintRes: cfg.FootprintRes,
			MaxCells:     cfg.FootprintMaxCells,
			DefaultTTL:   cfg.CacheTTLDefault,
			TTLOverrides: cfg.CacheTTLOvr,
			OpTimeout:    cfg.CacheOpTimeout,
			Admission: &simple.Engine{
				Hot:       expdecay.New(cfg.CacheHotHalfLife, cfg.CacheHotMaxKeys),
				Threshold: cfg.CacheAdmitThreshold,
			},
		}, appLog)
		ready = append(ready, health.Component{Name: "redis", Reporter: health.Ping(cli, time.Second)})
	}

	runner := kafka.New(kafka.FromConfig(cfg.Invalidation), resultCache, cat, kafka.Options{
		Logger:   appLog,
		Register: reg,
	})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("invalidation runner failed to start", "err", err)
		return 1
	}
	defer runner.Stop()
	ready = append(ready, health.Component{Name: "invalidation", Reporter: runner})

	svc := service.New(cat, pipe, resultCache, appLog)
	if err := server.Run(ctx, cfg, appLog, svc, ready...); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
