package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/up-zero/gotool/convertutil"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/api"
	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/config"
	"github.com/getcharzp/go-clickseg/logger"
	"github.com/getcharzp/go-clickseg/segmenter"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L

	log.Info("starting clickseg server",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	oc := new(clickseg.OnnxConfig)
	if err := convertutil.CopyProperties(cfg.Onnx, oc); err != nil {
		log.Fatal("failed to copy onnx config", zap.Error(err))
	}
	if oc.OnnxRuntimeLibPath == "" {
		oc.OnnxRuntimeLibPath = clickseg.DefaultLibraryPath()
	}
	providers := oc.Providers()

	cache, closeCache := openCache(cfg, log)
	defer closeCache()

	caps := segmenter.DetectCapabilities(providers, cache)
	modelID := cfg.Model.ID
	if modelID == "" {
		modelID = caps.RecommendedModel
	}

	seg, err := segmenter.NewByID(modelID,
		segmenter.WithProviders(providers...),
		segmenter.WithCache(cache),
		segmenter.WithLogger(log),
		segmenter.WithProgress(func(p artifact.Progress) {
			log.Info("model progress", zap.Stringer("role", p.Role), zap.String("file", p.File), zap.Int("stage", int(p.Stage)))
		}),
	)
	if err != nil {
		log.Fatal("failed to create segmenter", zap.Error(err))
	}
	defer seg.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := seg.Initialize(ctx)
	if err != nil {
		log.Fatal("failed to initialize segmenter", zap.String("model", modelID), zap.Error(err))
	}
	log.Info("segmenter initialized", zap.String("model", modelID), zap.String("backend", device))

	drawer, err := clickseg.NewTextDrawer("")
	if err != nil {
		log.Fatal("failed to load font", zap.Error(err))
	}
	defer drawer.Close()

	gin.SetMode(cfg.Server.Mode)
	h := api.NewHandler(seg, api.Options{
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Capabilities:  caps,
		Drawer:        drawer,
		Logger:        log,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(h, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
}

// openCache 按配置创建模型缓存, redis 不可用时退回到目录缓存
func openCache(cfg *config.Config, log *zap.Logger) (artifact.Cache, func()) {
	noop := func() {}
	switch cfg.Cache.Kind {
	case "memory":
		return artifact.NewMemoryCache(), noop
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := artifact.NewRedisCache(client)
		if cache.Available() {
			log.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			return cache, func() { _ = client.Close() }
		}
		log.Warn("redis connection failed, falling back to dir cache", zap.String("addr", cfg.Redis.Addr))
		_ = client.Close()
	}

	dir, err := artifact.NewDirCache(cfg.Cache.Dir)
	if err != nil {
		log.Warn("dir cache unavailable, models will not persist", zap.String("dir", cfg.Cache.Dir), zap.Error(err))
		return artifact.NewMemoryCache(), noop
	}
	return dir, noop
}
