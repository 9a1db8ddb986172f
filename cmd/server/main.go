package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"maprender/internal/cache"
	"maprender/internal/config"
	"maprender/internal/engine"
	"maprender/internal/geom"
	httphandlers "maprender/internal/http"
	"maprender/internal/logger"
	"maprender/internal/registry"
	"maprender/internal/render"
	"maprender/internal/source"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.Vips.Concurrency,
		MaxCacheMem:      cfg.Vips.MaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.Vips.MaxCacheMB),
		zap.Int("concurrency", cfg.Vips.Concurrency),
	)

	extent, err := geom.ParseBBox(cfg.Source.Extent)
	if err != nil {
		log.Fatal("Invalid source extent", zap.Error(err))
	}
	eng := engine.NewVipsEngine(cfg.Source.DataDir, extent)

	dispatchOpts := render.Options{
		Workers:     cfg.Render.Workers,
		ScaleFactor: cfg.Render.ScaleFactor,
	}
	if cfg.Render.GlobalLock {
		log.Warn("Global render lock enabled, renders are fully serialized")
		dispatchOpts.RenderLock = &sync.Mutex{}
	}
	dispatcher := render.NewDispatcher(eng, registry.Default(), log, dispatchOpts)

	sourceOpts := source.Options{
		Resource: cfg.Source.Mapfile,
		Layers:   cfg.Source.Layers,
		Opacity:  cfg.Source.Opacity,
	}
	if cfg.Source.Coverage != "" {
		covBBox, err := geom.ParseBBox(cfg.Source.Coverage)
		if err != nil {
			log.Fatal("Invalid coverage", zap.Error(err))
		}
		sourceOpts.Coverage = &geom.Coverage{BBox: covBBox, SRS: cfg.Source.SRS}
	}
	if cfg.Source.ResMin > 0 || cfg.Source.ResMax > 0 {
		sourceOpts.ResRange = &geom.ResRange{Min: cfg.Source.ResMin, Max: cfg.Source.ResMax}
	}
	src := source.New(dispatcher, log, sourceOpts)

	tileCache, err := cache.NewCache(cache.Settings{
		Type:          cfg.Cache.Type,
		FileDir:       cfg.Cache.FileDir,
		MemoryTiles:   cfg.Cache.MemoryTiles,
		SQLitePath:    cfg.Cache.SQLitePath,
		RedisAddr:     cfg.Cache.Redis.Addr,
		RedisPassword: cfg.Cache.Redis.Password,
		RedisDB:       cfg.Cache.Redis.DB,
		RedisTTL:      cfg.Cache.Redis.TTL,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tile cache", zap.Error(err))
	}
	defer tileCache.Close()

	handlers := httphandlers.New(cfg, log, src, tileCache)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.Int("port", cfg.HTTP.Port),
		zap.String("mapfile", cfg.Source.Mapfile),
		zap.String("context_id", registry.ProcessContextID()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
