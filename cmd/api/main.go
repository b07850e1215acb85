package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"foliate/api/internal/app"
	"foliate/api/internal/catalog"
	"foliate/api/internal/config"
	"foliate/api/internal/embed"
	"foliate/api/internal/proxy"
	"foliate/api/internal/render"
	"foliate/api/internal/session"
)

func main() {
	cfg := config.Load()

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		log.Fatalf("catalog load failed: %v", err)
	}

	// Artifact backend: object storage when configured, else Redis, else
	// process memory.
	var artifacts proxy.Store
	switch {
	case strings.TrimSpace(cfg.MinioEndpoint) != "":
		log.Printf("Using MinIO for proxy artifact storage")
		store, err := proxy.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		artifacts = store
	case strings.TrimSpace(cfg.RedisURL) != "":
		log.Printf("Using Redis for proxy artifact storage")
		store, err := proxy.NewRedisStore(cfg.RedisURL, cfg.ProxyRetention)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		artifacts = store
	default:
		log.Printf("Using in-memory proxy artifact storage")
		artifacts = proxy.NewMemoryStore()
	}
	defer artifacts.Close()

	fetcher := embed.NewFetcher(cfg.ImageTimeout, cfg.ImageMaxBytes, cfg.AllowHTTPImages)
	renderer := render.New(render.NewChromePDF(cfg.PDFTimeout))
	sessions := session.NewStore()

	service := app.New(cfg, cat, sessions, fetcher, renderer, artifacts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Foliate API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
