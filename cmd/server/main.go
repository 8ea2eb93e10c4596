package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"belanjaku/backend/internal/cache"
	"belanjaku/backend/internal/config"
	"belanjaku/backend/internal/gateway"
	"belanjaku/backend/internal/httpapi"
	"belanjaku/backend/internal/service"
	"belanjaku/backend/internal/store"
	"belanjaku/backend/internal/store/memory"
	pgstore "belanjaku/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	marker := cache.Marker(cache.NoopMarker{})
	if cfg.RedisAddr != "" {
		redisMarker := cache.NewRedisMarker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisMarker.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop marker", err)
		} else {
			marker = redisMarker
			closers = append(closers, redisMarker.Close)
			log.Println("marker: redis")
		}
	} else {
		log.Println("marker: noop")
	}

	var gw gateway.Client
	if cfg.GatewayAPIKey != "" {
		gw = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
		log.Println("gateway: http")
	} else {
		gw = gateway.NewMock()
		log.Println("gateway: mock (GATEWAY_API_KEY not set)")
	}

	svc := service.New(repo, gw, marker, time.Duration(cfg.SessionSearchWindowHours)*time.Hour)
	auth := httpapi.NewAuthManager(cfg.AuthSecret)
	api := httpapi.New(svc, auth, marker, cfg.GatewayWebhookSecret, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("storefront backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.GatewayAPIKey != "" && len(cfg.GatewayWebhookSecret) < 16 {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET must be set and at least 16 characters when a live gateway key is configured")
	}
	return nil
}
