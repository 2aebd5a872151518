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

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/castlemilk/pricelake/backend/internal/auth"
	"github.com/castlemilk/pricelake/backend/internal/config"
	"github.com/castlemilk/pricelake/backend/internal/correction"
	"github.com/castlemilk/pricelake/backend/internal/httpapi"
	"github.com/castlemilk/pricelake/backend/internal/ingest"
	"github.com/castlemilk/pricelake/backend/internal/objectstore"
	"github.com/castlemilk/pricelake/backend/internal/ocr"
	"github.com/castlemilk/pricelake/backend/internal/progress"
	"github.com/castlemilk/pricelake/backend/internal/render"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.SkipAuth && cfg.Environment != "local" && cfg.Environment != "development" {
		log.Fatalf("FATAL: SKIP_AUTH=true is only allowed when ENV=local or ENV=development (current ENV=%q)", cfg.Environment)
	}

	var storeImpl store.Store
	if cfg.UseMemoryStore {
		log.Println("Using in-memory store for local development")
		storeImpl = store.NewMemoryStore()
	} else {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create Postgres store: %v", err)
		}
		defer pg.Close()
		storeImpl = pg
		log.Println("✅ Using Postgres store")
	}

	objects, err := objectstore.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioSecure)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	log.Printf("✅ Object store connected (endpoint: %s)", cfg.MinioEndpoint)

	ocrClient := ocr.New(cfg.OCRServerURL)
	log.Printf("✅ OCR client configured (server: %s)", cfg.OCRServerURL)

	correctionClient := correction.New(cfg.VLMServerURL, cfg.VLMModel, cfg.LLMServerURL, cfg.LLMModel)
	log.Println("✅ Correction loop (VLM/LLM) configured")

	progressMgr := progress.NewManager()
	renderOpts := render.Options{DPI: cfg.RenderDPI, LongEdgePx: cfg.RenderLongEdge}
	pipeline := ingest.New(storeImpl, objects, ocrClient, progressMgr, renderOpts, cfg.OCRWorkerCount)
	log.Printf("✅ Ingest pipeline wired (worker count: %d)", cfg.OCRWorkerCount)

	verifier := auth.NewVerifier(cfg.JWTSecretKey)
	var blacklist *auth.Blacklist
	if cfg.RedisURL != "" {
		blacklist, err = auth.NewBlacklist(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis token blacklist: %v", err)
		}
		defer blacklist.Close()
		log.Println("✅ Token blacklist connected (Redis)")
	} else {
		log.Println("⚠️  REDIS_URL not set, token revocation disabled")
	}
	if cfg.SkipAuth {
		log.Println("⚠️  SKIP_AUTH enabled - requests trust the X-Workspace-Id header")
	}
	authMw := auth.NewMiddleware(verifier, blacklist, storeImpl, cfg.SkipAuth)

	server := httpapi.New(storeImpl, objects, pipeline, correctionClient, progressMgr)
	handler := server.Mux(authMw)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:1234",
			"http://127.0.0.1:1234",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-API-Key",
			"X-Workspace-Id",
		},
		AllowCredentials: true,
	})
	handler = c.Handler(handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down, draining in-flight requests (30s grace period)")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
