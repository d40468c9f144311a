package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/blob"
	"github.com/imagevault/pipeline/internal/config"
	"github.com/imagevault/pipeline/internal/features"
	"github.com/imagevault/pipeline/internal/handlers"
	"github.com/imagevault/pipeline/internal/jobs"
	"github.com/imagevault/pipeline/internal/listcache"
	"github.com/imagevault/pipeline/internal/manager"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/internal/urlcache"
	"github.com/imagevault/pipeline/internal/vision"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Record store: Postgres when DATABASE_URL is set, otherwise in-memory
	// (development preset).
	var records store.RecordStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pg.Close()
		records = pg
		log.Info("using postgres record store")
	} else {
		records = store.NewMemoryStore()
		log.Info("using in-memory record store")
	}

	// Blob store backend.
	var blobs blob.Store
	var fsBlobs *blob.FilesystemStore
	switch cfg.StorageBackend {
	case config.BackendMinio:
		m, err := blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal("failed to initialize minio", zap.Error(err))
		}
		blobs = m
		log.Info("using minio blob store",
			zap.String("endpoint", cfg.MinioEndpoint),
			zap.String("bucket", cfg.MinioBucket))
	case config.BackendFilesystem:
		fsBlobs, err = blob.NewFilesystemStore(cfg.FilesystemDir, cfg.FilesystemBaseURL, []byte(cfg.FilesystemSecret))
		if err != nil {
			log.Fatal("failed to initialize filesystem store", zap.Error(err))
		}
		blobs = fsBlobs
		log.Info("using filesystem blob store", zap.String("dir", cfg.FilesystemDir))
	}

	// Caches: display URLs for the browser, short-lived fetch URLs for jobs.
	displayURLs := urlcache.New(blobs, cfg.DisplayURLTTL, log)
	fetchURLs := urlcache.New(blobs, cfg.FetchURLTTL, log)
	lists := listcache.New(listcache.NewPaginator(records), cfg.PageSize, cfg.ListFreshFor, log)

	mgr := manager.New(records, blobs, lists, displayURLs, log)

	// Enrichment jobs.
	fetcher := jobs.NewBlobFetcher(fetchURLs, cfg.VendorTimeout)
	detector := vision.NewClient(cfg.VisionBaseURL, cfg.VisionAPIKey, cfg.LanguageHints, cfg.VendorTimeout)
	extractor := features.NewExtractor(features.NewHTTPRuntime(cfg.VendorTimeout), cfg.ModelURI)

	runner := jobs.NewRunner(records, cfg.JobTimeout, log)
	runner.Register(jobs.NewOCRJob(fetcher, detector))
	runner.Register(jobs.NewFeatureJob(fetcher, extractor))
	runner.OnSuccess(func(string) { mgr.InvalidateLists() })
	log.Info("registered jobs", zap.Strings("kinds", []string{pipeline.JobOCR, pipeline.JobFeatures}))

	// HTTP server.
	mux := http.NewServeMux()
	handlers.New(mgr, runner, log).Routes(mux)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	if fsBlobs != nil {
		mux.Handle("/blobs/", http.StripPrefix("/blobs", fsBlobs))
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info("enrichment worker starting", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
