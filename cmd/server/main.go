package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"upqueue/internal/config"
	"upqueue/internal/dispatch"
	"upqueue/internal/handler"
	"upqueue/internal/metrics"
	"upqueue/internal/payload"
	"upqueue/internal/port"
	"upqueue/internal/repository/postgres"
	"upqueue/internal/router"
	"upqueue/internal/service"
	"upqueue/internal/signing"
	s3storage "upqueue/internal/storage/s3"
	"upqueue/internal/transfer"
	"upqueue/internal/transfer/httpupload"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DB.AutoMigrate {
		if err := postgres.Migrate(&cfg.DB); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	db, err := postgres.NewDB(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Initialize repositories
	requestRepo := postgres.NewUploadRequestRepo(db)
	results, err := newResultStore(cfg, db)
	if err != nil {
		return err
	}

	// Initialize storage
	s3Client, err := s3storage.NewS3Client(&cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	// Dispatcher and listeners
	dispatcher := dispatch.NewDispatcher(results,
		dispatch.WithReplayWindow(cfg.Results.ReplayWindow),
		dispatch.WithReplayLimit(cfg.Results.ReplayLimit),
	)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	uploadMetrics, err := metrics.NewUploadListener(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	dispatcher.Register(ctx, uploadMetrics)

	// Payload resolution
	resources, err := payload.LoadResourceTable(cfg.Resources.Dir)
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}
	resolve := payload.NewResolveContext(resources)
	resolve.Register("s3", transfer.NewObjectResolver(s3Client))

	var signer signing.Provider
	if cfg.Signer.Secret != "" {
		jwtSigner, err := signing.NewJWTProvider(cfg.Signer.Name, cfg.Signer.APIKey, cfg.Signer.Secret, cfg.Signer.TTL)
		if err != nil {
			return fmt.Errorf("failed to initialize signer: %w", err)
		}
		signer = jwtSigner
	}

	xfer, err := newTransfer(cfg, s3Client)
	if err != nil {
		return err
	}

	// Initialize services
	processor := service.NewRequestProcessor(dispatcher, resolve, signer, xfer)
	defaultPolicy := cfg.Policy.ToPolicy()
	uploadSvc := service.NewUploadService(requestRepo, results, defaultPolicy, cfg.S3.MaxFileSize)

	var network port.NetworkChecker
	if cfg.Queue.NetworkCheck != "" {
		network = transfer.NewDialChecker(cfg.Queue.NetworkCheck, 3*time.Second)
	}
	worker := service.NewUploadQueueWorker(requestRepo, processor, network, service.UploadQueueConfig{
		PollInterval:   time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
		Concurrency:    cfg.Queue.Concurrency,
		AttemptTimeout: time.Duration(cfg.Queue.AttemptTimeout) * time.Second,
		StaleAfter:     time.Duration(cfg.Queue.StaleAfterSecs) * time.Second,
	})

	// Initialize handlers
	uploadH := handler.NewUploadHandler(uploadSvc, defaultPolicy, cfg.S3.MaxFileSize)
	eventsH := handler.NewEventsHandler(dispatcher)
	healthH := handler.NewHealthHandler(db)

	// Setup router
	r := router.Setup(uploadH, eventsH, healthH, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.CORS.AllowedOrigins)
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Start(gctx)
		return nil
	})
	if cfg.Results.Retention > 0 {
		retention := service.NewResultRetention(requestRepo, dispatcher, service.RetentionConfig{
			Retention: cfg.Results.Retention,
			Interval:  cfg.Results.PurgeInterval,
		})
		g.Go(func() error {
			retention.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Printf("Server starting on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newResultStore(cfg *config.Config, db *sqlx.DB) (port.ResultStore, error) {
	if cfg.Results.Store == "memory" {
		store, err := dispatch.NewMemoryResultStore(cfg.Results.MemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result store: %w", err)
		}
		log.Printf("results: keeping up to %d terminal results in memory", cfg.Results.MemorySize)
		return store, nil
	}
	return postgres.NewCallbackResultRepo(db), nil
}

func newTransfer(cfg *config.Config, storage port.ObjectStorage) (port.Transfer, error) {
	if cfg.HTTPUpload.URL != "" {
		client, err := httpupload.New(httpupload.Config{
			URL:         cfg.HTTPUpload.URL,
			Timeout:     cfg.HTTPUpload.Timeout,
			InlineRetry: cfg.HTTPUpload.InlineRetry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize http upload: %w", err)
		}
		log.Printf("transfer: posting uploads to %s", cfg.HTTPUpload.URL)
		return client, nil
	}
	log.Printf("transfer: uploading to bucket %s", cfg.S3.Bucket)
	return transfer.NewObjectStorageTransfer(storage, transfer.ObjectStorageConfig{
		Bucket:        cfg.S3.Bucket,
		KeyPrefix:     cfg.S3.KeyPrefix,
		MaxFileSize:   cfg.S3.MaxFileSize,
		PresignExpiry: cfg.S3.PresignExpiry,
	}), nil
}

func configureLogging(cfg *config.Config) {
	if cfg.Log.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
}
