package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	authhandler "github.com/manupriyaaa/tracelens/internal/api/handlers/auth"
	imagehandler "github.com/manupriyaaa/tracelens/internal/api/handlers/image"
	"github.com/manupriyaaa/tracelens/internal/api/router"
	"github.com/manupriyaaa/tracelens/internal/api/server"
	"github.com/manupriyaaa/tracelens/internal/config"
	"github.com/manupriyaaa/tracelens/internal/detector"
	"github.com/manupriyaaa/tracelens/internal/infra/kafka/consumer"
	"github.com/manupriyaaa/tracelens/internal/infra/kafka/producer"
	imagemsg "github.com/manupriyaaa/tracelens/internal/kafka/handlers/image"
	imagerepo "github.com/manupriyaaa/tracelens/internal/repository/image"
	userrepo "github.com/manupriyaaa/tracelens/internal/repository/user"
	authsvc "github.com/manupriyaaa/tracelens/internal/service/auth"
	imagesvc "github.com/manupriyaaa/tracelens/internal/service/image"
	"github.com/manupriyaaa/tracelens/internal/storage/file"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad()

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize file storage (MinIO).
	storage, err := file.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.BucketName, cfg.Storage.UseSSL)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Face detection provider. The mock runs fully in-process and is the
	// default; "remote" forwards to an external inference endpoint.
	var d detector.Detector
	switch cfg.Detection.Provider {
	case "remote":
		d = detector.NewRemote(cfg.Detection.InferenceURL, cfg.Detection.Timeout)
	default:
		d = detector.NewMock().WithLatency(cfg.Detection.MockLatency)
	}

	// Repositories.
	imgRepo := imagerepo.NewRepository(db)
	usrRepo := userrepo.NewRepository(db)

	// Event producer is only wired when a broker is configured.
	var p *producer.Producer
	var ep imagesvc.EventProducer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		ep = p
	}

	// Service layer.
	service := imagesvc.NewService(imgRepo, storage, d, ep,
		imagesvc.UploadPolicy{
			MaxFileSize:  cfg.Upload.MaxFileSize,
			MaxFiles:     cfg.Upload.MaxFiles,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		imagesvc.DetectPolicy{MaxBatchSize: cfg.Detection.MaxBatchSize},
	)

	auth := authsvc.NewService(usrRepo, authsvc.NewMemoryOTPStore(), authsvc.LogSender{}, authsvc.Config{
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		TokenTTL:   cfg.Auth.TokenTTL,
		OTPTTL:     cfg.Auth.OTPTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})

	// HTTP handlers.
	imgHandler := imagehandler.NewHandler(service)
	authHandler := authhandler.NewHandler(auth, cfg.Auth.ExposeOTP)

	// Kafka consumer for processing uploaded image events.
	var wg sync.WaitGroup
	var c *consumer.Consumer
	if cfg.Kafka.Enabled {
		uploadedHandler := imagemsg.NewUploadedHandler(service)
		c = consumer.New(&cfg.Kafka, strategy, uploadedHandler)

		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	// Start HTTP server in a separate goroutine.
	r := router.Setup(authHandler, imgHandler, []byte(cfg.Auth.JWTSecret))
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("server started")

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer and consumer clients.
	if p != nil {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}
