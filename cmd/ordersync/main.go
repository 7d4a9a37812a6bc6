package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minhnh/ordersync/internal/api"
	"github.com/minhnh/ordersync/internal/archive"
	"github.com/minhnh/ordersync/internal/auth"
	"github.com/minhnh/ordersync/internal/config"
	"github.com/minhnh/ordersync/internal/fulfill"
	"github.com/minhnh/ordersync/internal/notify"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/minhnh/ordersync/internal/worker"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize order store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close order store")
		}
	}()

	// Orders left running by a crashed worker go back into the retry queue.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requeued, err := store.RequeueOrphanedRunning(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to requeue orphaned orders")
	}
	if requeued > 0 {
		logrus.WithField("requeued_count", requeued).Warn("Requeued orders left in flight by previous run")
	}

	var retryWorker *worker.RetryWorker
	var processOne api.ProcessFunc
	if cfg.FulfillURL != "" {
		fulfillClient := fulfill.NewClient(cfg.FulfillURL, cfg.FulfillTimeout)
		retryWorker = worker.NewRetryWorker(store, fulfillClient, cfg.WorkerInterval, cfg.BatchSize, cfg.WorkerConcurrency)
		processOne = retryWorker.ProcessOne
		go retryWorker.Start(ctx)
	} else {
		logrus.Warn("FULFILL_URL not configured, processing worker disabled")
	}

	if cfg.NotifierEnabled() {
		var uploader *archive.Uploader
		if cfg.ArchiveEnabled() {
			uploader, err = archive.NewUploader(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to initialize report archive")
			}
			if err := uploader.EnsureBucket(ctx); err != nil {
				logrus.WithError(err).Fatal("Failed to prepare report archive bucket")
			}
		}

		mailer := notify.NewSMTPMailer(cfg.SMTPServer, cfg.SMTPPort, cfg.EmailAddress, cfg.EmailPassword)
		notifier := notify.NewNotifier(store, mailer, uploader, cfg.EmailRecipients, cfg.NotifyInterval)
		go notifier.Start(ctx)
	} else {
		logrus.Info("SMTP not configured, unknown-code notifier disabled")
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(auth.NewValidator(cfg.APITokens).Middleware())

	apiHandler := api.NewHandler(store, processOne, version)
	api.SetupRoutes(router, apiHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting ordersync server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}
