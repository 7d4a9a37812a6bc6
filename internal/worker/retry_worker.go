// Package worker runs the background order processing loop: claiming
// waiting orders, submitting them to fulfillment, and routing outcomes
// through the retry state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/minhnh/ordersync/internal/fulfill"
	"github.com/minhnh/ordersync/internal/metrics"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/sirupsen/logrus"
)

// Fulfiller submits one order to the external fulfillment API.
type Fulfiller interface {
	Submit(ctx context.Context, order *types.Order) (*fulfill.Result, error)
}

// RetryWorker periodically scans the record store for processable orders.
type RetryWorker struct {
	store     *storage.Store
	fulfiller Fulfiller
	interval  time.Duration
	batchSize int
	semaphore chan struct{} // Limits concurrent fulfillment attempts
}

// NewRetryWorker creates a worker with bounded concurrency.
func NewRetryWorker(store *storage.Store, fulfiller Fulfiller, interval time.Duration, batchSize, concurrency int) *RetryWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RetryWorker{
		store:     store,
		fulfiller: fulfiller,
		interval:  interval,
		batchSize: batchSize,
		semaphore: make(chan struct{}, concurrency),
	}
}

// Start runs the scan loop until the context is cancelled.
func (w *RetryWorker) Start(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"interval":   w.interval,
		"batch_size": w.batchSize,
	}).Info("Starting retry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Retry worker stopped")
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				logrus.WithError(err).Error("Batch processing failed")
			}
		}
	}
}

// ProcessBatch runs one scan: expire stale failures, then claim and process
// pending and retry-eligible orders.
func (w *RetryWorker) ProcessBatch(ctx context.Context) error {
	now := time.Now()

	expired, err := w.store.ExpireStaleFailures(ctx, now)
	if err != nil {
		return fmt.Errorf("expire stale failures: %w", err)
	}
	metrics.StaleExpired.Add(float64(expired))

	pending, err := w.store.ListPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	eligible, err := w.store.ListEligibleForRetry(ctx, now, w.batchSize)
	if err != nil {
		return fmt.Errorf("list retry-eligible orders: %w", err)
	}

	batch := append(pending, eligible...)
	if len(batch) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, order := range batch {
		if err := w.store.ClaimOrder(ctx, order.OrderIdentity, time.Now()); err != nil {
			if errors.Is(err, storage.ErrAlreadyClaimed) {
				// Another worker won the race; normal outcome, skip.
				metrics.ClaimConflicts.Inc()
				continue
			}
			logrus.WithError(err).WithField("order_id", order.OrderID).Error("Failed to claim order")
			continue
		}

		wg.Add(1)
		go func(o *types.Order) {
			defer wg.Done()

			select {
			case w.semaphore <- struct{}{}:
				defer func() { <-w.semaphore }()
			case <-ctx.Done():
				return
			}

			w.processOrder(ctx, o)
		}(order)
	}
	wg.Wait()

	return nil
}

// ProcessOne claims and processes a single order immediately, outside the
// scan loop. Used for operator-triggered retries.
func (w *RetryWorker) ProcessOne(ctx context.Context, id types.OrderIdentity) error {
	order, err := w.store.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if !order.Status.IsWaiting() {
		return fmt.Errorf("order %s/%s/%s is %s and cannot be retried", id.OrderID, id.ProductCode, id.IMEI, order.Status)
	}

	now := time.Now()
	if order.Status == types.StatusNeedsRetry && !order.RetryEligible(now) {
		// Past the retry window; expire it like the scan loop would.
		if _, err := w.store.ExpireStaleFailures(ctx, now); err != nil {
			return fmt.Errorf("expire stale failures: %w", err)
		}
		return fmt.Errorf("order %s/%s/%s exceeded the retry window", id.OrderID, id.ProductCode, id.IMEI)
	}

	if err := w.store.ClaimOrder(ctx, id, now); err != nil {
		return err
	}

	select {
	case w.semaphore <- struct{}{}:
		defer func() { <-w.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	w.processOrder(ctx, order)
	return nil
}

// processOrder submits one claimed order and routes the outcome.
func (w *RetryWorker) processOrder(ctx context.Context, order *types.Order) {
	log := logrus.WithFields(logrus.Fields{
		"order_id":     order.OrderID,
		"product_code": order.ProductCode,
		"imei":         order.IMEI,
	})

	metrics.InFlight.Inc()
	result, err := w.fulfiller.Submit(ctx, order)
	metrics.InFlight.Dec()
	if err != nil {
		// Could not even build the attempt; put the order back in the queue.
		log.WithError(err).Error("Fulfillment attempt aborted")
		if markErr := w.store.MarkRetryable(ctx, order.OrderIdentity, err.Error(), nil, time.Now()); markErr != nil {
			log.WithError(markErr).Error("Failed to requeue order")
		}
		return
	}

	now := time.Now()
	switch result.Class {
	case fulfill.ClassSuccess:
		metrics.AttemptOutcomes.WithLabelValues("completed").Inc()
		if err := w.store.MarkCompleted(ctx, order.OrderIdentity, now); err != nil {
			log.WithError(err).Error("Failed to mark order completed")
			return
		}
		log.Info("Order fulfilled")

	case fulfill.ClassDuplicate:
		// The upstream already holds this document; completed as far as the
		// pipeline is concerned.
		metrics.AttemptOutcomes.WithLabelValues("duplicate").Inc()
		if err := w.store.MarkCompleted(ctx, order.OrderIdentity, now); err != nil {
			log.WithError(err).Error("Failed to mark duplicate order completed")
			return
		}
		log.WithField("error_code", result.ErrorCode).Info("Duplicate document detected upstream, order closed")

	case fulfill.ClassRecoverable:
		metrics.AttemptOutcomes.WithLabelValues("retryable").Inc()
		if err := w.store.MarkRetryable(ctx, order.OrderIdentity, result.ErrorCode, result.UnknownCodes, now); err != nil {
			log.WithError(err).Error("Failed to mark order retryable")
			return
		}
		log.WithFields(logrus.Fields{
			"status_code":   result.StatusCode,
			"unknown_codes": len(result.UnknownCodes),
		}).Warn("Fulfillment failed, order queued for retry")

	case fulfill.ClassPermanent:
		metrics.AttemptOutcomes.WithLabelValues("failed").Inc()
		if err := w.store.MarkFailed(ctx, order.OrderIdentity, result.ErrorCode, now); err != nil {
			log.WithError(err).Error("Failed to mark order failed")
			return
		}
		log.WithField("status_code", result.StatusCode).Error("Fulfillment rejected order permanently")
	}
}
