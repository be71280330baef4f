/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/client/transport"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
)

const (
	loggerModule = "activitypub_service"

	deliveryTaskID = "activity-delivery"
	cleanupTaskID  = "activity-delivery-cleanup"

	defaultCheckInterval          = 10 * time.Second
	defaultCleanupInterval        = time.Hour
	defaultMaxRetries             = 6
	defaultRetentionPeriod        = 24 * time.Hour
	defaultStaleProcessingTimeout = 10 * time.Minute
)

// backoffSchedule is the delay before the next delivery attempt, indexed by the
// number of attempts already made.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	720 * time.Minute,
}

type httpTransport interface {
	Post(ctx context.Context, req *transport.Request, payload []byte) (*http.Response, error)
}

type taskManager interface {
	RegisterTask(id string, interval time.Duration, task func())
}

type metricsProvider interface {
	DeliveryPostTime(value time.Duration)
	DeliveryIncrementOutcome(outcome string)
}

// Metric outcomes.
const (
	outcomeDelivered = "delivered"
	outcomeRetry     = "retry"
	outcomeDead      = "dead"
)

// Config holds configuration parameters for the delivery worker.
type Config struct {
	ServiceName            string
	CheckInterval          time.Duration
	CleanupInterval        time.Duration
	MaxRetries             int
	RetentionPeriod        time.Duration
	StaleProcessingTimeout time.Duration
}

// Worker delivers queued activities to remote inboxes. It periodically claims
// due items from the delivery queue, POSTs them with a signed request and
// reschedules failed attempts with an increasing backoff until the maximum
// number of retries is exhausted.
type Worker struct {
	*Config

	deliveryQueue store.DeliveryQueue
	httpTransport httpTransport
	metrics       metricsProvider
	logger        *log.Log
}

// New returns a new delivery worker and registers its tasks with the given
// task manager.
func New(cnfg *Config, queue store.DeliveryQueue, t httpTransport, taskMgr taskManager,
	metrics metricsProvider) *Worker {
	cfg := populateConfigDefaults(cnfg)

	w := &Worker{
		Config:        &cfg,
		deliveryQueue: queue,
		httpTransport: t,
		metrics:       metrics,
		logger:        log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	taskMgr.RegisterTask(deliveryTaskID, cfg.CheckInterval, w.deliverDueItems)
	taskMgr.RegisterTask(cleanupTaskID, cfg.CleanupInterval, w.cleanup)

	return w
}

// deliverDueItems claims all due pending and failed items and attempts delivery.
// Items that were claimed by another instance in the meantime are skipped.
func (w *Worker) deliverDueItems() {
	w.reclaimStaleItems()

	now := time.Now()

	for _, status := range []store.DeliveryStatus{store.DeliveryPending, store.DeliveryFailed} {
		items, err := w.deliveryQueue.QueryDeliveryItems(status, now)
		if err != nil {
			w.logger.Error("Error querying for due delivery items",
				logfields.WithDeliveryStatus(string(status)), log.WithError(err))

			continue
		}

		for _, item := range items {
			claimed, err := w.claim(item, status)
			if err != nil {
				w.logger.Error("Error claiming delivery item", logfields.WithTaskID(item.ID), log.WithError(err))

				continue
			}

			if !claimed {
				continue
			}

			w.deliver(item)
		}
	}
}

func (w *Worker) claim(item *store.DeliveryItem, fromStatus store.DeliveryStatus) (bool, error) {
	item.Status = store.DeliveryProcessing
	item.UpdatedTime = time.Now()

	err := w.deliveryQueue.UpdateDeliveryItem(item, fromStatus)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another instance claimed the item.
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (w *Worker) deliver(item *store.DeliveryItem) {
	w.logger.Debug("Delivering activity", logfields.WithActivityID(item.ActivityIRI),
		logfields.WithInboxURL(item.TargetInbox), logfields.WithAttempts(item.Attempts))

	startTime := time.Now()
	defer func() {
		w.metrics.DeliveryPostTime(time.Since(startTime))
	}()

	code, err := w.send(item)
	if err == nil && code < http.StatusMultipleChoices {
		w.markDelivered(item)

		return
	}

	if err == nil {
		err = fmt.Errorf("server responded with status %d", code)
	}

	if isPermanent(code) {
		w.markDead(item, err)

		return
	}

	w.scheduleRetry(item, err)
}

func (w *Worker) send(item *store.DeliveryItem) (int, error) {
	req := transport.NewRequest(item.TargetInbox,
		transport.WithHeader(transport.ContentTypeHeader, transport.ActivityStreamsContentType),
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType),
	)

	resp, err := w.httpTransport.Post(context.Background(), req, item.Payload)
	if err != nil {
		return 0, err
	}

	if err := resp.Body.Close(); err != nil {
		w.logger.Warn("Error closing response body", log.WithError(err))
	}

	return resp.StatusCode, nil
}

// isPermanent returns true for response codes that will not succeed on retry.
// 408 (request timeout) and 429 (too many requests) are retryable; all other
// 4xx codes are not.
func isPermanent(code int) bool {
	if code < http.StatusBadRequest || code >= http.StatusInternalServerError {
		return false
	}

	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func (w *Worker) markDelivered(item *store.DeliveryItem) {
	item.Status = store.DeliveryDelivered
	item.Attempts++
	item.LastError = ""
	item.UpdatedTime = time.Now()

	if err := w.deliveryQueue.UpdateDeliveryItem(item, store.DeliveryProcessing); err != nil {
		w.logger.Error("Error marking delivery item as delivered", logfields.WithTaskID(item.ID),
			log.WithError(err))

		return
	}

	w.metrics.DeliveryIncrementOutcome(outcomeDelivered)

	w.logger.Debug("Activity successfully delivered", logfields.WithActivityID(item.ActivityIRI),
		logfields.WithInboxURL(item.TargetInbox), logfields.WithAttempts(item.Attempts))
}

func (w *Worker) markDead(item *store.DeliveryItem, deliveryErr error) {
	item.Status = store.DeliveryDead
	item.Attempts++
	item.LastError = deliveryErr.Error()
	item.UpdatedTime = time.Now()

	if err := w.deliveryQueue.UpdateDeliveryItem(item, store.DeliveryProcessing); err != nil {
		w.logger.Error("Error marking delivery item as dead", logfields.WithTaskID(item.ID),
			log.WithError(err))

		return
	}

	w.metrics.DeliveryIncrementOutcome(outcomeDead)

	w.logger.Warn("Activity could not be delivered and will not be retried",
		logfields.WithActivityID(item.ActivityIRI), logfields.WithInboxURL(item.TargetInbox),
		logfields.WithAttempts(item.Attempts), log.WithError(deliveryErr))
}

func (w *Worker) scheduleRetry(item *store.DeliveryItem, deliveryErr error) {
	item.Attempts++
	item.LastError = deliveryErr.Error()
	item.UpdatedTime = time.Now()

	if item.Attempts >= w.MaxRetries {
		item.Status = store.DeliveryDead

		if err := w.deliveryQueue.UpdateDeliveryItem(item, store.DeliveryProcessing); err != nil {
			w.logger.Error("Error marking delivery item as dead", logfields.WithTaskID(item.ID),
				log.WithError(err))

			return
		}

		w.metrics.DeliveryIncrementOutcome(outcomeDead)

		w.logger.Warn("Maximum delivery retries exhausted", logfields.WithActivityID(item.ActivityIRI),
			logfields.WithInboxURL(item.TargetInbox), logfields.WithAttempts(item.Attempts),
			log.WithError(deliveryErr))

		return
	}

	item.Status = store.DeliveryFailed
	item.NotBefore = time.Now().Add(backoffDelay(item.Attempts))

	if err := w.deliveryQueue.UpdateDeliveryItem(item, store.DeliveryProcessing); err != nil {
		w.logger.Error("Error rescheduling delivery item", logfields.WithTaskID(item.ID), log.WithError(err))

		return
	}

	w.metrics.DeliveryIncrementOutcome(outcomeRetry)

	w.logger.Info("Delivery attempt failed. The activity will be retried.",
		logfields.WithActivityID(item.ActivityIRI), logfields.WithInboxURL(item.TargetInbox),
		logfields.WithAttempts(item.Attempts), log.WithError(deliveryErr))
}

// backoffDelay returns the delay before the next attempt, given the number of
// attempts already made.
func backoffDelay(attempts int) time.Duration {
	idx := attempts - 1

	if idx < 0 {
		idx = 0
	}

	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}

	return backoffSchedule[idx]
}

// reclaimStaleItems returns items that have been in the processing state for an
// unusually long time back to the pending state. This recovers items claimed by
// an instance that crashed mid-delivery.
func (w *Worker) reclaimStaleItems() {
	items, err := w.deliveryQueue.QueryDeliveryItems(store.DeliveryProcessing, time.Now())
	if err != nil {
		w.logger.Error("Error querying for processing delivery items", log.WithError(err))

		return
	}

	staleBefore := time.Now().Add(-w.StaleProcessingTimeout)

	for _, item := range items {
		if item.UpdatedTime.After(staleBefore) {
			continue
		}

		w.logger.Warn("Reclaiming stale delivery item", logfields.WithTaskID(item.ID),
			logfields.WithInboxURL(item.TargetInbox))

		item.Status = store.DeliveryPending
		item.UpdatedTime = time.Now()

		if err := w.deliveryQueue.UpdateDeliveryItem(item, store.DeliveryProcessing); err != nil &&
			!errors.Is(err, store.ErrConflict) {
			w.logger.Error("Error reclaiming stale delivery item", logfields.WithTaskID(item.ID),
				log.WithError(err))
		}
	}
}

// cleanup deletes delivered and dead items that are past the retention period.
func (w *Worker) cleanup() {
	updatedBefore := time.Now().Add(-w.RetentionPeriod)

	for _, status := range []store.DeliveryStatus{store.DeliveryDelivered, store.DeliveryDead} {
		n, err := w.deliveryQueue.DeleteDeliveryItems(status, updatedBefore)
		if err != nil {
			w.logger.Error("Error deleting delivery items", logfields.WithDeliveryStatus(string(status)),
				log.WithError(err))

			continue
		}

		if n > 0 {
			w.logger.Info("Deleted old delivery items", logfields.WithDeliveryStatus(string(status)),
				logfields.WithTotal(n))
		}
	}
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = defaultRetentionPeriod
	}

	if cfg.StaleProcessingTimeout <= 0 {
		cfg.StaleProcessingTimeout = defaultStaleProcessingTimeout
	}

	return cfg
}
