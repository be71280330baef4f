/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pollen"

	// ActivityPub.
	activityPub                = "activitypub"
	apPostTimeMetric           = "outbox_post_time"
	apResolveInboxesTimeMetric = "outbox_resolve_inboxes_time"
	apOutboxActivityMetric     = "outbox_activity_count"

	// Delivery.
	delivery               = "delivery"
	deliveryPostTimeMetric = "post_time"
	deliveryOutcomeMetric  = "outcome_count"
)

// Metrics manages the metrics for the server.
type Metrics struct {
	apOutboxPostTime           prometheus.Histogram
	apOutboxResolveInboxesTime prometheus.Histogram
	apOutboxActivityCounts     *prometheus.CounterVec

	deliveryPostTime      prometheus.Histogram
	deliveryOutcomeCounts *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics provider, registering the collectors on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})

	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		apOutboxPostTime: newHistogram(
			activityPub, apPostTimeMetric,
			"The time (in seconds) that it takes to post an activity to the outbox",
		),
		apOutboxResolveInboxesTime: newHistogram(
			activityPub, apResolveInboxesTimeMetric,
			"The time (in seconds) that it takes to resolve the inboxes of the recipients when posting to the outbox",
		),
		apOutboxActivityCounts: newCounterVec(
			activityPub, apOutboxActivityMetric,
			"The number of activities posted to the outbox, by activity type",
			"type",
		),
		deliveryPostTime: newHistogram(
			delivery, deliveryPostTimeMetric,
			"The time (in seconds) that it takes to deliver an activity to a remote inbox",
		),
		deliveryOutcomeCounts: newCounterVec(
			delivery, deliveryOutcomeMetric,
			"The number of delivery attempts, by outcome",
			"outcome",
		),
	}

	prometheus.MustRegister(
		m.apOutboxPostTime,
		m.apOutboxResolveInboxesTime,
		m.apOutboxActivityCounts,
		m.deliveryPostTime,
		m.deliveryOutcomeCounts,
	)

	return m
}

// OutboxPostTime records the time it takes to post an activity to the outbox.
func (m *Metrics) OutboxPostTime(value time.Duration) {
	m.apOutboxPostTime.Observe(value.Seconds())
}

// OutboxResolveInboxesTime records the time it takes to resolve recipient inboxes for an outbox post.
func (m *Metrics) OutboxResolveInboxesTime(value time.Duration) {
	m.apOutboxResolveInboxesTime.Observe(value.Seconds())
}

// OutboxIncrementActivityCount increments the number of posted activities of the given type.
func (m *Metrics) OutboxIncrementActivityCount(activityType string) {
	m.apOutboxActivityCounts.WithLabelValues(activityType).Inc()
}

// DeliveryPostTime records the time it takes to deliver an activity to a remote inbox.
func (m *Metrics) DeliveryPostTime(value time.Duration) {
	m.deliveryPostTime.Observe(value.Seconds())
}

// DeliveryIncrementOutcome increments the number of delivery attempts with the given outcome.
func (m *Metrics) DeliveryIncrementOutcome(outcome string) {
	m.deliveryOutcomeCounts.WithLabelValues(outcome).Inc()
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}
