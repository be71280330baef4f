/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := Get()
	require.NotNil(t, m)

	// Get always returns the same registered instance.
	require.True(t, m == Get())

	m.OutboxPostTime(100 * time.Millisecond)
	m.OutboxResolveInboxesTime(50 * time.Millisecond)
	m.OutboxIncrementActivityCount("Create")
	m.DeliveryPostTime(200 * time.Millisecond)
	m.DeliveryIncrementOutcome("delivered")
}

func TestHandler(t *testing.T) {
	Get()

	h := NewHandler()

	require.Equal(t, MetricsPath, h.Path())
	require.Equal(t, http.MethodGet, h.Method())

	rw := httptest.NewRecorder()

	h.Handler()(rw, httptest.NewRequest(http.MethodGet, MetricsPath, nil))

	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "pollen_activitypub_outbox_post_time")
}
