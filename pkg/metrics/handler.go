/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pollenhq/pollen/pkg/restapi/common"
)

// MetricsPath is the endpoint at which Prometheus metrics are exposed.
const MetricsPath = "/metrics"

// NewHandler returns the REST handler that exposes the Prometheus metrics.
func NewHandler() common.HTTPHandler {
	promHandler := promhttp.Handler()

	return common.NewHTTPHandler(MetricsPath, http.MethodGet,
		func(w http.ResponseWriter, req *http.Request) {
			promHandler.ServeHTTP(w, req)
		},
	)
}
