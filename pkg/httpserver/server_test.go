/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/restapi/common"
)

const (
	listenAddr = "localhost:8311"
	clientURL  = "http://" + listenAddr

	samplePath = "/sample"
)

func TestServer_StartStop(t *testing.T) {
	s := New(listenAddr, "", "", time.Second, time.Second, &mockConnectionChecker{connected: true},
		common.NewHTTPHandler(samplePath, http.MethodGet,
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		),
	)

	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	// Wait for the service to start.
	time.Sleep(100 * time.Millisecond)

	t.Run("Sample handler", func(t *testing.T) {
		resp, err := http.Get(clientURL + samplePath)
		require.NoError(t, err)

		_, err = io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Health check -> 200", func(t *testing.T) {
		rw := httptest.NewRecorder()

		s.healthCheckHandler(rw, nil)

		require.Equal(t, http.StatusOK, rw.Code)

		resp := &healthCheckResp{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), resp))
		require.Equal(t, statusSuccess, resp.MQStatus)
	})

	t.Run("Health check, broker disconnected -> 503", func(t *testing.T) {
		s1 := New(listenAddr, "", "", time.Second, time.Second, &mockConnectionChecker{})

		rw := httptest.NewRecorder()

		s1.healthCheckHandler(rw, nil)

		require.Equal(t, http.StatusServiceUnavailable, rw.Code)

		resp := &healthCheckResp{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), resp))
		require.Equal(t, "not connected", resp.MQStatus)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	require.Error(t, s.Stop(ctx))
}

type mockConnectionChecker struct {
	connected bool
}

func (m *mockConnectionChecker) IsConnected() bool {
	return m.connected
}
