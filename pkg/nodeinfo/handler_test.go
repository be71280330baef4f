/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	retriever := &mockRetriever{}

	t.Run("Version 2.0 -> 200", func(t *testing.T) {
		h := NewHandler(V2_0, retriever)

		require.Equal(t, "/nodeinfo/2.0", h.Path())
		require.Equal(t, http.MethodGet, h.Method())
		require.NotNil(t, h.Handler())

		rw := httptest.NewRecorder()

		h.Handler()(rw, httptest.NewRequest(http.MethodGet, "/nodeinfo/2.0", nil))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t,
			`application/json; profile="http://nodeinfo.diaspora.software/ns/schema/2.0#"`,
			rw.Header().Get("Content-Type"))

		nodeInfo := &NodeInfo{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), nodeInfo))
		require.Equal(t, V2_0, nodeInfo.Version)
	})

	t.Run("Version 2.1 -> 200", func(t *testing.T) {
		h := NewHandler(V2_1, retriever)

		require.Equal(t, "/nodeinfo/2.1", h.Path())

		rw := httptest.NewRecorder()

		h.Handler()(rw, httptest.NewRequest(http.MethodGet, "/nodeinfo/2.1", nil))

		require.Equal(t, http.StatusOK, rw.Code)
	})

	t.Run("Marshal error -> 500", func(t *testing.T) {
		h := NewHandler(V2_0, retriever)

		h.marshal = func(interface{}) ([]byte, error) {
			return nil, errors.New("injected marshal error")
		}

		rw := httptest.NewRecorder()

		h.Handler()(rw, httptest.NewRequest(http.MethodGet, "/nodeinfo/2.0", nil))

		require.Equal(t, http.StatusInternalServerError, rw.Code)
	})
}

type mockRetriever struct{}

func (m *mockRetriever) GetNodeInfo(version Version) *NodeInfo {
	return &NodeInfo{
		Version:   version,
		Protocols: []string{activityPubProtocol},
	}
}
