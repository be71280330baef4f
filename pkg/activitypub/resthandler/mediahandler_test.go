/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
)

func TestMediaHandlers(t *testing.T) {
	s := memstore.New("test1")

	cfg := newTestConfig()

	upload := NewUploadMedia(cfg, s)
	require.Equal(t, MediaPath, upload.Path())
	require.Equal(t, http.MethodPost, upload.Method())

	read := NewReadMedia(cfg, s)
	require.Equal(t, MediaIDPath, read.Path())
	require.Equal(t, http.MethodGet, read.Method())

	del := NewDeleteMedia(cfg, s)
	require.Equal(t, MediaIDPath, del.Path())
	require.Equal(t, http.MethodDelete, del.Method())

	payload := []byte("image bytes")

	var mediaID string

	t.Run("Upload -> 201", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, baseURL.String()+"/media", bytes.NewBuffer(payload))
		req.Header.Set(contentTypeHeader, "image/png")

		rw := httptest.NewRecorder()

		upload.Handler()(rw, req)

		require.Equal(t, http.StatusCreated, rw.Code)

		resp := &uploadMediaResponse{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), resp))

		require.NotEmpty(t, resp.ID)
		require.Equal(t, baseURL.String()+"/media/"+resp.ID, resp.URL)
		require.Equal(t, resp.URL, rw.Header().Get("Location"))

		mediaID = resp.ID
	})

	t.Run("Read -> 200 with stored content type", func(t *testing.T) {
		rw := httptest.NewRecorder()

		read.Handler()(rw, newMediaRequest(http.MethodGet, mediaID))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "image/png", rw.Header().Get(contentTypeHeader))
		require.Equal(t, payload, rw.Body.Bytes())
	})

	t.Run("Delete -> 200, subsequent read -> 404", func(t *testing.T) {
		rw := httptest.NewRecorder()

		del.Handler()(rw, newMediaRequest(http.MethodDelete, mediaID))

		require.Equal(t, http.StatusOK, rw.Code)

		rw = httptest.NewRecorder()

		read.Handler()(rw, newMediaRequest(http.MethodGet, mediaID))

		require.Equal(t, http.StatusNotFound, rw.Code)
	})

	t.Run("Empty payload -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		upload.Handler()(rw, httptest.NewRequest(http.MethodPost, baseURL.String()+"/media", nil))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Unknown media -> 404", func(t *testing.T) {
		rw := httptest.NewRecorder()

		read.Handler()(rw, newMediaRequest(http.MethodGet, "unknown"))

		require.Equal(t, http.StatusNotFound, rw.Code)
	})
}

func newMediaRequest(method, id string) *http.Request {
	req := httptest.NewRequest(method, baseURL.String()+"/media/"+id, nil)

	return mux.SetURLVars(req, map[string]string{idParam: id})
}
