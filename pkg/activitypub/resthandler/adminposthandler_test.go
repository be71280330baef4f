/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

func TestNewPostAdmin(t *testing.T) {
	h := NewPostAdmin(newTestConfig(), memstore.New("test1"), &mockAdminHandler{})

	require.Equal(t, AdminPath, h.Path())
	require.Equal(t, http.MethodPost, h.Method())
	require.NotNil(t, h.Handler())
}

func TestPostAdmin_Handler(t *testing.T) {
	activity := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice")).ObjectType,
		)),
	)

	t.Run("Handled -> 200", func(t *testing.T) {
		adminHandler := &mockAdminHandler{}

		h := NewPostAdmin(newTestConfig(), memstore.New("test1"), adminHandler)

		rw := httptest.NewRecorder()

		h.Handler()(rw, newAdminPostRequest(t, activity))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Len(t, adminHandler.handled, 1)
	})

	t.Run("Invalid payload -> 400", func(t *testing.T) {
		h := NewPostAdmin(newTestConfig(), memstore.New("test1"), &mockAdminHandler{})

		rw := httptest.NewRecorder()

		h.Handler()(rw, httptest.NewRequest(http.MethodPost, baseURL.String()+"/admin",
			bytes.NewBufferString("invalid payload")))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Handler bad request -> 400", func(t *testing.T) {
		h := NewPostAdmin(newTestConfig(), memstore.New("test1"),
			&mockAdminHandler{err: pollenerrors.NewBadRequestf("unsupported admin activity")})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newAdminPostRequest(t, activity))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Handler transient error -> 500", func(t *testing.T) {
		h := NewPostAdmin(newTestConfig(), memstore.New("test1"),
			&mockAdminHandler{err: pollenerrors.NewTransientf("injected error")})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newAdminPostRequest(t, activity))

		require.Equal(t, http.StatusInternalServerError, rw.Code)
	})
}

func newAdminPostRequest(t *testing.T, activity *vocab.ActivityType) *http.Request {
	t.Helper()

	activityBytes, err := json.Marshal(activity)
	require.NoError(t, err)

	return httptest.NewRequest(http.MethodPost, baseURL.String()+"/admin", bytes.NewBuffer(activityBytes))
}

type mockAdminHandler struct {
	handled []*vocab.ActivityType
	err     error
}

func (m *mockAdminHandler) HandleAdminActivity(_ context.Context, activity *vocab.ActivityType) error {
	if m.err != nil {
		return m.err
	}

	m.handled = append(m.handled, activity)

	return nil
}
