/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

func TestNewPostOutbox(t *testing.T) {
	h := NewPostOutbox(newTestConfig(), memstore.New("test1"), &mockOutbox{})

	require.Equal(t, OutboxPath, h.Path())
	require.Equal(t, http.MethodPost, h.Method())
	require.NotNil(t, h.Handler())
}

func TestPostOutbox_Handler(t *testing.T) {
	activityID := vocab.MustParseURL(baseURL.String() + "/activities/create1")

	t.Run("Posted -> 200 with activity ID", func(t *testing.T) {
		ob := &mockOutbox{activityID: activityID}

		h := NewPostOutbox(newTestConfig(), memstore.New("test1"), ob)

		rw := httptest.NewRecorder()

		h.Handler()(rw, newOutboxPostRequest(t, newLocalActivity(aliceIRI)))

		require.Equal(t, http.StatusOK, rw.Code)

		var returnedID string

		require.NoError(t, json.Unmarshal(readBody(t, rw), &returnedID))
		require.Equal(t, activityID.String(), returnedID)

		require.Len(t, ob.posted, 1)
	})

	t.Run("Actor defaults to the outbox owner", func(t *testing.T) {
		ob := &mockOutbox{activityID: activityID}

		h := NewPostOutbox(newTestConfig(), memstore.New("test1"), ob)

		rw := httptest.NewRecorder()

		h.Handler()(rw, newOutboxPostRequest(t, newLocalActivity(nil)))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Len(t, ob.posted, 1)
		require.Equal(t, aliceIRI.String(), ob.posted[0].Actor().String())
	})

	t.Run("Actor mismatch -> 400", func(t *testing.T) {
		h := NewPostOutbox(newTestConfig(), memstore.New("test1"), &mockOutbox{activityID: activityID})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newOutboxPostRequest(t, newLocalActivity(bobIRI)))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Invalid payload -> 400", func(t *testing.T) {
		h := NewPostOutbox(newTestConfig(), memstore.New("test1"), &mockOutbox{activityID: activityID})

		req := httptest.NewRequest(http.MethodPost, aliceIRI.String()+"/outbox",
			bytes.NewBufferString("invalid payload"))
		req = mux.SetURLVars(req, map[string]string{usernameParam: "alice"})

		rw := httptest.NewRecorder()

		h.Handler()(rw, req)

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Outbox bad request -> 400", func(t *testing.T) {
		h := NewPostOutbox(newTestConfig(), memstore.New("test1"),
			&mockOutbox{err: pollenerrors.NewBadRequestf("unsupported activity type")})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newOutboxPostRequest(t, newLocalActivity(aliceIRI)))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Outbox transient error -> 500", func(t *testing.T) {
		h := NewPostOutbox(newTestConfig(), memstore.New("test1"),
			&mockOutbox{err: pollenerrors.NewTransientf("injected error")})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newOutboxPostRequest(t, newLocalActivity(aliceIRI)))

		require.Equal(t, http.StatusInternalServerError, rw.Code)
	})
}

func newLocalActivity(actorIRI *url.URL) *vocab.ActivityType {
	opts := []vocab.Opt{
		vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)),
	}

	if actorIRI != nil {
		opts = append(opts, vocab.WithActor(actorIRI))
	}

	return vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(vocab.NewObject(
			vocab.WithType(vocab.TypeNote),
			vocab.WithContent("A note"),
		))),
		opts...,
	)
}

func newOutboxPostRequest(t *testing.T, activity *vocab.ActivityType) *http.Request {
	t.Helper()

	activityBytes, err := json.Marshal(activity)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, aliceIRI.String()+"/outbox", bytes.NewBuffer(activityBytes))

	return mux.SetURLVars(req, map[string]string{usernameParam: "alice"})
}

type mockOutbox struct {
	posted     []*vocab.ActivityType
	activityID *url.URL
	err        error
}

func (m *mockOutbox) Post(_ context.Context, activity *vocab.ActivityType) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.posted = append(m.posted, activity)

	if m.activityID != nil {
		return m.activityID, nil
	}

	return vocab.MustParseURL(fmt.Sprintf("%s/activities/%d", baseURL, len(m.posted))), nil
}
