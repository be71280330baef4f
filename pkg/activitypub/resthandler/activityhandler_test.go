/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

const (
	inboxURL  = "https://pollen1.example.com/users/alice/inbox"
	outboxURL = "https://pollen1.example.com/users/alice/outbox"
)

func TestInbox_Handler(t *testing.T) {
	s := memstore.New("test1")

	for i := 0; i < 3; i++ {
		activity := newTestActivity(fmt.Sprintf("https://pollen2.example.org/activities/a%d", i), true)

		require.NoError(t, s.AddActivity(activity))
		require.NoError(t, s.AddReference(spi.Inbox, aliceIRI, activity.ID().URL()))
	}

	h := NewInbox(newTestConfig(), s)
	require.Equal(t, InboxPath, h.Path())

	t.Run("Collection", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivitiesRequest(inboxURL))

		require.Equal(t, http.StatusOK, rw.Code)

		coll := &vocab.OrderedCollectionType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), coll))

		require.Equal(t, inboxURL, coll.ID().String())
		require.Equal(t, 3, coll.TotalItems())
	})

	t.Run("Page contains activities, newest first", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivitiesRequest(inboxURL+"?page=true"))

		require.Equal(t, http.StatusOK, rw.Code)

		page := &vocab.OrderedCollectionPageType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), page))

		require.Len(t, page.Items(), 3)

		first := page.Items()[0].Activity()
		require.NotNil(t, first)
		require.Equal(t, "https://pollen2.example.org/activities/a2", first.ID().String())
	})
}

func TestReadOutbox_Handler(t *testing.T) {
	s := memstore.New("test1")

	for i := 0; i < 3; i++ {
		public := i != 1

		activity := newTestActivity(fmt.Sprintf("%s/activities/a%d", baseURL, i), public)

		require.NoError(t, s.AddActivity(activity))
		require.NoError(t, s.AddReference(spi.Outbox, aliceIRI, activity.ID().URL()))

		if public {
			require.NoError(t, s.AddReference(spi.PublicOutbox, aliceIRI, activity.ID().URL()))
		}
	}

	t.Run("Anonymous gets only public activities", func(t *testing.T) {
		h := NewReadOutbox(newTestConfig(), s, &mockTokenVerifier{ok: false})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivitiesRequest(outboxURL))

		require.Equal(t, http.StatusOK, rw.Code)

		coll := &vocab.OrderedCollectionType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), coll))

		require.Equal(t, 2, coll.TotalItems())
	})

	t.Run("Authorized gets all activities", func(t *testing.T) {
		h := NewReadOutbox(newTestConfig(), s, &mockTokenVerifier{ok: true})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivitiesRequest(outboxURL))

		require.Equal(t, http.StatusOK, rw.Code)

		coll := &vocab.OrderedCollectionType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), coll))

		require.Equal(t, 3, coll.TotalItems())
	})
}

func TestActivity_Handler(t *testing.T) {
	s := memstore.New("test1")

	publicActivity := newTestActivity(baseURL.String()+"/activities/public1", true)
	privateActivity := newTestActivity(baseURL.String()+"/activities/private1", false)

	require.NoError(t, s.AddActivity(publicActivity))
	require.NoError(t, s.AddActivity(privateActivity))

	h := NewActivity(newTestConfig(), s, &mockTokenVerifier{ok: false})
	require.Equal(t, ActivitiesPath, h.Path())

	t.Run("Public activity -> 200", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivityRequest("public1"))

		require.Equal(t, http.StatusOK, rw.Code)

		activity := &vocab.ActivityType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), activity))
		require.Equal(t, publicActivity.ID().String(), activity.ID().String())
	})

	t.Run("Non-public activity, anonymous -> 401", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivityRequest("private1"))

		require.Equal(t, http.StatusUnauthorized, rw.Code)
	})

	t.Run("Non-public activity, authorized -> 200", func(t *testing.T) {
		h := NewActivity(newTestConfig(), s, &mockTokenVerifier{ok: true})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivityRequest("private1"))

		require.Equal(t, http.StatusOK, rw.Code)
	})

	t.Run("Unknown activity -> 404", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newActivityRequest("unknown"))

		require.Equal(t, http.StatusNotFound, rw.Code)
	})

	t.Run("No ID -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, httptest.NewRequest(http.MethodGet, baseURL.String()+"/activities/", nil))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})
}

func newTestActivity(id string, public bool) *vocab.ActivityType {
	opts := []vocab.Opt{
		vocab.WithID(vocab.MustParseURL(id)),
		vocab.WithActor(aliceIRI),
	}

	if public {
		opts = append(opts, vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)))
	}

	return vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL(id+"/object"))),
		opts...,
	)
}

func newActivitiesRequest(rawURL string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, rawURL, nil)

	return mux.SetURLVars(req, map[string]string{usernameParam: "alice"})
}

func newActivityRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, baseURL.String()+"/activities/"+id, nil)

	return mux.SetURLVars(req, map[string]string{idParam: id})
}
