/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

func TestObject_Handler(t *testing.T) {
	s := memstore.New("test1")

	publicObjIRI := vocab.MustParseURL(aliceIRI.String() + "/objects/note1")
	privateObjIRI := vocab.MustParseURL(aliceIRI.String() + "/objects/note2")

	require.NoError(t, s.PutObject(vocab.NewObject(
		vocab.WithID(publicObjIRI),
		vocab.WithType(vocab.TypeNote),
		vocab.WithContent("A public note"),
		vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)),
	)))

	require.NoError(t, s.PutObject(vocab.NewObject(
		vocab.WithID(privateObjIRI),
		vocab.WithType(vocab.TypeNote),
		vocab.WithContent("A private note"),
	)))

	h := NewObject(newTestConfig(), s, &mockTokenVerifier{ok: false})
	require.Equal(t, ObjectPath, h.Path())

	t.Run("Public object -> 200", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newObjectRequest("note1"))

		require.Equal(t, http.StatusOK, rw.Code)

		obj := &vocab.ObjectType{}
		require.NoError(t, json.Unmarshal(readBody(t, rw), obj))
		require.Equal(t, publicObjIRI.String(), obj.ID().String())
		require.Equal(t, "A public note", obj.Content())
	})

	t.Run("Non-public object, anonymous -> 401", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newObjectRequest("note2"))

		require.Equal(t, http.StatusUnauthorized, rw.Code)
	})

	t.Run("Non-public object, authorized -> 200", func(t *testing.T) {
		h := NewObject(newTestConfig(), s, &mockTokenVerifier{ok: true})

		rw := httptest.NewRecorder()

		h.Handler()(rw, newObjectRequest("note2"))

		require.Equal(t, http.StatusOK, rw.Code)
	})

	t.Run("Unknown object -> 404", func(t *testing.T) {
		rw := httptest.NewRecorder()

		h.Handler()(rw, newObjectRequest("unknown"))

		require.Equal(t, http.StatusNotFound, rw.Code)
	})
}

func newObjectRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, aliceIRI.String()+"/objects/"+id, nil)

	return mux.SetURLVars(req, map[string]string{usernameParam: "alice", idParam: id})
}
