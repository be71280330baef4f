/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/webfinger/model"
)

func TestClient_ResolveWebFingerResource(t *testing.T) {
	jrd := &model.JRD{
		Subject: "acct:alice@a.example.com",
		Links: []model.Link{
			{Rel: model.RelSelf, Type: model.ActivityStreamsType, Href: "https://a.example.com/users/alice"},
		},
	}

	t.Run("Success", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusOK, jrd)))

		resolved, err := c.ResolveWebFingerResource("https://a.example.com", "acct:alice@a.example.com")
		require.NoError(t, err)
		require.Equal(t, jrd.Subject, resolved.Subject)
		require.Len(t, resolved.Links, 1)
	})

	t.Run("Not found", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusNotFound, nil)))

		_, err := c.ResolveWebFingerResource("https://a.example.com", "acct:bob@a.example.com")
		require.ErrorIs(t, err, model.ErrResourceNotFound)
	})

	t.Run("Server error -> transient", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusInternalServerError, nil)))

		_, err := c.ResolveWebFingerResource("https://a.example.com", "acct:alice@a.example.com")
		require.Error(t, err)
		require.Contains(t, err.Error(), "transient")
	})

	t.Run("Cached after first resolve", func(t *testing.T) {
		client := newMockHTTPClient(t, http.StatusOK, jrd)

		c := New(WithHTTPClient(client), WithCacheSize(10))

		_, err := c.ResolveWebFingerResource("https://a.example.com", "acct:alice@a.example.com")
		require.NoError(t, err)

		_, err = c.ResolveWebFingerResource("https://a.example.com", "acct:alice@a.example.com")
		require.NoError(t, err)

		require.Equal(t, 1, client.invocations)
	})
}

func TestClient_ResolveActorIRI(t *testing.T) {
	jrd := &model.JRD{
		Subject: "acct:alice@a.example.com",
		Links: []model.Link{
			{Rel: "alternate", Type: "text/html", Href: "https://a.example.com/@alice"},
			{Rel: model.RelSelf, Type: model.ActivityStreamsType, Href: "https://a.example.com/users/alice"},
		},
	}

	t.Run("Success", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusOK, jrd)))

		actorIRI, err := c.ResolveActorIRI("alice@a.example.com")
		require.NoError(t, err)
		require.Equal(t, "https://a.example.com/users/alice", actorIRI.String())
	})

	t.Run("Invalid alias -> bad request", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusOK, jrd)))

		_, err := c.ResolveActorIRI("alice")
		require.Error(t, err)
	})

	t.Run("No self link -> not found", func(t *testing.T) {
		c := New(WithHTTPClient(newMockHTTPClient(t, http.StatusOK, &model.JRD{
			Subject: "acct:alice@a.example.com",
		})))

		_, err := c.ResolveActorIRI("alice@a.example.com")
		require.ErrorIs(t, err, model.ErrResourceNotFound)
	})
}

type mockHTTPClient struct {
	t           *testing.T
	status      int
	response    interface{}
	invocations int
}

func newMockHTTPClient(t *testing.T, status int, response interface{}) *mockHTTPClient {
	t.Helper()

	return &mockHTTPClient{t: t, status: status, response: response}
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.invocations++

	require.Contains(m.t, req.URL.String(), "/.well-known/webfinger?resource=")

	var body []byte

	if m.response != nil {
		var err error

		body, err = json.Marshal(m.response)
		require.NoError(m.t, err)
	}

	return &http.Response{
		StatusCode: m.status,
		Status:     fmt.Sprintf("%d", m.status),
		Body:       io.NopCloser(bytes.NewBuffer(body)),
	}, nil
}
