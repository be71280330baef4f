/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/httpsig"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

func TestTransport_GetPost(t *testing.T) {
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotHeader = req.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	privateKey, err := apcrypto.GenerateKeyPair()
	require.NoError(t, err)

	keyID := vocab.MustParseURL("https://a.example.com/services/main#main-key")

	tp := New(http.DefaultClient, keyID,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig(), privateKey),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig(), privateKey))

	t.Run("GET is signed", func(t *testing.T) {
		resp, err := tp.Get(context.Background(),
			NewRequest(vocab.MustParseURL(srv.URL), WithHeader(AcceptHeader, ActivityStreamsContentType)))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Contains(t, gotHeader.Get("Signature"), keyID.String())
		require.Equal(t, ActivityStreamsContentType, gotHeader.Get(AcceptHeader))
	})

	t.Run("POST is signed with digest", func(t *testing.T) {
		resp, err := tp.Post(context.Background(),
			NewRequest(vocab.MustParseURL(srv.URL), WithHeader(ContentTypeHeader, ActivityStreamsContentType)),
			[]byte(`{"type":"Follow"}`))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Contains(t, gotHeader.Get("Signature"), keyID.String())
		require.NotEmpty(t, gotHeader.Get("Digest"))
	})

	t.Run("Bearer token suppresses signature", func(t *testing.T) {
		resp, err := tp.Post(context.Background(),
			NewRequest(vocab.MustParseURL(srv.URL), WithAuthToken("s3cr3t")),
			[]byte(`{"type":"Create"}`))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Equal(t, "Bearer s3cr3t", gotHeader.Get(AuthorizationHeader))
		require.Empty(t, gotHeader.Get("Signature"))
	})

	t.Run("Anonymous transport does not sign", func(t *testing.T) {
		resp, err := Default().Get(context.Background(), NewRequest(vocab.MustParseURL(srv.URL)))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Empty(t, gotHeader.Get("Signature"))
	})
}

func TestTransport_DeferredUpgrade(t *testing.T) {
	privateKey, err := apcrypto.GenerateKeyPair()
	require.NoError(t, err)

	privateKeyPem, err := apcrypto.EncodePrivateKeyPEM(privateKey)
	require.NoError(t, err)

	var (
		actorAuthHeader string
		postHeader      http.Header
	)

	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	actorIRI := vocab.MustParseURL(srv.URL + "/users/alice")
	keyID := vocab.MustParseURL(srv.URL + "/users/alice#main-key")

	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, req *http.Request) {
		actorAuthHeader = req.Header.Get(AuthorizationHeader)

		actorBytes, err := json.Marshal(map[string]interface{}{
			"id":   actorIRI.String(),
			"type": "Person",
			"publicKey": map[string]interface{}{
				"id":    keyID.String(),
				"owner": actorIRI.String(),
			},
			"privateKeyPem": string(privateKeyPem),
		})
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
		_, err = w.Write(actorBytes)
		require.NoError(t, err)
	})

	mux.HandleFunc("/inbox", func(w http.ResponseWriter, req *http.Request) {
		postHeader = req.Header.Clone()
		w.WriteHeader(http.StatusOK)
	})

	tp := NewWithAuthToken(http.DefaultClient, actorIRI, "s3cr3t")

	resp, err := tp.Post(context.Background(),
		NewRequest(vocab.MustParseURL(srv.URL+"/inbox"), WithHeader(ContentTypeHeader, ActivityStreamsContentType)),
		[]byte(`{"type":"Follow"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// The actor document was fetched with the bearer token and the delivery was
	// signed with the extracted key.
	require.Equal(t, "Bearer s3cr3t", actorAuthHeader)
	require.Contains(t, postHeader.Get("Signature"), keyID.String())
	require.NotEmpty(t, postHeader.Get("Digest"))
	require.Empty(t, postHeader.Get(AuthorizationHeader))

	t.Run("No private key in document -> error", func(t *testing.T) {
		mux.HandleFunc("/users/bob", func(w http.ResponseWriter, req *http.Request) {
			_, err := w.Write([]byte(`{"id":"` + srv.URL + `/users/bob","type":"Person"}`))
			require.NoError(t, err)
		})

		tp := NewWithAuthToken(http.DefaultClient, vocab.MustParseURL(srv.URL+"/users/bob"), "s3cr3t")

		_, err := tp.Get(context.Background(), NewRequest(vocab.MustParseURL(srv.URL+"/inbox")))
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not include a private key")
	})
}
