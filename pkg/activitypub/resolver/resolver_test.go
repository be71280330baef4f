/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resolver

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

func TestPublicKeyResolver(t *testing.T) {
	keyID := "https://a.example.com/users/alice#main-key"

	privateKey, err := apcrypto.GenerateKeyPair()
	require.NoError(t, err)

	pubPem, err := apcrypto.EncodePublicKeyPEM(&privateKey.PublicKey)
	require.NoError(t, err)

	retriever := &mockRetriever{
		keys: map[string]*vocab.PublicKeyType{
			keyID: vocab.NewPublicKey(
				vocab.WithID(vocab.MustParseURL(keyID)),
				vocab.WithOwner(vocab.MustParseURL("https://a.example.com/users/alice")),
				vocab.WithPublicKeyPem(string(pubPem)),
			),
		},
	}

	r := New(retriever)

	resolved, err := r.Resolve(keyID)
	require.NoError(t, err)
	require.True(t, privateKey.PublicKey.Equal(resolved))

	// Second resolve is served from the cache.
	_, err = r.Resolve(keyID)
	require.NoError(t, err)
	require.Equal(t, 1, retriever.invocations)

	// Invalidation forces a fresh fetch.
	r.Invalidate(keyID)

	_, err = r.Resolve(keyID)
	require.NoError(t, err)
	require.Equal(t, 2, retriever.invocations)

	t.Run("Unknown key", func(t *testing.T) {
		_, err := r.Resolve("https://a.example.com/users/bob#main-key")
		require.Error(t, err)
	})

	t.Run("Invalid PEM", func(t *testing.T) {
		badKeyID := "https://a.example.com/users/carol#main-key"

		retriever.keys[badKeyID] = vocab.NewPublicKey(
			vocab.WithID(vocab.MustParseURL(badKeyID)),
			vocab.WithPublicKeyPem("not pem"),
		)

		_, err := r.Resolve(badKeyID)
		require.Error(t, err)
		require.Contains(t, err.Error(), "parse public key")
	})
}

type mockRetriever struct {
	keys        map[string]*vocab.PublicKeyType
	invocations int
}

func (m *mockRetriever) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	m.invocations++

	key, ok := m.keys[keyIRI.String()]
	if !ok {
		return nil, fmt.Errorf("public key not found [%s]", keyIRI)
	}

	return key, nil
}
