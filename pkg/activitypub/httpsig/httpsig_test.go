/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"bytes"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

func TestSignVerifyRequest(t *testing.T) {
	retriever := newMockActorRetriever(t)

	actorIRI := retriever.actorIRI
	keyID := retriever.keyID

	verifier := NewVerifier(retriever)

	t.Run("GET -> success", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "https://b.example.com/services/main", http.NoBody)
		require.NoError(t, err)

		signer := NewSigner(DefaultGetSignerConfig(), retriever.privateKey)
		require.NoError(t, signer.SignRequest(keyID.String(), req))

		require.NotEmpty(t, req.Header.Get("Signature"))
		require.NotEmpty(t, req.Header.Get("Date"))

		ok, actorID, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, actorIRI.String(), actorID.String())
	})

	t.Run("POST -> success", func(t *testing.T) {
		payload := []byte(`{"type":"Create","actor":"https://a.example.com/services/main"}`)

		req, err := http.NewRequest(http.MethodPost, "https://b.example.com/services/main/inbox",
			bytes.NewBuffer(payload))
		require.NoError(t, err)

		signer := NewSigner(DefaultPostSignerConfig(), retriever.privateKey)
		require.NoError(t, signer.SignRequest(keyID.String(), req))

		require.NotEmpty(t, req.Header.Get("Digest"))

		req.Body = newBody(payload)

		ok, actorID, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, actorIRI.String(), actorID.String())
	})

	t.Run("POST with tampered body -> fail", func(t *testing.T) {
		payload := []byte(`{"type":"Create","actor":"https://a.example.com/services/main"}`)

		req, err := http.NewRequest(http.MethodPost, "https://b.example.com/services/main/inbox",
			bytes.NewBuffer(payload))
		require.NoError(t, err)

		signer := NewSigner(DefaultPostSignerConfig(), retriever.privateKey)
		require.NoError(t, signer.SignRequest(keyID.String(), req))

		req.Body = newBody([]byte(`{"type":"Delete"}`))

		ok, actorID, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, actorID)
	})

	t.Run("Signed with wrong key -> fail", func(t *testing.T) {
		otherKey, err := apcrypto.GenerateKeyPair()
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, "https://b.example.com/services/main", http.NoBody)
		require.NoError(t, err)

		signer := NewSigner(DefaultGetSignerConfig(), otherKey)
		require.NoError(t, signer.SignRequest(keyID.String(), req))

		ok, actorID, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, actorID)
	})

	t.Run("No signature header -> fail", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "https://b.example.com/services/main", http.NoBody)
		require.NoError(t, err)

		ok, actorID, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, actorID)
	})

	t.Run("Key owned by different actor -> fail", func(t *testing.T) {
		// The actor declares a different key ID than the one used to sign the
		// request, which indicates an impersonation attempt.
		imposter := newMockActorRetriever(t)
		imposter.keys[keyID.String()] = retriever.keys[keyID.String()]
		imposter.actors[actorIRI.String()] = vocab.NewService(actorIRI,
			vocab.WithPublicKey(vocab.NewPublicKey(
				vocab.WithID(vocab.MustParseURL("https://a.example.com/services/main#other-key")),
				vocab.WithOwner(actorIRI),
			)))

		req, err := http.NewRequest(http.MethodGet, "https://b.example.com/services/main", http.NoBody)
		require.NoError(t, err)

		signer := NewSigner(DefaultGetSignerConfig(), retriever.privateKey)
		require.NoError(t, signer.SignRequest(keyID.String(), req))

		ok, actorID, err := NewVerifier(imposter).VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, actorID)
	})
}

func TestVerifier_Hs2019(t *testing.T) {
	retriever := newMockActorRetriever(t)

	req, err := http.NewRequest(http.MethodGet, "https://b.example.com/services/main", http.NoBody)
	require.NoError(t, err)

	signer := NewSigner(DefaultGetSignerConfig(), retriever.privateKey)
	require.NoError(t, signer.SignRequest(retriever.keyID.String(), req))

	// Some implementations declare the generic 'hs2019' algorithm in the Signature
	// header. The declared algorithm is ignored and rsa-sha256 is always used.
	sigHeader := req.Header.Get("Signature")
	req.Header.Set("Signature", replaceAlgorithm(sigHeader))

	ok, actorID, err := NewVerifier(retriever).VerifyRequest(req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, retriever.actorIRI.String(), actorID.String())
}

func TestObjectSignVerify(t *testing.T) {
	retriever := newMockActorRetriever(t)

	doc := vocab.Document{
		"@context": vocab.ContextActivityStreams,
		"id":       "https://a.example.com/activities/create-100",
		"type":     "Create",
		"actor":    retriever.actorIRI.String(),
	}

	signer := NewObjectSigner(retriever.privateKey, retriever.keyID.String())

	signedDoc, err := signer.SignObject(doc)
	require.NoError(t, err)
	require.NotNil(t, signedDoc[signatureProperty])

	// The source document is untouched.
	_, ok := doc[signatureProperty]
	require.False(t, ok)

	verifier := NewObjectVerifier(retriever)

	ownerIRI, err := verifier.VerifyObject(signedDoc)
	require.NoError(t, err)
	require.Equal(t, retriever.actorIRI.String(), ownerIRI.String())

	t.Run("Tampered document -> fail", func(t *testing.T) {
		tampered := copyDoc(signedDoc)
		tampered["actor"] = "https://evil.example.com/services/main"

		_, err := verifier.VerifyObject(tampered)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("No signature -> error", func(t *testing.T) {
		_, err := verifier.VerifyObject(doc)
		require.EqualError(t, err, "object has no signature")
	})

	t.Run("Unsupported signature type -> error", func(t *testing.T) {
		tampered := copyDoc(signedDoc)
		tampered[signatureProperty] = map[string]interface{}{"type": "Ed25519Signature2020"}

		_, err := verifier.VerifyObject(tampered)
		require.Contains(t, err.Error(), "unsupported signature type")
	})
}

type mockActorRetriever struct {
	actorIRI   *url.URL
	keyID      *url.URL
	privateKey *rsa.PrivateKey
	keys       map[string]*vocab.PublicKeyType
	actors     map[string]*vocab.ActorType
}

func newMockActorRetriever(t *testing.T) *mockActorRetriever {
	t.Helper()

	privateKey, err := apcrypto.GenerateKeyPair()
	require.NoError(t, err)

	pubPem, err := apcrypto.EncodePublicKeyPEM(&privateKey.PublicKey)
	require.NoError(t, err)

	actorIRI := vocab.MustParseURL("https://a.example.com/services/main")
	keyID := vocab.MustParseURL("https://a.example.com/services/main#main-key")

	publicKey := vocab.NewPublicKey(
		vocab.WithID(keyID),
		vocab.WithOwner(actorIRI),
		vocab.WithPublicKeyPem(string(pubPem)),
	)

	actor := vocab.NewService(actorIRI, vocab.WithPublicKey(publicKey))

	return &mockActorRetriever{
		actorIRI:   actorIRI,
		keyID:      keyID,
		privateKey: privateKey,
		keys:       map[string]*vocab.PublicKeyType{keyID.String(): publicKey},
		actors:     map[string]*vocab.ActorType{actorIRI.String(): actor},
	}
}

func (m *mockActorRetriever) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	publicKey, ok := m.keys[keyIRI.String()]
	if !ok {
		return nil, fmt.Errorf("public key not found [%s]", keyIRI)
	}

	return publicKey, nil
}

func (m *mockActorRetriever) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	actor, ok := m.actors[actorIRI.String()]
	if !ok {
		return nil, fmt.Errorf("actor not found [%s]", actorIRI)
	}

	return actor, nil
}

func newBody(payload []byte) *bodyReader {
	return &bodyReader{Buffer: bytes.NewBuffer(payload)}
}

type bodyReader struct {
	*bytes.Buffer
}

func (r *bodyReader) Close() error {
	return nil
}

func replaceAlgorithm(sigHeader string) string {
	return strings.Replace(sigHeader, `algorithm="rsa-sha256"`, `algorithm="hs2019"`, 1)
}
