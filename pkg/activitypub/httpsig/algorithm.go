/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"

	httpsig "github.com/igor-pavlenko/httpsignatures-go"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

var logger = log.New("httpsig")

// Algorithm is the signature algorithm used in the Signature header.
const Algorithm = "rsa-sha256"

// ErrInvalidSignature indicates that the signature is not valid for the given data.
var ErrInvalidSignature = errors.New("invalid HTTP signature")

type publicKeyRetriever interface {
	GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error)
}

type keyResolver interface {
	// Resolve returns the RSA public key for the given key ID.
	Resolve(keyID string) (*rsa.PublicKey, error)
}

// SignatureHashAlgorithm is a custom httpsignatures.SignatureHashAlgorithm that signs and
// verifies HTTP requests with RSASSA-PKCS1-v1_5 using SHA-256.
type SignatureHashAlgorithm struct {
	privateKey  *rsa.PrivateKey
	keyResolver keyResolver
}

// NewSignerAlgorithm returns a new SignatureHashAlgorithm which signs HTTP requests
// with the given private key.
func NewSignerAlgorithm(privateKey *rsa.PrivateKey) *SignatureHashAlgorithm {
	return &SignatureHashAlgorithm{
		privateKey: privateKey,
	}
}

// NewVerifierAlgorithm returns a new SignatureHashAlgorithm which is used to verify the signature
// in the HTTP request header.
func NewVerifierAlgorithm(keyResolver keyResolver) *SignatureHashAlgorithm {
	return &SignatureHashAlgorithm{
		keyResolver: keyResolver,
	}
}

// Algorithm returns this algorithm's name.
func (a *SignatureHashAlgorithm) Algorithm() string {
	return Algorithm
}

// Create signs data with the private key.
func (a *SignatureHashAlgorithm) Create(secret httpsig.Secret, data []byte) ([]byte, error) {
	if a.privateKey == nil {
		return nil, errors.New("no private key configured for signing")
	}

	sig, err := apcrypto.Sign(a.privateKey, data)
	if err != nil {
		return nil, fmt.Errorf("sign data: %w", err)
	}

	logger.Debug("Successfully signed data", logfields.WithKeyID(secret.KeyID))

	return sig, nil
}

type keyInvalidator interface {
	Invalidate(keyID string)
}

// Verify verifies the signature over data using the public key resolved from the key ID.
// If verification fails and the resolver caches keys then the key is invalidated and
// verification is retried with a freshly resolved key, so that a remote key rotation
// does not cause requests to be rejected until the cache expires.
func (a *SignatureHashAlgorithm) Verify(secret httpsig.Secret, data, signature []byte) error {
	err := a.verify(secret.KeyID, data, signature)
	if !errors.Is(err, ErrInvalidSignature) {
		return err
	}

	invalidator, ok := a.keyResolver.(keyInvalidator)
	if !ok {
		return err
	}

	invalidator.Invalidate(secret.KeyID)

	return a.verify(secret.KeyID, data, signature)
}

func (a *SignatureHashAlgorithm) verify(keyID string, data, signature []byte) error {
	publicKey, err := a.keyResolver.Resolve(keyID)
	if err != nil {
		return fmt.Errorf("resolve key [%s]: %w", keyID, err)
	}

	if err := apcrypto.Verify(publicKey, data, signature); err != nil {
		logger.Info("Signature verification failed", logfields.WithKeyID(keyID), log.WithError(err))

		return ErrInvalidSignature
	}

	logger.Debug("Successfully verified signature", logfields.WithKeyID(keyID))

	return nil
}

// KeyResolver resolves the public key for an ActivityPub actor.
type KeyResolver struct {
	retriever publicKeyRetriever
}

// NewKeyResolver returns a new KeyResolver.
func NewKeyResolver(retriever publicKeyRetriever) *KeyResolver {
	return &KeyResolver{retriever: retriever}
}

// Resolve returns the public key for the given key ID.
func (r *KeyResolver) Resolve(keyID string) (*rsa.PublicKey, error) {
	keyIRI, err := url.Parse(keyID)
	if err != nil {
		return nil, fmt.Errorf("parse key IRI [%s]: %w", keyID, err)
	}

	logger.Debug("Retrieving public key", logfields.WithKeyID(keyID))

	publicKey, err := r.retriever.GetPublicKey(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("retrieve public key for ID [%s]: %w", keyID, err)
	}

	rsaKey, err := apcrypto.ParsePublicKeyPEM([]byte(publicKey.PublicKeyPem))
	if err != nil {
		return nil, fmt.Errorf("parse public key for ID [%s]: %w", keyID, err)
	}

	return rsaKey, nil
}

// SecretRetriever implements a custom key retriever to be used with the HTTP signature library.
// The returned 'secret' directs the library to the rsa-sha256 SignatureHashAlgorithm above,
// regardless of the algorithm declared in the Signature header (e.g. 'hs2019').
type SecretRetriever struct{}

// Get returns a 'secret' for the given key ID.
func (r *SecretRetriever) Get(keyID string) (httpsig.Secret, error) {
	return httpsig.Secret{
		KeyID:     keyID,
		Algorithm: Algorithm,
	}, nil
}
