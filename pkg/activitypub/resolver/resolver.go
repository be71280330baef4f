/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resolver

import (
	"crypto/rsa"
	"fmt"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

var logger = log.New("key_resolver")

const (
	defaultCacheSize       = 100
	defaultCacheExpiration = time.Hour
)

type publicKeyRetriever interface {
	GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error)
}

// PublicKeyResolver resolves the RSA public key for a key ID. Resolved keys are cached
// with an expiry so that remote actors are not fetched on every request. Invalidate
// evicts a key, which allows verification to recover after a remote key rotation.
type PublicKeyResolver struct {
	retriever publicKeyRetriever
	keyCache  gcache.Cache
}

// Option sets an option on the resolver.
type Option func(r *options)

type options struct {
	cacheSize       int
	cacheExpiration time.Duration
}

// WithCacheSize sets the size of the key cache.
func WithCacheSize(size int) Option {
	return func(r *options) {
		r.cacheSize = size
	}
}

// WithCacheExpiration sets the expiration of keys in the cache.
func WithCacheExpiration(expiration time.Duration) Option {
	return func(r *options) {
		r.cacheExpiration = expiration
	}
}

// New returns a new public key resolver which fetches keys with the given retriever.
func New(retriever publicKeyRetriever, opts ...Option) *PublicKeyResolver {
	options := &options{
		cacheSize:       defaultCacheSize,
		cacheExpiration: defaultCacheExpiration,
	}

	for _, opt := range opts {
		opt(options)
	}

	r := &PublicKeyResolver{
		retriever: retriever,
	}

	r.keyCache = gcache.New(options.cacheSize).ARC().
		Expiration(options.cacheExpiration).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return r.resolve(key.(string)) //nolint:errcheck,forcetypeassert
		}).Build()

	return r
}

// Resolve returns the RSA public key for the given key ID.
func (r *PublicKeyResolver) Resolve(keyID string) (*rsa.PublicKey, error) {
	result, err := r.keyCache.Get(keyID)
	if err != nil {
		logger.Debug("Error resolving public key", logfields.WithKeyID(keyID), log.WithError(err))

		return nil, err
	}

	return result.(*rsa.PublicKey), nil //nolint:errcheck,forcetypeassert
}

// Invalidate evicts the given key ID from the cache so that the next Resolve fetches
// a fresh copy.
func (r *PublicKeyResolver) Invalidate(keyID string) {
	r.keyCache.Remove(keyID)

	logger.Debug("Invalidated public key", logfields.WithKeyID(keyID))
}

func (r *PublicKeyResolver) resolve(keyID string) (*rsa.PublicKey, error) {
	keyIRI, err := url.Parse(keyID)
	if err != nil {
		return nil, fmt.Errorf("parse key IRI [%s]: %w", keyID, err)
	}

	publicKey, err := r.retriever.GetPublicKey(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("retrieve public key [%s]: %w", keyID, err)
	}

	rsaKey, err := apcrypto.ParsePublicKeyPEM([]byte(publicKey.PublicKeyPem))
	if err != nil {
		return nil, fmt.Errorf("parse public key [%s]: %w", keyID, err)
	}

	logger.Debug("Resolved public key", logfields.WithKeyID(keyID))

	return rsaKey, nil
}
