/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/httpsig"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

var logger = log.New("activitypub_client")

const (
	// AcceptHeader is the name of the Accept header.
	AcceptHeader = "Accept"
	// ContentTypeHeader is the name of the Content-Type header.
	ContentTypeHeader = "Content-Type"
	// AuthorizationHeader is the name of the Authorization header.
	AuthorizationHeader = "Authorization"

	// ActivityStreamsContentType is the content type used for ActivityPub requests and responses.
	ActivityStreamsContentType = "application/activity+json"
)

// Signer signs an HTTP request and adds the signature to the header of the request.
type Signer interface {
	SignRequest(publicKeyID string, req *http.Request) error
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport implements a client-side transport that sends GETs and POSTs with HTTP signatures.
type Transport struct {
	client      httpClient
	getSigner   Signer
	postSigner  Signer
	publicKeyID *url.URL

	// actorIRI and authToken are set in deferred mode. The signers above remain
	// nil until the first signed request triggers an upgrade.
	actorIRI  *url.URL
	authToken string
	mutex     sync.RWMutex
}

// New returns a new transport which signs requests with the given signers on behalf of
// the actor that owns the given public key.
func New(client httpClient, publicKeyID *url.URL, getSigner, postSigner Signer) *Transport {
	return &Transport{
		client:      client,
		publicKeyID: publicKeyID,
		getSigner:   getSigner,
		postSigner:  postSigner,
	}
}

// NewWithAuthToken returns a transport in deferred mode. On the first request that
// requires a signature, the transport fetches the given actor's own document using
// the bearer token, extracts the private key material from the response, and
// upgrades itself to HTTP signature signing.
func NewWithAuthToken(client httpClient, actorIRI *url.URL, authToken string) *Transport {
	return &Transport{
		client:    client,
		actorIRI:  actorIRI,
		authToken: authToken,
	}
}

// NewAnonymous returns a transport that does not sign requests.
func NewAnonymous(client httpClient) *Transport {
	return &Transport{
		client:      client,
		publicKeyID: &url.URL{},
		getSigner:   &NoOpSigner{},
		postSigner:  &NoOpSigner{},
	}
}

// Default returns a transport that uses the default HTTP client and no HTTP signatures.
// This transport should only be used by tests.
func Default() *Transport {
	return NewAnonymous(http.DefaultClient)
}

// Request contains the destination URL and headers.
type Request struct {
	URL    *url.URL
	Header http.Header

	authToken string
}

// RequestOpt sets an option on a request.
type RequestOpt func(r *Request)

// WithHeader sets a header on the request.
func WithHeader(name string, values ...string) RequestOpt {
	return func(r *Request) {
		r.Header[name] = values
	}
}

// WithAuthToken sets a bearer token on the request. Requests with a bearer token are
// not signed since the server authorizes them by the token alone.
func WithAuthToken(token string) RequestOpt {
	return func(r *Request) {
		r.authToken = token
	}
}

// NewRequest returns a new request.
func NewRequest(toURL *url.URL, opts ...RequestOpt) *Request {
	r := &Request{
		URL:    toURL,
		Header: make(http.Header),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Post sends an HTTP POST. The request is signed and the signature added to the request
// header, unless the request carries a bearer token.
func (t *Transport) Post(ctx context.Context, r *Request, payload []byte) (*http.Response, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("new request to %s: %w", r.URL, err)
	}

	req.Header = r.Header

	if r.authToken != "" {
		req.Header.Set(AuthorizationHeader, "Bearer "+r.authToken)
	} else if err := t.signRequest(ctx, req, true); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Sending HTTP POST", logfields.WithRequestURL(r.URL), logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

// Get sends an HTTP GET. The request is signed and the signature added to the request
// header, unless the request carries a bearer token.
func (t *Transport) Get(ctx context.Context, r *Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", r.URL, err)
	}

	req.Header = r.Header

	if r.authToken != "" {
		req.Header.Set(AuthorizationHeader, "Bearer "+r.authToken)
	} else if err := t.signRequest(ctx, req, false); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Sending HTTP GET", logfields.WithRequestURL(r.URL), logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

func (t *Transport) signRequest(ctx context.Context, req *http.Request, post bool) error {
	if err := t.ensureSigners(ctx); err != nil {
		return err
	}

	t.mutex.RLock()

	signer := t.getSigner
	if post {
		signer = t.postSigner
	}

	publicKeyID := t.publicKeyID

	t.mutex.RUnlock()

	return signer.SignRequest(publicKeyID.String(), req)
}

// ensureSigners upgrades a deferred-mode transport to HTTP signature signing. The
// transport fetches its own actor document with the bearer token, extracts the
// private key material, and constructs the request signers. Subsequent calls are
// a no-op.
func (t *Transport) ensureSigners(ctx context.Context) error {
	t.mutex.RLock()
	initialized := t.getSigner != nil
	t.mutex.RUnlock()

	if initialized {
		return nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.getSigner != nil {
		return nil
	}

	actor, err := t.fetchOwnActor(ctx)
	if err != nil {
		return fmt.Errorf("fetch actor [%s]: %w", t.actorIRI, err)
	}

	if actor.PrivateKeyPem() == "" {
		return fmt.Errorf("actor document [%s] does not include a private key", t.actorIRI)
	}

	if actor.PublicKey() == nil || actor.PublicKey().ID.URL() == nil {
		return fmt.Errorf("actor document [%s] does not include a public key ID", t.actorIRI)
	}

	privateKey, err := crypto.ParsePrivateKeyPEM([]byte(actor.PrivateKeyPem()))
	if err != nil {
		return fmt.Errorf("parse private key of actor [%s]: %w", t.actorIRI, err)
	}

	t.publicKeyID = actor.PublicKey().ID.URL()
	t.getSigner = httpsig.NewSigner(httpsig.DefaultGetSignerConfig(), privateKey)
	t.postSigner = httpsig.NewSigner(httpsig.DefaultPostSignerConfig(), privateKey)

	logger.Info("Upgraded transport to HTTP signature signing",
		logfields.WithActorIRI(t.actorIRI), logfields.WithKeyID(t.publicKeyID.String()))

	return nil
}

func (t *Transport) fetchOwnActor(ctx context.Context) (*vocab.ActorType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.actorIRI.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(AcceptHeader, ActivityStreamsContentType)
	req.Header.Set(AuthorizationHeader, "Bearer "+t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Error closing response body", log.WithError(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code [%d]", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	actor := &vocab.ActorType{}

	if err := json.Unmarshal(body, actor); err != nil {
		return nil, fmt.Errorf("unmarshal actor document: %w", err)
	}

	return actor, nil
}

// NoOpSigner is a signer that does nothing. Used for anonymous requests.
type NoOpSigner struct{}

// DefaultSigner returns a no-op signer. This signer should only be used by tests.
func DefaultSigner() *NoOpSigner {
	return &NoOpSigner{}
}

// SignRequest does nothing.
func (s *NoOpSigner) SignRequest(string, *http.Request) error {
	return nil
}
