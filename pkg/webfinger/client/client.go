/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	errors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/webfinger/model"
)

var logger = log.New("webfinger_client")

const (
	defaultCacheLifetime = 5 * time.Minute
	defaultCacheSize     = 100
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client resolves WebFinger resources from remote domains.
type Client struct {
	httpClient httpClient

	cacheLifetime time.Duration
	cacheSize     int

	resourceCache gcache.Cache
}

type cacheKey struct {
	domainWithScheme string
	resource         string
}

// New returns a new WebFinger client.
func New(opts ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{},
		cacheLifetime: defaultCacheLifetime,
		cacheSize:     defaultCacheSize,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.resourceCache = gcache.New(client.cacheSize).
		Expiration(client.cacheLifetime).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			k := key.(cacheKey) //nolint:errcheck,forcetypeassert

			r, err := client.resolveResource(k.domainWithScheme, k.resource)
			if err != nil {
				return nil, err
			}

			logger.Debug("Loaded WebFinger resource into cache",
				logfields.WithDomain(k.domainWithScheme), logfields.WithURIString(k.resource))

			return r, nil
		}).Build()

	return client
}

// ResolveWebFingerResource resolves the given WebFinger resource from domainWithScheme.
func (c *Client) ResolveWebFingerResource(domainWithScheme, resource string) (model.JRD, error) {
	r, err := c.resourceCache.Get(cacheKey{
		domainWithScheme: domainWithScheme,
		resource:         resource,
	})
	if err != nil {
		return model.JRD{}, fmt.Errorf("get webfinger resource for domain [%s] and resource [%s]: %w",
			domainWithScheme, resource, err)
	}

	return *r.(*model.JRD), nil //nolint:errcheck,forcetypeassert
}

// ResolveActorIRI resolves the ActivityPub actor IRI for an alias of the form
// 'user@domain' (an optional 'acct:' prefix or leading '@' is tolerated).
func (c *Client) ResolveActorIRI(alias string) (*url.URL, error) {
	username, domain, err := model.ParseAcct(alias)
	if err != nil {
		return nil, errors.NewBadRequest(err)
	}

	jrd, err := c.ResolveWebFingerResource("https://"+domain, model.Acct(username, domain))
	if err != nil {
		return nil, err
	}

	for _, link := range jrd.Links {
		if link.Rel != model.RelSelf {
			continue
		}

		if link.Type != "" && link.Type != model.ActivityStreamsType {
			continue
		}

		actorIRI, err := url.Parse(link.Href)
		if err != nil {
			return nil, fmt.Errorf("parse actor IRI [%s]: %w", link.Href, err)
		}

		return actorIRI, nil
	}

	return nil, model.ErrResourceNotFound
}

func (c *Client) resolveResource(domainWithScheme, resource string) (*model.JRD, error) {
	webFingerURL := fmt.Sprintf("%s/.well-known/webfinger?resource=%s",
		domainWithScheme, url.QueryEscape(resource))

	req, err := http.NewRequest(http.MethodGet, webFingerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request for WebFinger URL [%s]: %w", webFingerURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientf("get WebFinger response from [%s]: %w", webFingerURL, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing WebFinger response body", log.WithError(e))
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientf("read WebFinger response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, model.ErrResourceNotFound
		}

		e := fmt.Errorf("unexpected status code %d from WebFinger URL [%s], response body [%s]",
			resp.StatusCode, webFingerURL, respBytes)

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.NewTransient(e)
		}

		return nil, e
	}

	jrd := &model.JRD{}

	if err := json.Unmarshal(respBytes, jrd); err != nil {
		return nil, fmt.Errorf("unmarshal WebFinger response: %w", err)
	}

	return jrd, nil
}

// Option is a WebFinger client option.
type Option func(opts *Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient httpClient) Option {
	return func(opts *Client) {
		opts.httpClient = httpClient
	}
}

// WithCacheLifetime sets the lifetime of a resource in the cache.
func WithCacheLifetime(lifetime time.Duration) Option {
	return func(opts *Client) {
		opts.cacheLifetime = lifetime
	}
}

// WithCacheSize sets the size of the resource cache.
func WithCacheSize(size int) Option {
	return func(opts *Client) {
		opts.cacheSize = size
	}
}
