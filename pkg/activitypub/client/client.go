/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/client/transport"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	errors "github.com/pollenhq/pollen/pkg/errors"
)

var logger = log.New("activitypub_client")

const (
	defaultCacheSize       = 100
	defaultCacheExpiration = time.Minute

	maxGetRetries     = 3
	initialGetBackoff = 100 * time.Millisecond
)

// ErrNotFound is returned when the object is not found or the iterator has reached the end.
var ErrNotFound = fmt.Errorf("not found")

// Order is the order in which activities are returned.
type Order string

const (
	// Forward indicates that activities should be returned in the same order that they were retrieved
	// from the REST endpoint.
	Forward Order = "forward"
	// Reverse indicates that activities should be returned in reverse order that they were retrieved
	// from the REST endpoint.
	Reverse Order = "reverse"
)

// ReferenceIterator iterates over the references in a result set.
type ReferenceIterator interface {
	Next() (*url.URL, error)
	TotalItems() int
}

// ActivityIterator iterates over the activities in a result set.
type ActivityIterator interface {
	// Next returns the next activity or the ErrNotFound error if no more items are available.
	Next() (*vocab.ActivityType, error)
	// NextPage advances to the next page. If there are no more pages then an ErrNotFound error is returned.
	NextPage() (*url.URL, error)
	// SetNextIndex sets the index of the next activity within the current page that Next will return.
	SetNextIndex(int)
	// TotalItems returns the total number of items available at the moment the iterator was created.
	// This value remains constant throughout the lifetime of the iterator.
	TotalItems() int
	// CurrentPage returns the ID of the current page that the iterator is processing.
	CurrentPage() *url.URL
	// NextIndex returns the next index of the current page that will be processed. This function does not
	// advance the iterator.
	NextIndex() int
}

type httpTransport interface {
	Get(ctx context.Context, req *transport.Request) (*http.Response, error)
	Post(ctx context.Context, req *transport.Request, payload []byte) (*http.Response, error)
}

type aliasResolver interface {
	ResolveActorIRI(alias string) (*url.URL, error)
}

// Config contains configuration parameters for the client.
type Config struct {
	CacheSize       int
	CacheExpiration time.Duration
}

// Option sets an option on the client.
type Option func(c *Client)

// WithAliasResolver sets the WebFinger resolver used by ResolveActorByAlias.
func WithAliasResolver(resolver aliasResolver) Option {
	return func(c *Client) {
		c.aliasResolver = resolver
	}
}

// Client implements an ActivityPub client which retrieves ActivityPub objects (such as actors,
// activities, and collections) from remote sources and posts activities to remote outboxes.
type Client struct {
	httpTransport

	aliasResolver  aliasResolver
	actorCache     gcache.Cache
	publicKeyCache gcache.Cache
}

// New returns a new ActivityPub client.
func New(cfg Config, t httpTransport, opts ...Option) *Client {
	c := &Client{
		httpTransport: t,
	}

	for _, opt := range opts {
		opt(c)
	}

	cacheSize := cfg.CacheSize

	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	cacheExpiration := cfg.CacheExpiration

	if cacheExpiration == 0 {
		cacheExpiration = defaultCacheExpiration
	}

	logger.Debug("Creating object caches", logfields.WithSize(cacheSize),
		logfields.WithExpiration(cacheExpiration))

	c.actorCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.getActor(i.(*url.URL)) //nolint:errcheck,forcetypeassert
		}).Build()

	c.publicKeyCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.getPublicKey(i.(*url.URL)) //nolint:errcheck,forcetypeassert
		}).Build()

	return c
}

// GetActor retrieves the actor at the given IRI.
func (c *Client) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	result, err := c.actorCache.Get(actorIRI)
	if err != nil {
		logger.Debug("Error retrieving actor from cache", logfields.WithActorIRI(actorIRI), log.WithError(err))

		return nil, err
	}

	return result.(*vocab.ActorType), nil //nolint:errcheck,forcetypeassert
}

func (c *Client) getActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	respBytes, err := c.get(context.Background(), actorIRI)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", actorIRI, err)
	}

	actor := &vocab.ActorType{}

	if err := json.Unmarshal(respBytes, actor); err != nil {
		return nil, fmt.Errorf("invalid actor in response from %s: %w", actorIRI, err)
	}

	return actor, nil
}

// GetPublicKey retrieves the public key at the given IRI.
func (c *Client) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	result, err := c.publicKeyCache.Get(keyIRI)
	if err != nil {
		logger.Debug("Error retrieving public key from cache", logfields.WithKeyIRI(keyIRI), log.WithError(err))

		return nil, err
	}

	return result.(*vocab.PublicKeyType), nil //nolint:errcheck,forcetypeassert
}

func (c *Client) getPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	respBytes, err := c.get(context.Background(), keyIRI)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", keyIRI, err)
	}

	pubKey := &vocab.PublicKeyType{}

	if err := json.Unmarshal(respBytes, pubKey); err != nil {
		return nil, fmt.Errorf("invalid public key in response from %s: %w", keyIRI, err)
	}

	if pubKey.ID == nil {
		// The key IRI may have resolved to the actor document rather than a key document.
		actor := &vocab.ActorType{}

		if err := json.Unmarshal(respBytes, actor); err == nil && actor.PublicKey() != nil {
			return actor.PublicKey(), nil
		}
	}

	return pubKey, nil
}

// GetObject retrieves the object at the given IRI.
func (c *Client) GetObject(ctx context.Context, iri *url.URL) (*vocab.ObjectType, error) {
	respBytes, err := c.get(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", iri, err)
	}

	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, obj); err != nil {
		return nil, fmt.Errorf("invalid object in response from %s: %w", iri, err)
	}

	return obj, nil
}

// ResolveActorByAlias resolves an actor from an alias of the form 'user@domain'
// using WebFinger and retrieves the actor document.
func (c *Client) ResolveActorByAlias(alias string) (*vocab.ActorType, error) {
	if c.aliasResolver == nil {
		return nil, fmt.Errorf("no alias resolver configured")
	}

	actorIRI, err := c.aliasResolver.ResolveActorIRI(alias)
	if err != nil {
		return nil, fmt.Errorf("resolve alias [%s]: %w", alias, err)
	}

	return c.GetActor(actorIRI)
}

// PostToOutbox posts an activity to the given outbox and returns the ID of the posted
// activity (from the Location response header if the server assigned a new ID).
func (c *Client) PostToOutbox(ctx context.Context, activity *vocab.ActivityType, outboxIRI *url.URL,
	opts ...transport.RequestOpt) (*url.URL, error) {
	payload, err := vocab.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("marshal activity: %w", err)
	}

	opts = append(opts, transport.WithHeader(transport.ContentTypeHeader, transport.ActivityStreamsContentType))

	resp, err := c.Post(ctx, transport.NewRequest(outboxIRI, opts...), payload)
	if err != nil {
		return nil, errors.NewTransientf("transient http error: post to %s failed: %w", outboxIRI, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing response body", logfields.WithRequestURL(outboxIRI), log.WithError(e))
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.NewTransientf("transient http error: status code %d from %s",
				resp.StatusCode, outboxIRI)
		}

		return nil, fmt.Errorf("post to %s returned status code %d", outboxIRI, resp.StatusCode)
	}

	if location := resp.Header.Get("Location"); location != "" {
		activityID, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse Location header [%s]: %w", location, err)
		}

		return activityID, nil
	}

	return activity.ID().URL(), nil
}

// GetReferences returns an iterator that reads all references at the given IRI. The IRI either
// resolves to an ActivityPub object, collection or ordered collection.
func (c *Client) GetReferences(ctx context.Context, iri *url.URL) (ReferenceIterator, error) {
	respBytes, err := c.get(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", iri, err)
	}

	objProps, firstPage, _, totalItems, err := unmarshalCollection(respBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal response from %s: %w", iri, err)
	}

	var items []*url.URL

	for _, prop := range objProps {
		if id := prop.ID(); id != nil {
			items = append(items, id)
		}
	}

	get := func(iri *url.URL) ([]byte, error) {
		return c.get(ctx, iri)
	}

	return newReferenceIterator(items, firstPage, totalItems, get), nil
}

// GetActivities returns an iterator that reads activities at the given IRI. The IRI may
// reference a Collection, OrderedCollection, CollectionPage, or OrderedCollectionPage.
func (c *Client) GetActivities(ctx context.Context, iri *url.URL, order Order) (ActivityIterator, error) {
	respBytes, err := c.get(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", iri, err)
	}

	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, err
	}

	get := func(iri *url.URL) ([]byte, error) {
		return c.get(ctx, iri)
	}

	switch {
	case obj.Type().IsAny(vocab.TypeCollection, vocab.TypeOrderedCollection):
		return activityIteratorFromCollection(respBytes, order, get)
	case obj.Type().IsAny(vocab.TypeCollectionPage, vocab.TypeOrderedCollectionPage):
		return activityIteratorFromCollectionPage(respBytes, order, get)
	default:
		return nil, fmt.Errorf("invalid collection type %s", obj.Type())
	}
}

func activityIteratorFromCollection(collBytes []byte, order Order, get getFunc) (ActivityIterator, error) {
	_, first, last, totalItems, err := unmarshalCollection(collBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal collection: %w", err)
	}

	switch order {
	case Forward:
		logger.Debug("Creating forward activity iterator",
			logfields.WithNextIRI(first), logfields.WithTotal(totalItems))

		return newForwardActivityIterator(nil, nil, first, totalItems, get), nil
	case Reverse:
		logger.Debug("Creating reverse activity iterator",
			logfields.WithNextIRI(last), logfields.WithTotal(totalItems))

		return newReverseActivityIterator(nil, nil, last, totalItems, get), nil
	default:
		return nil, fmt.Errorf("invalid order [%s]", order)
	}
}

func activityIteratorFromCollectionPage(collBytes []byte, order Order, get getFunc) (ActivityIterator, error) {
	page, err := unmarshalCollectionPage(collBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal collection page: %w", err)
	}

	var activities []*vocab.ActivityType

	for _, prop := range page.items {
		if prop.Activity() != nil {
			activities = append(activities, prop.Activity())
		}
	}

	switch order {
	case Forward:
		return newForwardActivityIterator(activities, page.current, page.next, page.totalItems, get), nil
	case Reverse:
		return newReverseActivityIterator(activities, page.current, page.prev, page.totalItems, get), nil
	default:
		return nil, fmt.Errorf("invalid order [%s]", order)
	}
}

// Get sends a GET to the given IRI and returns the raw response body. Transient errors
// are retried with exponential backoff.
func (c *Client) Get(ctx context.Context, iri *url.URL) ([]byte, error) {
	return c.get(ctx, iri)
}

func (c *Client) get(ctx context.Context, iri *url.URL) ([]byte, error) {
	var respBytes []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialGetBackoff

	err := backoff.Retry(func() error {
		var err error

		respBytes, err = c.doGet(ctx, iri)
		if err != nil && !errors.IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxGetRetries), ctx))
	if err != nil {
		return nil, err
	}

	return respBytes, nil
}

func (c *Client) doGet(ctx context.Context, iri *url.URL) ([]byte, error) {
	resp, err := c.httpTransport.Get(ctx, transport.NewRequest(iri,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType)))
	if err != nil {
		return nil, errors.NewTransientf("transient http error: request to %s failed: %w", iri, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing response body", logfields.WithRequestURL(iri), log.WithError(e))
		}
	}()

	logger.Debug("Got response", logfields.WithRequestURL(iri), logfields.WithHTTPStatus(resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.ErrContentNotFound
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, errors.NewTransientf("transient http error: status code %d from %s",
				resp.StatusCode, iri)
		default:
			return nil, fmt.Errorf("request to %s returned status code %d", iri, resp.StatusCode)
		}
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientf("transient http error: read response body from %s: %w", iri, err)
	}

	return respBytes, nil
}

type getFunc func(iri *url.URL) ([]byte, error)

type referenceIterator struct {
	totalItems   int
	currentItems []*url.URL
	currentIndex int
	nextPage     *url.URL
	get          getFunc
}

func newReferenceIterator(items []*url.URL, nextPage *url.URL, totalItems int, retrieve getFunc) *referenceIterator {
	return &referenceIterator{
		currentItems: items,
		totalItems:   totalItems,
		nextPage:     nextPage,
		get:          retrieve,
		currentIndex: 0,
	}
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if it.currentIndex >= len(it.currentItems) {
		err := it.getNextPage()
		if err != nil {
			return nil, err
		}
	}

	item := it.currentItems[it.currentIndex]

	it.currentIndex++

	return item, nil
}

func (it *referenceIterator) TotalItems() int {
	return it.totalItems
}

func (it *referenceIterator) getNextPage() error {
	if it.nextPage == nil {
		return ErrNotFound
	}

	logger.Debug("Retrieving next page", logfields.WithNextIRI(it.nextPage))

	respBytes, err := it.get(it.nextPage)
	if err != nil {
		return fmt.Errorf("get references from %s: %w", it.nextPage, err)
	}

	page, err := unmarshalCollectionPage(respBytes)
	if err != nil {
		return err
	}

	var refs []*url.URL

	for _, item := range page.items {
		// The item may be a simple IRI or an embedded object, in which case its ID is used.
		if id := item.ID(); id != nil {
			refs = append(refs, id)
		} else {
			logger.Warn("Expecting IRI or object with ID in collection item",
				logfields.WithType(item.Type().String()))
		}
	}

	it.currentItems = refs
	it.currentIndex = 0
	it.nextPage = page.next

	if len(it.currentItems) == 0 {
		return ErrNotFound
	}

	return nil
}

type getNextIRIFunc func(next, prev *url.URL) *url.URL

type appendFunc func(activities []*vocab.ActivityType, activity *vocab.ActivityType) []*vocab.ActivityType

type activityIterator struct {
	currentItems   []*vocab.ActivityType
	currentPage    *url.URL
	nextPage       *url.URL
	totalItems     int
	currentIndex   int
	numProcessed   int
	get            getFunc
	getNext        getNextIRIFunc
	appendActivity appendFunc
}

func newActivityIterator(items []*vocab.ActivityType, currentPage, nextPage *url.URL, totalItems int,
	get getFunc, getNext getNextIRIFunc, appendActivity appendFunc) *activityIterator {
	return &activityIterator{
		currentItems:   items,
		currentPage:    currentPage,
		nextPage:       nextPage,
		totalItems:     totalItems,
		get:            get,
		getNext:        getNext,
		appendActivity: appendActivity,
	}
}

func (it *activityIterator) CurrentPage() *url.URL {
	return it.currentPage
}

func (it *activityIterator) SetNextIndex(index int) {
	it.numProcessed += index - it.currentIndex
	it.currentIndex = index
}

func (it *activityIterator) NextIndex() int {
	return it.currentIndex
}

func (it *activityIterator) NextPage() (*url.URL, error) {
	unprocessedCount := len(it.currentItems) - it.currentIndex

	if err := it.getNextPage(); err != nil {
		if goerrors.Is(err, ErrNotFound) {
			it.numProcessed += unprocessedCount
		}

		return nil, err
	}

	it.numProcessed += unprocessedCount

	return it.CurrentPage(), nil
}

func (it *activityIterator) Next() (*vocab.ActivityType, error) {
	if it.numProcessed >= it.totalItems {
		// All items were already processed. There may actually be additional items if we retrieve
		// another page (since items keep being added in a running system) but we want to process
		// only the items that were available when the iterator was created.
		return nil, ErrNotFound
	}

	if it.currentIndex >= len(it.currentItems) {
		err := it.getNextPage()
		if err != nil {
			return nil, err
		}
	}

	item := it.currentItems[it.currentIndex]

	it.currentIndex++
	it.numProcessed++

	return item, nil
}

func (it *activityIterator) TotalItems() int {
	return it.totalItems
}

func (it *activityIterator) getNextPage() error {
	if it.nextPage == nil {
		return ErrNotFound
	}

	respBytes, err := it.get(it.nextPage)
	if err != nil {
		return fmt.Errorf("get activities from %s: %w", it.nextPage, err)
	}

	page, err := unmarshalCollectionPage(respBytes)
	if err != nil {
		return err
	}

	var activities []*vocab.ActivityType

	for _, item := range page.items {
		if item.Activity() != nil {
			activities = it.appendActivity(activities, item.Activity())
		} else {
			logger.Warn("Expecting activity item in collection page",
				logfields.WithType(item.Type().String()))
		}
	}

	it.currentIndex = 0
	it.currentItems = activities
	it.currentPage = page.current
	it.nextPage = it.getNext(page.next, page.prev)

	if len(it.currentItems) == 0 {
		return ErrNotFound
	}

	return nil
}

func newForwardActivityIterator(items []*vocab.ActivityType, currentPage, nextPage *url.URL,
	totalItems int, retrieve getFunc) *activityIterator {
	return newActivityIterator(items, currentPage, nextPage, totalItems, retrieve,
		func(next, _ *url.URL) *url.URL {
			return next
		},
		func(activities []*vocab.ActivityType, activity *vocab.ActivityType) []*vocab.ActivityType {
			return append(activities, activity)
		},
	)
}

func newReverseActivityIterator(items []*vocab.ActivityType, currentPage, nextPage *url.URL,
	totalItems int, retrieve getFunc) *activityIterator {
	return newActivityIterator(reverseSort(items), currentPage, nextPage, totalItems, retrieve,
		func(_, prev *url.URL) *url.URL {
			return prev
		},
		func(activities []*vocab.ActivityType, activity *vocab.ActivityType) []*vocab.ActivityType {
			// Prepend the activity since we're iterating in reverse order.
			return append([]*vocab.ActivityType{activity}, activities...)
		},
	)
}

func unmarshalCollection(respBytes []byte) (items []*vocab.ObjectProperty, firstPage, lastPage *url.URL,
	totalCount int, err error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, nil, nil, 0, err
	}

	switch {
	case obj.Type().Is(vocab.TypeCollection):
		coll := &vocab.CollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, nil, 0, fmt.Errorf("invalid collection in response: %w", err)
		}

		return coll.Items(), coll.First(), coll.Last(), coll.TotalItems(), nil

	case obj.Type().Is(vocab.TypeOrderedCollection):
		coll := &vocab.OrderedCollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, nil, 0, fmt.Errorf("invalid ordered collection in response: %w", err)
		}

		return coll.Items(), coll.First(), coll.Last(), coll.TotalItems(), nil

	default:
		// Tolerate a single object in place of a collection.
		if obj.ID().URL() != nil {
			return []*vocab.ObjectProperty{vocab.NewObjectProperty(vocab.WithIRI(obj.ID().URL()))},
				nil, nil, 1, nil
		}

		return nil, nil, nil, 0,
			fmt.Errorf("expecting Collection, OrderedCollection or object with an ID in response payload")
	}
}

type page struct {
	items               []*vocab.ObjectProperty
	current, next, prev *url.URL
	totalItems          int
}

func unmarshalCollectionPage(respBytes []byte) (*page, error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, err
	}

	switch {
	case obj.Type().Is(vocab.TypeCollectionPage):
		coll := &vocab.CollectionPageType{}

		err := json.Unmarshal(respBytes, coll)
		if err != nil {
			return nil, fmt.Errorf("invalid collection page in response: %w", err)
		}

		return &page{
			items:      coll.Items(),
			current:    coll.ID().URL(),
			next:       coll.Next(),
			prev:       coll.Prev(),
			totalItems: coll.TotalItems(),
		}, nil

	case obj.Type().Is(vocab.TypeOrderedCollectionPage):
		coll := &vocab.OrderedCollectionPageType{}

		err := json.Unmarshal(respBytes, coll)
		if err != nil {
			return nil, fmt.Errorf("invalid ordered collection page in response: %w", err)
		}

		return &page{
			items:      coll.Items(),
			current:    coll.ID().URL(),
			next:       coll.Next(),
			prev:       coll.Prev(),
			totalItems: coll.TotalItems(),
		}, nil

	default:
		return nil, fmt.Errorf("expecting CollectionPage or OrderedCollectionPage in response payload")
	}
}

func reverseSort(items []*vocab.ActivityType) []*vocab.ActivityType {
	sort.SliceStable(items,
		func(i, j int) bool {
			return i > j //nolint:gocritic
		},
	)

	return items
}
