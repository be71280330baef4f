/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

// NewFollowers returns a new 'followers' REST handler that retrieves an actor's list of followers.
func NewFollowers(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(FollowersPath, spi.Follower, spi.SortAscending, false, cfg, activityStore,
		getActorObjectIRI(cfg), appendingSuffix("followers"))
}

// NewFollowing returns a new 'following' REST handler that retrieves the list of actors that
// an actor is following.
func NewFollowing(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(FollowingPath, spi.Following, spi.SortAscending, false, cfg, activityStore,
		getActorObjectIRI(cfg), appendingSuffix("following"))
}

// NewLiked returns a new 'liked' REST handler that retrieves the list of objects that an
// actor has liked.
func NewLiked(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(LikedPath, spi.Liked, spi.SortDescending, true, cfg, activityStore,
		getActorObjectIRI(cfg), appendingSuffix("liked"))
}

// NewLikes returns a new 'likes' REST handler that retrieves the 'Like' activities for an object.
func NewLikes(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(LikesPath, spi.Like, spi.SortDescending, true, cfg, activityStore,
		getObjectObjectIRI(cfg), appendingSuffix("likes"))
}

// NewShares returns a new 'shares' REST handler that retrieves the 'Announce' activities
// for an object.
func NewShares(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(SharesPath, spi.Share, spi.SortDescending, true, cfg, activityStore,
		getObjectObjectIRI(cfg), appendingSuffix("shares"))
}

// NewReplies returns a new 'replies' REST handler that retrieves the objects posted in
// reply to an object.
func NewReplies(cfg *Config, activityStore spi.Store) *Reference {
	return NewReference(RepliesPath, spi.Reply, spi.SortAscending, true, cfg, activityStore,
		getObjectObjectIRI(cfg), appendingSuffix("replies"))
}

type createCollectionFunc func(items []*vocab.ObjectProperty, opts ...vocab.Opt) interface{}

type getObjectIRIFunc func(req *http.Request) (*url.URL, error)

type getIDFunc func(objectIRI *url.URL) (*url.URL, error)

// Reference implements a REST handler that retrieves references as a collection of IRIs.
type Reference struct {
	*handler

	refType              spi.ReferenceType
	createCollection     createCollectionFunc
	createCollectionPage createCollectionFunc
	getObjectIRI         getObjectIRIFunc
	getID                getIDFunc
}

// NewReference returns a new reference REST handler.
func NewReference(path string, refType spi.ReferenceType, sortOrder spi.SortOrder, ordered bool,
	cfg *Config, activityStore spi.Store, getObjectIRI getObjectIRIFunc, getID getIDFunc) *Reference {
	h := &Reference{
		refType:              refType,
		createCollection:     createCollection(ordered),
		createCollectionPage: createCollectionPage(ordered),
		getObjectIRI:         getObjectIRI,
		getID:                getID,
	}

	h.handler = newHandler(path, cfg, activityStore, h.handle, nil, sortOrder)

	return h
}

func (h *Reference) handle(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.logger.Debug("Error getting object IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	id, err := h.getID(objectIRI)
	if err != nil {
		h.logger.Error("Error generating collection ID", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	if h.isPaging(req) {
		h.handleReferencePage(w, req, objectIRI, id)
	} else {
		h.handleReference(w, objectIRI, id)
	}
}

func (h *Reference) handleReference(rw http.ResponseWriter, objectIRI, id *url.URL) {
	coll, err := h.getReference(objectIRI, id)
	if err != nil {
		h.logger.Error("Error retrieving references", logfields.WithReferenceType(string(h.refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	collBytes, err := h.marshal(coll)
	if err != nil {
		h.logger.Error("Unable to marshal collection", logfields.WithReferenceType(string(h.refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(rw, http.StatusOK, collBytes)
}

func (h *Reference) handleReferencePage(rw http.ResponseWriter, req *http.Request, objectIRI, id *url.URL) {
	var page interface{}

	var err error

	pageNum, ok := h.getPageNum(req)
	if ok {
		page, err = h.getPage(objectIRI, id,
			spi.WithPageSize(h.PageSize), spi.WithPageNum(pageNum), spi.WithSortOrder(h.sortOrder))
	} else {
		page, err = h.getPage(objectIRI, id,
			spi.WithPageSize(h.PageSize), spi.WithSortOrder(h.sortOrder))
	}

	if err != nil {
		h.logger.Error("Error retrieving page", logfields.WithReferenceType(string(h.refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	pageBytes, err := h.marshal(page)
	if err != nil {
		h.logger.Error("Unable to marshal page", logfields.WithReferenceType(string(h.refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(rw, http.StatusOK, pageBytes)
}

func (h *Reference) getReference(objectIRI, id *url.URL) (interface{}, error) {
	it, err := h.activityStore.QueryReferences(h.refType,
		spi.NewCriteria(
			spi.WithObjectIRI(objectIRI),
		),
	)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, fmt.Errorf("get total items from reference query: %w", err)
	}

	firstURL, err := h.getPageURL(id, -1)
	if err != nil {
		return nil, err
	}

	lastURL, err := h.getPageURL(id, getLastPageNum(totalItems, h.PageSize, h.sortOrder))
	if err != nil {
		return nil, err
	}

	return h.createCollection(nil,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithFirst(firstURL),
		vocab.WithLast(lastURL),
		vocab.WithTotalItems(totalItems),
	), nil
}

func (h *Reference) getPage(objectIRI, id *url.URL, opts ...spi.QueryOpt) (interface{}, error) {
	it, err := h.activityStore.QueryReferences(h.refType,
		spi.NewCriteria(spi.WithObjectIRI(objectIRI)),
		opts...,
	)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	options := storeutil.GetQueryOptions(opts...)

	refs, err := storeutil.ReadReferences(it, options.PageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*vocab.ObjectProperty, len(refs))

	for i, ref := range refs {
		items[i] = vocab.NewObjectProperty(vocab.WithIRI(ref))
	}

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, fmt.Errorf("get total items from reference query: %w", err)
	}

	pageID, prev, next, err := h.getIDPrevNextURL(id, totalItems, options)
	if err != nil {
		return nil, err
	}

	return h.createCollectionPage(items,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(pageID),
		vocab.WithPartOf(id),
		vocab.WithPrev(prev),
		vocab.WithNext(next),
		vocab.WithTotalItems(totalItems),
	), nil
}

func createCollection(ordered bool) createCollectionFunc {
	if ordered {
		return func(items []*vocab.ObjectProperty, opts ...vocab.Opt) interface{} {
			return vocab.NewOrderedCollection(items, opts...)
		}
	}

	return func(items []*vocab.ObjectProperty, opts ...vocab.Opt) interface{} {
		return vocab.NewCollection(items, opts...)
	}
}

func createCollectionPage(ordered bool) createCollectionFunc {
	if ordered {
		return func(items []*vocab.ObjectProperty, opts ...vocab.Opt) interface{} {
			return vocab.NewOrderedCollectionPage(items, opts...)
		}
	}

	return func(items []*vocab.ObjectProperty, opts ...vocab.Opt) interface{} {
		return vocab.NewCollectionPage(items, opts...)
	}
}

// getActorObjectIRI returns the IRI of the local actor identified by the
// 'username' path parameter.
func getActorObjectIRI(cfg *Config) getObjectIRIFunc {
	return func(req *http.Request) (*url.URL, error) {
		username := getUsernameParam(req)
		if username == "" {
			return nil, fmt.Errorf("username not specified in URL")
		}

		return url.Parse(fmt.Sprintf("%s/users/%s", cfg.BaseURL, username))
	}
}

// getObjectObjectIRI returns the IRI of the local object identified by the
// 'username' and 'id' path parameters.
func getObjectObjectIRI(cfg *Config) getObjectIRIFunc {
	return func(req *http.Request) (*url.URL, error) {
		username := getUsernameParam(req)
		if username == "" {
			return nil, fmt.Errorf("username not specified in URL")
		}

		id := getIDParam(req)
		if id == "" {
			return nil, fmt.Errorf("object ID not specified in URL")
		}

		return url.Parse(fmt.Sprintf("%s/users/%s/objects/%s", cfg.BaseURL, username, id))
	}
}

// appendingSuffix returns a getIDFunc that appends the given path suffix to the
// object IRI to form the collection ID.
func appendingSuffix(suffix string) getIDFunc {
	return func(objectIRI *url.URL) (*url.URL, error) {
		return url.Parse(fmt.Sprintf("%s/%s", objectIRI, suffix))
	}
}
