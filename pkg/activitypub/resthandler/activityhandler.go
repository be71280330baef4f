/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

// NewInbox returns a new 'inbox' REST handler that retrieves the activities in an
// actor's inbox. The returned collection is the same for any authorized caller, so
// the endpoint should be registered behind a bearer token wrapper.
func NewInbox(cfg *Config, activityStore spi.Store) *Activities {
	return NewActivities(InboxPath, spi.Inbox, cfg, activityStore,
		getActorObjectIRI(cfg), appendingSuffix("inbox"), nil)
}

// NewReadOutbox returns a new 'outbox' REST handler that retrieves the activities in
// an actor's outbox. An authorized caller is given all activities in the outbox,
// whereas an anonymous caller is given only the public ones.
func NewReadOutbox(cfg *Config, activityStore spi.Store, verifier tokenVerifier) *ReadOutbox {
	h := &ReadOutbox{}

	h.Activities = NewActivities(OutboxPath, spi.Outbox, cfg, activityStore,
		getActorObjectIRI(cfg), appendingSuffix("outbox"), verifier)

	h.Activities.handler.handler = h.handleOutbox

	return h
}

// Activities implements a REST handler that retrieves a collection of activities.
type Activities struct {
	*handler

	refType      spi.ReferenceType
	getObjectIRI getObjectIRIFunc
	getID        getIDFunc
}

// NewActivities returns a new activities REST handler.
func NewActivities(path string, refType spi.ReferenceType, cfg *Config, activityStore spi.Store,
	getObjectIRI getObjectIRIFunc, getID getIDFunc, verifier tokenVerifier) *Activities {
	h := &Activities{
		refType:      refType,
		getObjectIRI: getObjectIRI,
		getID:        getID,
	}

	h.handler = newHandler(path, cfg, activityStore, h.handle, verifier, spi.SortDescending)

	return h
}

func (h *Activities) handle(w http.ResponseWriter, req *http.Request) {
	h.handleActivityRefsOfType(w, req, h.refType)
}

func (h *Activities) handleActivityRefsOfType(w http.ResponseWriter, req *http.Request,
	refType spi.ReferenceType) {
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
		h.handleActivitiesPage(w, req, objectIRI, id, refType)
	} else {
		h.handleActivities(w, objectIRI, id, refType)
	}
}

func (h *Activities) handleActivities(rw http.ResponseWriter, objectIRI, id *url.URL,
	refType spi.ReferenceType) {
	activities, err := h.getActivities(objectIRI, id, refType)
	if err != nil {
		h.logger.Error("Error retrieving activity references", logfields.WithReferenceType(string(refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	collBytes, err := h.marshal(activities)
	if err != nil {
		h.logger.Error("Unable to marshal collection", logfields.WithReferenceType(string(refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(rw, http.StatusOK, collBytes)
}

func (h *Activities) handleActivitiesPage(rw http.ResponseWriter, req *http.Request, objectIRI, id *url.URL,
	refType spi.ReferenceType) {
	var page *vocab.OrderedCollectionPageType

	var err error

	pageNum, ok := h.getPageNum(req)
	if ok {
		page, err = h.getPage(objectIRI, id, refType,
			spi.WithPageSize(h.PageSize), spi.WithPageNum(pageNum), spi.WithSortOrder(h.sortOrder))
	} else {
		page, err = h.getPage(objectIRI, id, refType,
			spi.WithPageSize(h.PageSize), spi.WithSortOrder(h.sortOrder))
	}

	if err != nil {
		h.logger.Error("Error retrieving page", logfields.WithReferenceType(string(refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	pageBytes, err := h.marshal(page)
	if err != nil {
		h.logger.Error("Unable to marshal page", logfields.WithReferenceType(string(refType)),
			logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(rw, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(rw, http.StatusOK, pageBytes)
}

func (h *Activities) getActivities(objectIRI, id *url.URL,
	refType spi.ReferenceType) (*vocab.OrderedCollectionType, error) {
	it, err := h.activityStore.QueryReferences(refType,
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

	return vocab.NewOrderedCollection(nil,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithFirst(firstURL),
		vocab.WithLast(lastURL),
		vocab.WithTotalItems(totalItems),
	), nil
}

func (h *Activities) getPage(objectIRI, id *url.URL, refType spi.ReferenceType,
	opts ...spi.QueryOpt) (*vocab.OrderedCollectionPageType, error) {
	it, err := h.activityStore.QueryReferences(refType,
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

	items := make([]*vocab.ObjectProperty, 0, len(refs))

	for _, ref := range refs {
		activity, err := h.activityStore.GetActivity(ref)
		if err != nil {
			if errors.Is(err, spi.ErrNotFound) {
				// The activity is referenced but no longer stored. Return the
				// reference itself so that the page contents remain stable.
				items = append(items, vocab.NewObjectProperty(vocab.WithIRI(ref)))

				continue
			}

			return nil, fmt.Errorf("get activity [%s]: %w", ref, err)
		}

		items = append(items, vocab.NewObjectProperty(vocab.WithActivity(activity)))
	}

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, fmt.Errorf("get total items from reference query: %w", err)
	}

	pageID, prev, next, err := h.getIDPrevNextURL(id, totalItems, options)
	if err != nil {
		return nil, err
	}

	return vocab.NewOrderedCollectionPage(items,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(pageID),
		vocab.WithPartOf(id),
		vocab.WithPrev(prev),
		vocab.WithNext(next),
		vocab.WithTotalItems(totalItems),
	), nil
}

// ReadOutbox defines an endpoint that retrieves activities from an actor's outbox.
// The caller has access to all activities if they are authorized, otherwise only
// public activities are returned.
type ReadOutbox struct {
	*Activities
}

func (h *ReadOutbox) handleOutbox(w http.ResponseWriter, req *http.Request) {
	if h.authorize(req) {
		h.handleActivityRefsOfType(w, req, spi.Outbox)
	} else {
		h.logger.Debug("Client not authorized. Returning only items in outbox marked as public.")

		h.handleActivityRefsOfType(w, req, spi.PublicOutbox)
	}
}

// Activity implements a REST handler that retrieves a single activity by ID.
type Activity struct {
	*handler
}

// NewActivity returns a new 'activities/{id}' REST handler that retrieves a single
// activity by ID. Non-public activities are returned only to authorized callers.
func NewActivity(cfg *Config, activityStore spi.Store, verifier tokenVerifier) *Activity {
	h := &Activity{}

	h.handler = newHandler(ActivitiesPath, cfg, activityStore, h.handle, verifier, spi.SortAscending)

	return h
}

func (h *Activity) handle(w http.ResponseWriter, req *http.Request) {
	activityIRI, err := h.getActivityIRI(req)
	if err != nil {
		h.logger.Debug("Error getting activity IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	activity, err := h.activityStore.GetActivity(activityIRI)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.logger.Debug("Activity not found", logfields.WithActivityID(activityIRI))

			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return
		}

		h.logger.Error("Unable to retrieve activity", logfields.WithActivityID(activityIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	if !isPublic(activity.AllRecipients()) && !h.authorize(req) {
		h.logger.Debug("Unauthorized for activity", logfields.WithActivityID(activityIRI))

		h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

		return
	}

	activityBytes, err := h.marshal(activity)
	if err != nil {
		h.logger.Error("Unable to marshal activity", logfields.WithActivityID(activityIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, activityBytes)
}

func (h *Activity) getActivityIRI(req *http.Request) (*url.URL, error) {
	id := getIDParam(req)

	if id == "" {
		return nil, errors.New("activity ID not specified")
	}

	activityIRI, err := url.Parse(fmt.Sprintf("%s/activities/%s", h.BaseURL, id))
	if err != nil {
		return nil, fmt.Errorf("invalid activity ID [%s]: %w", id, err)
	}

	return activityIRI, nil
}
