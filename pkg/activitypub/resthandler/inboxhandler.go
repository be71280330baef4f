/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"io"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/httpserver/auth/signature"
)

type inboxDispatcher interface {
	Dispatch(actorIRI *url.URL, activity *vocab.ActivityType) error
}

// Inbox implements a REST handler for posts to an actor's inbox.
type Inbox struct {
	*handler

	dispatcher inboxDispatcher
}

// NewPostInbox returns a new REST handler to post activities to an actor's inbox.
// The endpoint must be registered behind an HTTP signature wrapper, which
// populates the request context with the IRI of the verified remote actor.
func NewPostInbox(cfg *Config, activityStore spi.Store, dispatcher inboxDispatcher) *Inbox {
	h := &Inbox{
		dispatcher: dispatcher,
	}

	h.handler = newHandler(InboxPath, cfg, activityStore, h.handlePost, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always POST.
func (h *Inbox) Method() string {
	return http.MethodPost
}

func (h *Inbox) handlePost(w http.ResponseWriter, req *http.Request) {
	recipientIRI, err := getActorObjectIRI(h.Config)(req)
	if err != nil {
		h.logger.Debug("Error getting actor IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	if _, err := h.activityStore.GetActor(recipientIRI); err != nil {
		h.logger.Debug("Inbox owner not found", logfields.WithActorIRI(recipientIRI), log.WithError(err))

		h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

		return
	}

	activity, ok := h.readActivity(w, req)
	if !ok {
		return
	}

	if err := h.dispatcher.Dispatch(recipientIRI, activity); err != nil {
		if pollenerrors.IsBadRequest(err) {
			h.logger.Debug("Error dispatching activity", log.WithError(err))

			h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))
		} else {
			h.logger.Error("Error dispatching activity", log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))
		}

		return
	}

	h.writeResponse(w, http.StatusAccepted, nil)
}

// readActivity reads and unmarshals the activity from the request body and
// ensures that its actor is the actor that signed the request.
func (h *handler) readActivity(w http.ResponseWriter, req *http.Request) (*vocab.ActivityType, bool) {
	signer := signature.ActorIRIFromContext(req.Context())
	if signer == nil {
		h.logger.Warn("No verified actor in request context")

		h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

		return nil, false
	}

	activityBytes, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxActivitySize))
	if err != nil {
		h.logger.Debug("Error reading request body", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return nil, false
	}

	h.logger.Debug("Handling activity", logfields.WithRequestBody(activityBytes))

	activity, err := unmarshalActivity(activityBytes)
	if err != nil {
		h.logger.Debug("Invalid activity", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return nil, false
	}

	if activity.Actor() == nil {
		h.logger.Debug("No actor specified in activity")

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return nil, false
	}

	if activity.Actor().String() != signer.String() {
		h.logger.Warn("Activity actor does not match the actor in the HTTP signature",
			logfields.WithActorIRI(activity.Actor()), logfields.WithKeyOwnerIRI(signer))

		h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

		return nil, false
	}

	return activity, true
}

type sharedInboxRouter interface {
	Route(activity *vocab.ActivityType) ([]*url.URL, error)
}

// SharedInbox implements a REST handler for posts to the server-wide shared inbox.
type SharedInbox struct {
	*handler

	router sharedInboxRouter
}

// NewSharedInbox returns a new REST handler to post activities to the shared inbox.
// The signature is verified once and the activity is then fanned out to the local
// recipients derived from its addressing. The endpoint must be registered behind
// an HTTP signature wrapper.
func NewSharedInbox(cfg *Config, activityStore spi.Store, router sharedInboxRouter) *SharedInbox {
	h := &SharedInbox{
		router: router,
	}

	h.handler = newHandler(SharedInboxPath, cfg, activityStore, h.handlePost, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always POST.
func (h *SharedInbox) Method() string {
	return http.MethodPost
}

func (h *SharedInbox) handlePost(w http.ResponseWriter, req *http.Request) {
	activity, ok := h.readActivity(w, req)
	if !ok {
		return
	}

	recipients, err := h.router.Route(activity)
	if err != nil {
		if pollenerrors.IsBadRequest(err) {
			h.logger.Debug("Error routing activity", log.WithError(err))

			h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))
		} else {
			h.logger.Error("Error routing activity", log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))
		}

		return
	}

	h.logger.Debug("Dispatched activity to local recipients",
		logfields.WithActivityID(activity.ID()), logfields.WithTotal(len(recipients)))

	h.writeResponse(w, http.StatusAccepted, nil)
}
