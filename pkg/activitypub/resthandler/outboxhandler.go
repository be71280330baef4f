/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

// maxActivitySize is the maximum size (in bytes) of an activity that may be
// posted to an outbox or inbox.
const maxActivitySize = 1 << 20

type outbox interface {
	Post(ctx context.Context, activity *vocab.ActivityType) (*url.URL, error)
}

// Outbox implements a REST handler for posts to an actor's outbox.
type Outbox struct {
	*handler

	ob outbox
}

// NewPostOutbox returns a new REST handler to post activities to an actor's outbox.
// The endpoint must be registered behind a bearer token wrapper since only the
// owner of the outbox may post to it.
func NewPostOutbox(cfg *Config, activityStore spi.Store, ob outbox) *Outbox {
	h := &Outbox{
		ob: ob,
	}

	h.handler = newHandler(OutboxPath, cfg, activityStore, h.handlePost, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always POST.
func (h *Outbox) Method() string {
	return http.MethodPost
}

func (h *Outbox) handlePost(w http.ResponseWriter, req *http.Request) {
	actorIRI, err := getActorObjectIRI(h.Config)(req)
	if err != nil {
		h.logger.Debug("Error getting actor IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	activityBytes, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxActivitySize))
	if err != nil {
		h.logger.Debug("Error reading request body", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	h.logger.Debug("Posting activity", logfields.WithRequestBody(activityBytes))

	activity, err := unmarshalActivity(activityBytes)
	if err != nil {
		h.logger.Debug("Invalid activity", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	if activity.Actor() != nil && activity.Actor().String() != actorIRI.String() {
		h.logger.Debug("Activity actor does not match the outbox owner",
			logfields.WithActorIRI(activity.Actor()), logfields.WithObjectIRI(actorIRI))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	if activity.Actor() == nil {
		activity.SetActor(actorIRI)
	}

	activityID, err := h.ob.Post(req.Context(), activity)
	if err != nil {
		if pollenerrors.IsBadRequest(err) {
			h.logger.Debug("Error posting activity", log.WithError(err))

			h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))
		} else {
			h.logger.Error("Error posting activity", log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))
		}

		return
	}

	activityIDBytes, err := h.marshal(activityID.String())
	if err != nil {
		h.logger.Error("Error marshaling activity ID", log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, activityIDBytes)
}

func unmarshalActivity(activityBytes []byte) (*vocab.ActivityType, error) {
	activity := &vocab.ActivityType{}

	if err := json.Unmarshal(activityBytes, activity); err != nil {
		return nil, fmt.Errorf("unmarshal activity: %w", err)
	}

	return activity, nil
}
