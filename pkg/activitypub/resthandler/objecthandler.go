/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
)

// Object implements a REST handler that retrieves a single object by ID.
type Object struct {
	*handler

	getObjectIRI getObjectIRIFunc
}

// NewObject returns a new REST handler that retrieves a local actor's object.
// Non-public objects are returned only to authorized callers.
func NewObject(cfg *Config, activityStore spi.Store, verifier tokenVerifier) *Object {
	h := &Object{
		getObjectIRI: getObjectObjectIRI(cfg),
	}

	h.handler = newHandler(ObjectPath, cfg, activityStore, h.handle, verifier, spi.SortAscending)

	return h
}

func (h *Object) handle(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.logger.Debug("Error getting object IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	obj, err := h.activityStore.GetObject(objectIRI)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.logger.Debug("Object not found", logfields.WithObjectIRI(objectIRI))

			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return
		}

		h.logger.Error("Unable to retrieve object", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	if !isPublic(obj.AllRecipients()) && !h.authorize(req) {
		h.logger.Debug("Unauthorized for object", logfields.WithObjectIRI(objectIRI))

		h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

		return
	}

	objBytes, err := h.marshal(obj)
	if err != nil {
		h.logger.Error("Unable to marshal object", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, objBytes)
}
