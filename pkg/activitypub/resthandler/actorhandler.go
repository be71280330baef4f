/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
)

type keyManager interface {
	PrivateKey(actorIRI *url.URL) ([]byte, error)
}

// Actor implements a REST handler that returns an actor document.
type Actor struct {
	*handler

	getActorIRI getObjectIRIFunc
	keyManager  keyManager
}

// NewActor returns a new REST handler that retrieves a local actor's document.
// If a key manager is given then an authorized request also receives the actor's
// private key, which a client uses to upgrade from bearer-token mode to HTTP
// signature signing.
func NewActor(cfg *Config, activityStore spi.Store, keyManager keyManager, verifier tokenVerifier) *Actor {
	h := &Actor{
		getActorIRI: getActorObjectIRI(cfg),
		keyManager:  keyManager,
	}

	h.handler = newHandler(UserPath, cfg, activityStore, h.handle, verifier, spi.SortAscending)

	return h
}

// NewServiceActor returns a new REST handler that retrieves the server's system
// actor document. The system actor owns the key with which outbound deliveries
// are signed, so remote servers fetch this document in order to verify HTTP
// signatures.
func NewServiceActor(cfg *Config, activityStore spi.Store, systemActorIRI *url.URL) *Actor {
	h := &Actor{
		getActorIRI: func(*http.Request) (*url.URL, error) {
			return systemActorIRI, nil
		},
	}

	h.handler = newHandler(ActorPath, cfg, activityStore, h.handle, nil, spi.SortAscending)

	return h
}

func (h *Actor) handle(w http.ResponseWriter, req *http.Request) {
	actorIRI, err := h.getActorIRI(req)
	if err != nil {
		h.logger.Debug("Error getting actor IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	actor, err := h.activityStore.GetActor(actorIRI)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.logger.Debug("Actor not found", logfields.WithActorIRI(actorIRI))

			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return
		}

		h.logger.Error("Unable to retrieve actor", logfields.WithActorIRI(actorIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	actorBytes, err := h.marshal(actor)
	if err != nil {
		h.logger.Error("Unable to marshal actor", logfields.WithActorIRI(actorIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	if h.keyManager != nil && h.authorize(req) {
		actorBytes, err = h.withPrivateKey(actorBytes, actorIRI)
		if err != nil {
			h.logger.Error("Unable to add private key to actor document", logfields.WithActorIRI(actorIRI),
				log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

			return
		}
	}

	h.writeResponse(w, http.StatusOK, actorBytes)
}

// withPrivateKey adds the actor's PEM-encoded private key to the marshalled actor
// document. The document is returned unchanged if no key is stored for the actor.
func (h *Actor) withPrivateKey(actorBytes []byte, actorIRI *url.URL) ([]byte, error) {
	privateKeyPem, err := h.keyManager.PrivateKey(actorIRI)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			return actorBytes, nil
		}

		return nil, err
	}

	doc := make(map[string]interface{})

	if err := json.Unmarshal(actorBytes, &doc); err != nil {
		return nil, err
	}

	doc["privateKeyPem"] = string(privateKeyPem)

	return h.marshal(doc)
}
