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
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

type collectionService interface {
	GetDefinition(ownerIRI *url.URL, slug string) (*spi.CollectionDefinition, error)
	GetDefinitions(ownerIRI *url.URL) ([]*spi.CollectionDefinition, error)
	Items(ownerIRI *url.URL, slug string) ([]*url.URL, error)
}

type collectionHandler struct {
	*handler

	collections collectionService
}

// getDefinition resolves the collection definition addressed by the request and
// enforces its visibility.
func (h *collectionHandler) getDefinition(w http.ResponseWriter, req *http.Request) (*url.URL,
	*spi.CollectionDefinition, bool) {
	ownerIRI, err := getActorObjectIRI(h.Config)(req)
	if err != nil {
		h.logger.Debug("Error getting actor IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return nil, nil, false
	}

	slug := getSlugParam(req)
	if slug == "" {
		h.logger.Debug("Collection slug not specified in URL")

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return nil, nil, false
	}

	def, err := h.collections.GetDefinition(ownerIRI, slug)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.logger.Debug("Collection not found", logfields.WithActorIRI(ownerIRI),
				logfields.WithCollectionSlug(slug))

			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return nil, nil, false
		}

		h.logger.Error("Error retrieving collection definition", logfields.WithActorIRI(ownerIRI),
			logfields.WithCollectionSlug(slug), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return nil, nil, false
	}

	if def.Visibility == spi.VisibilityPrivate && !h.authorize(req) {
		h.logger.Debug("Unauthorized for private collection", logfields.WithActorIRI(ownerIRI),
			logfields.WithCollectionSlug(slug))

		h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

		return nil, nil, false
	}

	return ownerIRI, def, true
}

// Collections implements a REST handler that lists an actor's custom collections.
// Private and unlisted collections are listed only for authorized callers.
type Collections struct {
	*collectionHandler
}

// NewCollections returns a new REST handler that retrieves an actor's collection index.
func NewCollections(cfg *Config, activityStore spi.Store, collections collectionService,
	verifier tokenVerifier) *Collections {
	h := &Collections{
		collectionHandler: &collectionHandler{collections: collections},
	}

	h.collectionHandler.handler = newHandler(CollectionsPath, cfg, activityStore, h.handle,
		verifier, spi.SortAscending)

	return h
}

func (h *Collections) handle(w http.ResponseWriter, req *http.Request) {
	ownerIRI, err := getActorObjectIRI(h.Config)(req)
	if err != nil {
		h.logger.Debug("Error getting actor IRI", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	defs, err := h.collections.GetDefinitions(ownerIRI)
	if err != nil {
		h.logger.Error("Error retrieving collection definitions", logfields.WithActorIRI(ownerIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	authorized := h.authorize(req)

	var items []*vocab.ObjectProperty

	for _, def := range defs {
		if def.Visibility != spi.VisibilityPublic && !authorized {
			continue
		}

		collIRI, err := url.Parse(fmt.Sprintf("%s/collections/%s", ownerIRI, def.Slug))
		if err != nil {
			h.logger.Error("Error parsing collection IRI", logfields.WithCollectionSlug(def.Slug),
				log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

			return
		}

		items = append(items, vocab.NewObjectProperty(vocab.WithIRI(collIRI)))
	}

	id, err := url.Parse(fmt.Sprintf("%s/collections", ownerIRI))
	if err != nil {
		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	collBytes, err := h.marshal(vocab.NewCollection(items,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithTotalItems(len(items)),
	))
	if err != nil {
		h.logger.Error("Unable to marshal collection index", logfields.WithActorIRI(ownerIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, collBytes)
}

// Collection implements a REST handler that retrieves the items of a custom collection.
type Collection struct {
	*collectionHandler
}

// NewCollection returns a new REST handler that retrieves the items of a custom
// collection as an OrderedCollection. Private collections are returned only to
// authorized callers.
func NewCollection(cfg *Config, activityStore spi.Store, collections collectionService,
	verifier tokenVerifier) *Collection {
	h := &Collection{
		collectionHandler: &collectionHandler{collections: collections},
	}

	h.collectionHandler.handler = newHandler(CollectionPath, cfg, activityStore, h.handle,
		verifier, spi.SortAscending)

	return h
}

func (h *Collection) handle(w http.ResponseWriter, req *http.Request) {
	ownerIRI, def, ok := h.getDefinition(w, req)
	if !ok {
		return
	}

	items, err := h.collections.Items(ownerIRI, def.Slug)
	if err != nil {
		h.logger.Error("Error retrieving collection items", logfields.WithActorIRI(ownerIRI),
			logfields.WithCollectionSlug(def.Slug), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	id, err := url.Parse(fmt.Sprintf("%s/collections/%s", ownerIRI, def.Slug))
	if err != nil {
		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	props := make([]*vocab.ObjectProperty, len(items))

	for i, item := range items {
		props[i] = vocab.NewObjectProperty(vocab.WithIRI(item))
	}

	collBytes, err := h.marshal(vocab.NewOrderedCollection(props,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithTotalItems(len(props)),
	))
	if err != nil {
		h.logger.Error("Unable to marshal collection", logfields.WithCollectionSlug(def.Slug),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, collBytes)
}

// CollectionDefinition implements a REST handler that retrieves the definition of
// a custom collection.
type CollectionDefinition struct {
	*collectionHandler
}

// NewCollectionDefinition returns a new REST handler that retrieves a custom
// collection's definition. The endpoint must be registered behind a bearer token
// wrapper since definitions are visible only to the collection's owner.
func NewCollectionDefinition(cfg *Config, activityStore spi.Store,
	collections collectionService) *CollectionDefinition {
	h := &CollectionDefinition{
		collectionHandler: &collectionHandler{collections: collections},
	}

	h.collectionHandler.handler = newHandler(CollectionDefinitionPath, cfg, activityStore, h.handle,
		nil, spi.SortAscending)

	return h
}

// definitionResponse is the wire representation of a collection definition.
type definitionResponse struct {
	Slug        string          `json:"slug"`
	DisplayName string          `json:"displayName,omitempty"`
	Description string          `json:"description,omitempty"`
	Kind        string          `json:"kind"`
	Visibility  string          `json:"visibility"`
	SortOrder   string          `json:"sortOrder,omitempty"`
	MaxItems    int             `json:"maxItems,omitempty"`
	Filter      *filterResponse `json:"filter,omitempty"`
}

type filterResponse struct {
	Tags          []string     `json:"tags,omitempty"`
	ObjectTypes   []vocab.Type `json:"objectTypes,omitempty"`
	HasAttachment *bool        `json:"hasAttachment,omitempty"`
	IsReply       *bool        `json:"isReply,omitempty"`
	AfterDate     *time.Time   `json:"afterDate,omitempty"`
}

func (h *CollectionDefinition) handle(w http.ResponseWriter, req *http.Request) {
	_, def, ok := h.getDefinition(w, req)
	if !ok {
		return
	}

	resp := &definitionResponse{
		Slug:        def.Slug,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Kind:        string(def.Kind),
		Visibility:  string(def.Visibility),
		SortOrder:   string(def.SortOrder),
		MaxItems:    def.MaxItems,
	}

	if def.Filter != nil {
		resp.Filter = &filterResponse{
			Tags:          def.Filter.Tags,
			ObjectTypes:   def.Filter.ObjectTypes,
			HasAttachment: def.Filter.HasAttachment,
			IsReply:       def.Filter.IsReply,
			AfterDate:     def.Filter.AfterDate,
		}
	}

	respBytes, err := h.marshal(resp)
	if err != nil {
		h.logger.Error("Unable to marshal collection definition", logfields.WithCollectionSlug(def.Slug),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, respBytes)
}
