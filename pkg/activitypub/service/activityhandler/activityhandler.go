/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/lifecycle"
)

const (
	loggerModule = "activitypub_service"

	defaultBufferSize = 100
)

// Config holds the configuration parameters for the activity handler.
type Config struct {
	// ServiceName is the name of the service (used for logging).
	ServiceName string

	// BaseURL is the root HTTP(s) endpoint of this server. It is used to determine
	// whether an IRI refers to a local actor, object or collection.
	BaseURL *url.URL

	// SystemActorIRI is the IRI of the system actor. Activities addressed to the
	// system actor are dispatched to the administrative handler.
	SystemActorIRI *url.URL

	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type undoFunc func(actorIRI *url.URL, activity *vocab.ActivityType) error

type handler struct {
	*Config
	*lifecycle.Lifecycle

	store        store.Store
	client       activityPubClient
	mutex        sync.RWMutex
	subscribers  []chan *vocab.ActivityType
	undoFollow   undoFunc
	undoLike     undoFunc
	undoAnnounce undoFunc
	undoBlock    undoFunc
	logger       *log.Log
}

func newHandler(cfg *Config, s store.Store, activityPubClient activityPubClient) *handler {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	h := &handler{
		Config: cfg,
		store:  s,
		client: activityPubClient,
		logger: log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName, lifecycle.WithStop(h.stop))

	return h
}

func (h *handler) stop() {
	h.logger.Info("Stopping activity handler")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}

	h.subscribers = nil
}

// Subscribe allows a client to receive published activities.
func (h *handler) Subscribe() <-chan *vocab.ActivityType {
	ch := make(chan *vocab.ActivityType, h.BufferSize)

	h.mutex.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mutex.Unlock()

	return ch
}

func (h *handler) notify(activity *vocab.ActivityType) {
	h.mutex.RLock()
	subscribers := h.subscribers
	h.mutex.RUnlock()

	for _, ch := range subscribers {
		ch <- activity
	}
}

// isLocal returns true if the given IRI is served by this server.
func (h *handler) isLocal(iri *url.URL) bool {
	if iri == nil || h.BaseURL == nil {
		return false
	}

	if iri.Scheme != h.BaseURL.Scheme || iri.Host != h.BaseURL.Host {
		return false
	}

	return strings.HasPrefix(iri.Path, h.BaseURL.Path)
}

func (h *handler) handleUndoActivity(_ context.Context, actorIRI *url.URL, undo *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Undo' activity", logfields.WithActivityID(undo.ID()))

	if undo.Actor() == nil {
		return pollenerrors.NewBadRequest(fmt.Errorf("no actor specified in 'Undo' activity"))
	}

	activityInUndo := undo.Object().Activity()
	if activityInUndo == nil || activityInUndo.ID() == nil {
		return pollenerrors.NewBadRequest(fmt.Errorf("no activity specified in 'object' field of the 'Undo' activity"))
	}

	activity, err := h.store.GetActivity(activityInUndo.ID().URL())
	if err != nil {
		e := fmt.Errorf("unable to retrieve activity %s from storage: %w", activityInUndo.ID().URL(), err)

		if errors.Is(err, store.ErrNotFound) {
			return pollenerrors.NewBadRequest(e)
		}

		return pollenerrors.NewTransient(e)
	}

	if activity.Actor() == nil {
		// This shouldn't happen since the activity was validated before it was stored.
		return fmt.Errorf("no actor in stored '%s' activity: %s", activity.Type(), activity.ID())
	}

	if activity.Actor().String() != undo.Actor().String() {
		return pollenerrors.NewBadRequest(
			fmt.Errorf("not handling 'Undo' activity %s since the actor of the 'Undo' [%s] is not"+
				" the same as the actor of the original activity [%s]", undo.ID(), undo.Actor(), activity.Actor()))
	}

	err = validateActivityInUndo(activityInUndo, activity)
	if err != nil {
		return fmt.Errorf("invalid activity in Undo [%s]: %w", undo.ID(), err)
	}

	err = h.undoActivity(actorIRI, activity)
	if err != nil {
		return fmt.Errorf("undo activity [%s]: %w", undo.ID(), err)
	}

	h.notify(undo)

	return nil
}

func (h *handler) undoActivity(actorIRI *url.URL, activity *vocab.ActivityType) error {
	switch {
	case activity.Type().Is(vocab.TypeFollow):
		return h.undoFollow(actorIRI, activity)

	case activity.Type().Is(vocab.TypeLike):
		return h.undoLike(actorIRI, activity)

	case activity.Type().Is(vocab.TypeAnnounce):
		return h.undoAnnounce(actorIRI, activity)

	case activity.Type().Is(vocab.TypeBlock):
		return h.undoBlock(actorIRI, activity)

	default:
		return pollenerrors.NewBadRequestf("undo of type %s is not supported", activity.Type())
	}
}

// deleteReferences deletes all references of the given type that are owned by the
// given object.
func (h *handler) deleteReferences(refType store.ReferenceType, objectIRI *url.URL) error {
	it, err := h.store.QueryReferences(refType, store.NewCriteria(store.WithObjectIRI(objectIRI)))
	if err != nil {
		return fmt.Errorf("query %s references of %s: %w", refType, objectIRI, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	for {
		ref, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}

			return fmt.Errorf("next %s reference of %s: %w", refType, objectIRI, err)
		}

		if err := h.store.DeleteReference(refType, objectIRI, ref); err != nil {
			return fmt.Errorf("delete %s reference %s of %s: %w", refType, ref, objectIRI, err)
		}
	}
}

func (h *handler) hasReference(refType store.ReferenceType, objectIRI, referenceIRI *url.URL) (bool, error) {
	it, err := h.store.QueryReferences(refType,
		store.NewCriteria(
			store.WithObjectIRI(objectIRI),
			store.WithReferenceIRI(referenceIRI),
		),
	)
	if err != nil {
		return false, fmt.Errorf("query %s references of %s: %w", refType, objectIRI, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return false, fmt.Errorf("total items in %s references of %s: %w", refType, objectIRI, err)
	}

	return totalItems > 0, nil
}

func defaultOptions() *service.Handlers {
	return &service.Handlers{
		FollowerAuth: &AcceptAllActorsAuth{},
	}
}

// AcceptAllActorsAuth authorizes any actor.
type AcceptAllActorsAuth struct{}

// AuthorizeActor authorizes the given actor. This implementation always returns true.
func (a *AcceptAllActorsAuth) AuthorizeActor(*vocab.ActorType) (bool, error) {
	return true, nil
}

func validateActivityInUndo(activityInUndo, activity *vocab.ActivityType) error {
	if !activityInUndo.Type().Is(activity.Type().Types()...) {
		return pollenerrors.NewBadRequestf("invalid type - expecting %s but got %s",
			activity.Type(), activityInUndo.Type())
	}

	if activity.Object().IRI() != nil {
		if err := validateObjectIRIInUndo(activityInUndo, activity); err != nil {
			return err
		}
	}

	if activity.Target().IRI() != nil {
		if err := validateTargetInUndo(activityInUndo.Target(), activity.Target()); err != nil {
			return err
		}
	}

	return nil
}

func validateObjectIRIInUndo(activityInUndo, activity *vocab.ActivityType) error {
	if activityInUndo.Object().IRI() == nil {
		return pollenerrors.NewBadRequestf("nil object IRI - expecting %s", activity.Object().IRI())
	}

	if activityInUndo.Object().IRI().String() != activity.Object().IRI().String() {
		return pollenerrors.NewBadRequestf("object IRI mismatch - expecting %s but got %s",
			activity.Object().IRI(), activityInUndo.Object().IRI())
	}

	return nil
}

func validateTargetInUndo(targetInUndo, target *vocab.ObjectProperty) error {
	if targetInUndo.IRI() == nil {
		return pollenerrors.NewBadRequestf("nil target IRI - expecting %s", target.IRI())
	}

	if targetInUndo.IRI().String() != target.IRI().String() {
		return pollenerrors.NewBadRequestf("target IRI mismatch - expecting %s but got %s",
			target.IRI(), targetInUndo.IRI())
	}

	return nil
}
