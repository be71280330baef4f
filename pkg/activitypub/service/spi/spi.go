/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"context"
	"errors"
	"net/url"

	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

// ErrNotStarted indicates that an attempt was made to invoke a service that has not been started
// or is still in the process of starting.
var ErrNotStarted = errors.New("service has not started")

// State is the state of the service.
type State = uint32

const (
	// StateNotStarted indicates that the service has not been started.
	StateNotStarted State = 0
	// StateStarting indicates that the service is in the process of starting.
	StateStarting State = 1
	// StateStarted indicates that the service has been started.
	StateStarted State = 2
	// StateStopped indicates that the service has been stopped.
	StateStopped State = 3
)

// ServiceLifecycle defines the functions of a service lifecycle.
type ServiceLifecycle interface {
	// Start starts the service.
	Start()
	// Stop stops the service.
	Stop()
	// State returns the state of the service.
	State() State
}

// ActivityHandler handles an activity on behalf of a local actor. For an inbox
// handler the actor is the recipient, for an outbox handler it is the sender.
type ActivityHandler interface {
	ServiceLifecycle

	// HandleActivity handles the ActivityPub activity on behalf of the given local actor.
	HandleActivity(ctx context.Context, actorIRI *url.URL, activity *vocab.ActivityType) error

	// Subscribe allows a client to receive published activities.
	Subscribe() <-chan *vocab.ActivityType
}

// Outbox posts activities on behalf of local actors.
type Outbox interface {
	ServiceLifecycle

	// Post posts the given activity. The activity's actor must be a local actor.
	// Returns the activity IRI, which is synthesized when the activity has no ID.
	Post(ctx context.Context, activity *vocab.ActivityType) (*url.URL, error)
}

// ActorAuth makes the decision of whether or not a request by the given
// actor is authorized.
type ActorAuth interface {
	AuthorizeActor(actor *vocab.ActorType) (bool, error)
}

// AdminActivityHandler handles administrative activities addressed to the
// system actor.
type AdminActivityHandler interface {
	// HandleAdminActivity handles the administrative activity.
	HandleAdminActivity(ctx context.Context, activity *vocab.ActivityType) error
}

// CollectionManager manages custom collection memberships addressed by
// collection IRI.
type CollectionManager interface {
	// AddMemberByIRI adds the given object to the custom collection with the given IRI.
	AddMemberByIRI(actorIRI, collIRI, objectIRI *url.URL) error
	// RemoveMemberByIRI removes the given object from the custom collection with the given IRI.
	RemoveMemberByIRI(actorIRI, collIRI, objectIRI *url.URL) error
}

// Handlers contains handlers for various activity events.
type Handlers struct {
	FollowerAuth ActorAuth
	AdminHandler AdminActivityHandler
	Collections  CollectionManager
}

// HandlerOpt sets a specific handler.
type HandlerOpt func(options *Handlers)

// WithFollowerAuth sets the handler that authorizes requests to follow a local actor.
func WithFollowerAuth(auth ActorAuth) HandlerOpt {
	return func(options *Handlers) {
		options.FollowerAuth = auth
	}
}

// WithAdminHandler sets the handler for administrative activities addressed to
// the system actor.
func WithAdminHandler(handler AdminActivityHandler) HandlerOpt {
	return func(options *Handlers) {
		options.AdminHandler = handler
	}
}

// WithCollectionManager sets the manager for custom collection memberships.
func WithCollectionManager(mgr CollectionManager) HandlerOpt {
	return func(options *Handlers) {
		options.Collections = mgr
	}
}
