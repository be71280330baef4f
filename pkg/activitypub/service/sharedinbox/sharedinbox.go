/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sharedinbox

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

const (
	loggerModule = "activitypub_service"

	followersPathSuffix = "/followers"
)

type inboxDispatcher interface {
	Dispatch(actorIRI *url.URL, activity *vocab.ActivityType) error
}

// Config holds configuration parameters for the shared inbox router.
type Config struct {
	ServiceName   string
	BaseURL       *url.URL
	MaxRecipients int
}

// Router fans out an activity that was posted to the shared inbox. The set of
// local recipients is derived from the activity's addressing properties and a
// copy of the activity is dispatched to the inbox of each of them.
type Router struct {
	*Config

	activityStore store.Store
	inbox         inboxDispatcher
	logger        *log.Log
}

// New returns a new shared inbox router.
func New(cnfg *Config, s store.Store, inbox inboxDispatcher) *Router {
	cfg := *cnfg

	return &Router{
		Config:        &cfg,
		activityStore: s,
		inbox:         inbox,
		logger:        log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}
}

// Route derives the local recipients of the given activity and dispatches a copy
// to each of their inboxes. An error dispatching to one recipient does not abort
// delivery to the others. The IRIs of the recipients that were successfully
// dispatched to are returned.
func (r *Router) Route(activity *vocab.ActivityType) ([]*url.URL, error) {
	if activity == nil {
		return nil, pollenerrors.NewBadRequest(fmt.Errorf("no activity specified"))
	}

	recipients := r.deriveRecipients(activity)

	r.logger.Debug("Routing activity to local recipients", logfields.WithActivityID(activity.ID()),
		logfields.WithTotal(len(recipients)))

	var dispatched []*url.URL

	for _, recipient := range recipients {
		if err := r.inbox.Dispatch(recipient, activity); err != nil {
			r.logger.Error("Error dispatching activity to recipient",
				logfields.WithActivityID(activity.ID()), logfields.WithActorIRI(recipient),
				log.WithError(err))

			continue
		}

		dispatched = append(dispatched, recipient)
	}

	return dispatched, nil
}

// deriveRecipients returns the de-duplicated set of local actors that the
// activity is addressed to. Addressing IRIs may name a local actor directly, a
// local actor's followers collection, or the public IRI, in which case the
// activity goes to every local follower of the sender.
func (r *Router) deriveRecipients(activity *vocab.ActivityType) []*url.URL {
	m := make(map[string]struct{})

	var recipients []*url.URL

	add := func(iri *url.URL) {
		if len(recipients) >= r.MaxRecipients && r.MaxRecipients > 0 {
			return
		}

		if _, exists := m[iri.String()]; !exists {
			m[iri.String()] = struct{}{}

			recipients = append(recipients, iri)
		}
	}

	for _, iri := range activity.AllRecipients() {
		switch {
		case iri.String() == vocab.PublicIRI:
			for _, follower := range r.localFollowersOf(activity.Actor()) {
				add(follower)
			}
		case r.isLocal(iri) && strings.HasSuffix(iri.Path, followersPathSuffix):
			for _, follower := range r.loadLocalFollowers(ownerOfFollowers(iri)) {
				add(follower)
			}
		case r.isLocal(iri):
			if r.isLocalActor(iri) {
				add(iri)
			}
		}
	}

	return recipients
}

func (r *Router) isLocal(iri *url.URL) bool {
	return iri.Host == r.BaseURL.Host && strings.HasPrefix(iri.String(), r.BaseURL.String())
}

func (r *Router) isLocalActor(iri *url.URL) bool {
	_, err := r.activityStore.GetActor(iri)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("Error retrieving actor from storage", logfields.WithActorIRI(iri),
				log.WithError(err))
		}

		return false
	}

	return true
}

// localFollowersOf returns the local actors that follow the given (usually
// remote) actor.
func (r *Router) localFollowersOf(actorIRI *url.URL) []*url.URL {
	if actorIRI == nil {
		return nil
	}

	actors, err := r.activityStore.GetActors()
	if err != nil {
		r.logger.Error("Error retrieving actors from storage", log.WithError(err))

		return nil
	}

	var followers []*url.URL

	for _, actor := range actors {
		iri := actor.ID().URL()

		if !r.isLocal(iri) {
			continue
		}

		ok, err := r.isFollowing(iri, actorIRI)
		if err != nil {
			r.logger.Error("Error querying following references", logfields.WithActorIRI(iri),
				log.WithError(err))

			continue
		}

		if ok {
			followers = append(followers, iri)
		}
	}

	return followers
}

func (r *Router) isFollowing(actorIRI, targetIRI *url.URL) (bool, error) {
	it, err := r.activityStore.QueryReferences(store.Following, store.NewCriteria(
		store.WithObjectIRI(actorIRI),
		store.WithReferenceIRI(targetIRI),
	))
	if err != nil {
		return false, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			r.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return false, err
	}

	return totalItems > 0, nil
}

// loadLocalFollowers returns the local followers of the given local actor. The
// activity is not forwarded to remote followers since their own server is
// responsible for delivering to them.
func (r *Router) loadLocalFollowers(actorIRI *url.URL) []*url.URL {
	if actorIRI == nil || !r.isLocalActor(actorIRI) {
		return nil
	}

	it, err := r.activityStore.QueryReferences(store.Follower,
		store.NewCriteria(store.WithObjectIRI(actorIRI)))
	if err != nil {
		r.logger.Error("Error querying followers", logfields.WithActorIRI(actorIRI), log.WithError(err))

		return nil
	}

	defer func() {
		if err := it.Close(); err != nil {
			r.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	refs, err := storeutil.ReadReferences(it, r.MaxRecipients)
	if err != nil {
		r.logger.Error("Error reading followers", logfields.WithActorIRI(actorIRI), log.WithError(err))

		return nil
	}

	var followers []*url.URL

	for _, ref := range refs {
		if r.isLocal(ref) {
			followers = append(followers, ref)
		}
	}

	return followers
}

func ownerOfFollowers(iri *url.URL) *url.URL {
	owner := *iri
	owner.Path = strings.TrimSuffix(owner.Path, followersPathSuffix)

	return &owner
}
