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
	"time"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

// Outbox applies the local side effects of activities posted to the outbox of a
// local actor. Delivery to remote inboxes is handled separately.
type Outbox struct {
	*handler
	*service.Handlers
}

// NewOutbox returns a new ActivityPub outbox activity handler.
func NewOutbox(cfg *Config, s store.Store, activityPubClient activityPubClient,
	opts ...service.HandlerOpt) *Outbox {
	options := defaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	h := &Outbox{
		Handlers: options,
	}

	h.handler = newHandler(cfg, s, activityPubClient)

	h.undoFollow = h.undoFollowing
	h.undoLike = h.undoLiked
	h.undoAnnounce = h.undoShare
	h.undoBlock = h.undoBlocked

	return h
}

// HandleActivity applies the local side effects of the activity posted to the
// outbox of the given local actor.
func (h *Outbox) HandleActivity(ctx context.Context, actorIRI *url.URL, activity *vocab.ActivityType) error {
	typeProp := activity.Type()

	switch {
	case typeProp.Is(vocab.TypeCreate):
		return h.handleCreateActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeUpdate):
		return h.handleUpdateActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeDelete):
		return h.handleDeleteActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeFollow):
		return h.handleFollowActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeAccept):
		return h.handleAcceptActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeUndo):
		return h.handleUndoActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeLike):
		return h.handleLikeActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeAnnounce):
		return h.handleAnnounceActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeAdd):
		return h.handleAddActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeRemove):
		return h.handleRemoveActivity(actorIRI, activity)
	case typeProp.Is(vocab.TypeBlock):
		return h.handleBlockActivity(actorIRI, activity)
	default:
		// Nothing to do for activity.
		return nil
	}
}

func (h *Outbox) handleCreateActivity(_ *url.URL, create *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Create' activity", logfields.WithActivityID(create.ID()))

	obj := create.Object().Object()
	if obj == nil || obj.ID() == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Create' activity [%s]", create.ID())
	}

	h.canonicalizeAttachments(obj)

	if err := h.store.PutObject(obj); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store object [%s]: %w", obj.ID(), err))
	}

	if inReplyTo := obj.InReplyTo(); inReplyTo != nil && h.isLocal(inReplyTo.URL()) {
		if err := h.store.AddReference(store.Reply, inReplyTo.URL(), obj.ID().URL()); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("store reply reference of object [%s]: %w", obj.ID(), err))
		}
	}

	h.notify(create)

	return nil
}

// canonicalizeAttachments rewrites attachment URLs that reference a locally
// stored blob to the blob's canonical media URL.
func (h *Outbox) canonicalizeAttachments(obj *vocab.ObjectType) {
	for _, attachment := range obj.Attachment() {
		urls := attachment.URL()

		var changed bool

		for i, u := range urls {
			canonical, ok := h.canonicalBlobURL(u)
			if ok && canonical.String() != u.String() {
				h.logger.Debug("Rewriting local blob attachment URL",
					logfields.WithURI(u), logfields.WithTargetIRI(canonical))

				urls[i] = canonical
				changed = true
			}
		}

		if changed {
			attachment.SetURL(urls...)
		}
	}
}

// canonicalBlobURL returns the canonical media URL of the blob referenced by the
// given URL, or false if the URL does not reference a locally stored blob.
func (h *Outbox) canonicalBlobURL(u *url.URL) (*url.URL, bool) {
	if u == nil || !h.isLocal(u) {
		return nil, false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[len(segments)-2] != "media" {
		return nil, false
	}

	blobID := segments[len(segments)-1]

	if _, err := h.store.GetBlob(blobID); err != nil {
		return nil, false
	}

	canonical, err := url.Parse(fmt.Sprintf("%s/media/%s", h.BaseURL, blobID))
	if err != nil {
		return nil, false
	}

	return canonical, true
}

func (h *Outbox) handleUpdateActivity(actorIRI *url.URL, update *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Update' activity", logfields.WithActivityID(update.ID()))

	obj := update.Object().Object()
	if obj == nil || obj.ID() == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Update' activity [%s]", update.ID())
	}

	stored, err := h.store.GetObject(obj.ID().URL())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pollenerrors.NewBadRequestf("object [%s] in 'Update' activity [%s] not found",
				obj.ID(), update.ID())
		}

		return pollenerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", obj.ID(), err))
	}

	if stored.AttributedTo() == nil || stored.AttributedTo().String() != actorIRI.String() {
		return pollenerrors.NewBadRequestf("actor [%s] is not the author of object [%s]", actorIRI, obj.ID())
	}

	if err := h.store.PutObject(obj); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("update object [%s]: %w", obj.ID(), err))
	}

	h.notify(update)

	return nil
}

func (h *Outbox) handleDeleteActivity(actorIRI *url.URL, del *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Delete' activity", logfields.WithActivityID(del.ID()))

	iri := del.Object().ID()
	if iri == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Delete' activity [%s]", del.ID())
	}

	stored, err := h.store.GetObject(iri)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Debug("Object in 'Delete' activity not found", logfields.WithObjectIRI(iri))

			return nil
		}

		return pollenerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", iri, err))
	}

	if stored.AttributedTo() == nil || stored.AttributedTo().String() != actorIRI.String() {
		return pollenerrors.NewBadRequestf("actor [%s] is not the author of object [%s]", actorIRI, iri)
	}

	now := time.Now()

	tombstone := vocab.NewTombstoneObject(
		vocab.WithID(iri),
		vocab.WithFormerType(firstType(stored.Type())),
		vocab.WithDeletedTime(&now),
	)

	if err := h.store.PutObject(tombstone); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store tombstone for object [%s]: %w", iri, err))
	}

	for _, refType := range []store.ReferenceType{store.Like, store.Share, store.Reply} {
		if err := h.deleteReferences(refType, iri); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("delete references of object [%s]: %w", iri, err))
		}
	}

	h.notify(del)

	return nil
}

func (h *Outbox) handleFollowActivity(actorIRI *url.URL, follow *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Follow' activity", logfields.WithActivityID(follow.ID()))

	targetIRI := follow.Object().IRI()
	if targetIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Follow' activity [%s]", follow.ID())
	}

	// Record the outgoing edge immediately so that the actor's 'following'
	// collection reflects the request before the remote Accept arrives.
	if err := h.store.AddReference(store.Following, actorIRI, targetIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Following' reference: %w", err))
	}

	h.notify(follow)

	return nil
}

func (h *Outbox) handleAcceptActivity(actorIRI *url.URL, accept *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Accept' activity", logfields.WithActivityID(accept.ID()))

	follow := accept.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		// Accepting something other than a Follow has no local side effects.
		return nil
	}

	if follow.Actor() == nil {
		return pollenerrors.NewBadRequestf("no actor specified in the 'Follow' activity of the 'Accept'")
	}

	iri := follow.Object().IRI()
	if iri == nil || iri.String() != actorIRI.String() {
		return pollenerrors.NewBadRequestf("the 'Follow' activity in the 'Accept' does not target actor [%s]",
			actorIRI)
	}

	if err := h.store.AddReference(store.Follower, actorIRI, follow.Actor()); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store new follower: %w", err))
	}

	h.notify(accept)

	return nil
}

func (h *Outbox) handleLikeActivity(actorIRI *url.URL, like *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Like' activity", logfields.WithActivityID(like.ID()))

	objectIRI := like.Object().IRI()
	if objectIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if err := h.store.AddReference(store.Liked, actorIRI, objectIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Liked' reference: %w", err))
	}

	if h.isLocal(objectIRI) {
		if err := h.store.AddReference(store.Like, objectIRI, like.ID().URL()); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Like' reference: %w", err))
		}
	}

	h.notify(like)

	return nil
}

func (h *Outbox) handleAnnounceActivity(_ *url.URL, announce *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Announce' activity", logfields.WithActivityID(announce.ID()))

	objectIRI := announce.Object().ID()
	if objectIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Announce' activity [%s]", announce.ID())
	}

	if h.isLocal(objectIRI) {
		if err := h.store.AddReference(store.Share, objectIRI, announce.ID().URL()); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Share' reference: %w", err))
		}
	}

	h.notify(announce)

	return nil
}

func (h *Outbox) handleAddActivity(actorIRI *url.URL, add *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Add' activity", logfields.WithActivityID(add.ID()))

	collIRI, objectIRI, err := h.collectionRefs(add)
	if err != nil {
		return err
	}

	if err := h.Collections.AddMemberByIRI(actorIRI, collIRI, objectIRI); err != nil {
		return fmt.Errorf("add member [%s] to collection [%s]: %w", objectIRI, collIRI, err)
	}

	h.notify(add)

	return nil
}

func (h *Outbox) handleRemoveActivity(actorIRI *url.URL, remove *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Remove' activity", logfields.WithActivityID(remove.ID()))

	collIRI, objectIRI, err := h.collectionRefs(remove)
	if err != nil {
		return err
	}

	if err := h.Collections.RemoveMemberByIRI(actorIRI, collIRI, objectIRI); err != nil {
		return fmt.Errorf("remove member [%s] from collection [%s]: %w", objectIRI, collIRI, err)
	}

	h.notify(remove)

	return nil
}

func (h *Outbox) collectionRefs(activity *vocab.ActivityType) (collIRI, objectIRI *url.URL, err error) {
	objectIRI = activity.Object().ID()
	if objectIRI == nil {
		return nil, nil, pollenerrors.NewBadRequestf("no object specified in '%s' activity [%s]",
			activity.Type(), activity.ID())
	}

	collIRI = activity.Target().IRI()
	if collIRI == nil {
		return nil, nil, pollenerrors.NewBadRequestf("no target specified in '%s' activity [%s]",
			activity.Type(), activity.ID())
	}

	if !h.isLocal(collIRI) {
		return nil, nil, pollenerrors.NewBadRequestf("target [%s] in '%s' activity [%s] is not a local collection",
			collIRI, activity.Type(), activity.ID())
	}

	if h.Collections == nil {
		return nil, nil, fmt.Errorf("no collection manager configured")
	}

	return collIRI, objectIRI, nil
}

func (h *Outbox) handleBlockActivity(actorIRI *url.URL, block *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Block' activity", logfields.WithActivityID(block.ID()))

	blockedIRI := block.Object().IRI()
	if blockedIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Block' activity [%s]", block.ID())
	}

	if err := h.store.AddReference(store.Blocked, actorIRI, blockedIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Blocked' reference: %w", err))
	}

	h.notify(block)

	return nil
}

func (h *Outbox) undoFollowing(actorIRI *url.URL, follow *vocab.ActivityType) error {
	return h.undoActorReference(store.Following, actorIRI, follow.Object().IRI())
}

func (h *Outbox) undoLiked(actorIRI *url.URL, like *vocab.ActivityType) error {
	objectIRI := like.Object().IRI()

	if err := h.undoActorReference(store.Liked, actorIRI, objectIRI); err != nil {
		return err
	}

	if objectIRI != nil && h.isLocal(objectIRI) {
		if err := h.store.DeleteReference(store.Like, objectIRI, like.ID().URL()); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return pollenerrors.NewTransient(fmt.Errorf("unable to delete 'Like' reference: %w", err))
		}
	}

	return nil
}

func (h *Outbox) undoShare(_ *url.URL, announce *vocab.ActivityType) error {
	objectIRI := announce.Object().ID()
	if objectIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Announce' activity")
	}

	if !h.isLocal(objectIRI) {
		return nil
	}

	if err := h.store.DeleteReference(store.Share, objectIRI, announce.ID().URL()); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("unable to delete 'Share' reference: %w", err))
	}

	return nil
}

func (h *Outbox) undoBlocked(actorIRI *url.URL, block *vocab.ActivityType) error {
	return h.undoActorReference(store.Blocked, actorIRI, block.Object().IRI())
}

func (h *Outbox) undoActorReference(refType store.ReferenceType, actorIRI, iri *url.URL) error {
	if iri == nil {
		return pollenerrors.NewBadRequestf("no IRI specified in 'object' field")
	}

	if err := h.store.DeleteReference(refType, actorIRI, iri); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		return pollenerrors.NewTransient(fmt.Errorf("unable to delete %s from %s's collection of %s",
			iri, actorIRI, refType))
	}

	h.logger.Debug("Reference was successfully deleted", logfields.WithActorIRI(actorIRI),
		logfields.WithURI(iri), logfields.WithReferenceType(string(refType)))

	return nil
}
