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
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

// Inbox handles activities posted to the inbox of a local actor.
type Inbox struct {
	*handler
	*service.Handlers

	outbox service.Outbox
}

// NewInbox returns a new ActivityPub inbox activity handler.
func NewInbox(cfg *Config, s store.Store, outbox service.Outbox, activityPubClient activityPubClient,
	opts ...service.HandlerOpt) *Inbox {
	options := defaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	h := &Inbox{
		outbox:   outbox,
		Handlers: options,
	}

	h.handler = newHandler(cfg, s, activityPubClient)

	h.undoFollow = h.undoFollower
	h.undoLike = h.undoLikeRef
	h.undoAnnounce = h.undoShareRef
	h.undoBlock = h.undoBlockRef

	return h
}

// HandleActivity handles the ActivityPub activity in the inbox of the given local actor.
func (h *Inbox) HandleActivity(ctx context.Context, actorIRI *url.URL, activity *vocab.ActivityType) error {
	if activity.Actor() == nil {
		return pollenerrors.NewBadRequestf("no actor specified in '%s' activity", activity.Type())
	}

	blocked, err := h.hasReference(store.Blocked, actorIRI, activity.Actor())
	if err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("check blocked actors: %w", err))
	}

	if blocked {
		h.logger.Info("Ignoring activity from blocked actor", logfields.WithActivityID(activity.ID()),
			logfields.WithActorIRI(activity.Actor()))

		return nil
	}

	if h.SystemActorIRI != nil && actorIRI.String() == h.SystemActorIRI.String() && h.AdminHandler != nil {
		return h.AdminHandler.HandleAdminActivity(ctx, activity)
	}

	duplicate, err := h.isDuplicate(actorIRI, activity)
	if err != nil {
		return err
	}

	if duplicate {
		h.logger.Info("Ignoring duplicate activity", logfields.WithActivityID(activity.ID()),
			logfields.WithActorIRI(actorIRI))

		return nil
	}

	if err := h.handle(ctx, actorIRI, activity); err != nil {
		return err
	}

	return h.storeActivity(actorIRI, activity)
}

//nolint:cyclop
func (h *Inbox) handle(ctx context.Context, actorIRI *url.URL, activity *vocab.ActivityType) error {
	typeProp := activity.Type()

	switch {
	case typeProp.Is(vocab.TypeCreate):
		return h.handleCreateActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeUpdate):
		return h.handleUpdateActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeDelete):
		return h.handleDeleteActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeFollow):
		return h.handleFollowActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeAccept):
		return h.handleAcceptActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeReject):
		return h.handleRejectActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeUndo):
		return h.handleUndoActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeLike):
		return h.handleLikeActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeAnnounce):
		return h.handleAnnounceActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeAdd):
		return h.handleAddActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeRemove):
		return h.handleRemoveActivity(ctx, actorIRI, activity)
	case typeProp.Is(vocab.TypeBlock):
		return h.handleBlockActivity(ctx, actorIRI, activity)
	default:
		return pollenerrors.NewBadRequestf("unsupported activity type: %s", typeProp.Types())
	}
}

// isDuplicate returns true if the activity has already been delivered to the
// given actor's inbox.
func (h *Inbox) isDuplicate(actorIRI *url.URL, activity *vocab.ActivityType) (bool, error) {
	if activity.ID() == nil {
		return false, pollenerrors.NewBadRequestf("no ID specified in '%s' activity", activity.Type())
	}

	duplicate, err := h.hasReference(store.Inbox, actorIRI, activity.ID().URL())
	if err != nil {
		return false, pollenerrors.NewTransient(fmt.Errorf("check inbox for duplicate activity: %w", err))
	}

	return duplicate, nil
}

func (h *Inbox) storeActivity(actorIRI *url.URL, activity *vocab.ActivityType) error {
	if err := h.store.AddActivity(activity); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store activity [%s]: %w", activity.ID(), err))
	}

	if err := h.store.AddReference(store.Inbox, actorIRI, activity.ID().URL()); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("add activity [%s] to inbox of %s: %w",
			activity.ID(), actorIRI, err))
	}

	return nil
}

func (h *Inbox) handleCreateActivity(_ context.Context, _ *url.URL, create *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Create' activity", logfields.WithActivityID(create.ID()))

	if err := h.storeObject(create); err != nil {
		return err
	}

	h.notify(create)

	return nil
}

func (h *Inbox) handleUpdateActivity(_ context.Context, _ *url.URL, update *vocab.ActivityType) error {
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

	if stored.AttributedTo() == nil || stored.AttributedTo().String() != update.Actor().String() {
		return pollenerrors.NewBadRequestf("actor of 'Update' activity [%s] is not the author of object [%s]",
			update.ID(), obj.ID())
	}

	if err := h.store.PutObject(obj); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("update object [%s]: %w", obj.ID(), err))
	}

	h.notify(update)

	return nil
}

func (h *Inbox) handleDeleteActivity(_ context.Context, _ *url.URL, del *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Delete' activity", logfields.WithActivityID(del.ID()))

	iri := del.Object().ID()
	if iri == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Delete' activity [%s]", del.ID())
	}

	if iri.String() == del.Actor().String() {
		return h.deleteActor(del, iri)
	}

	return h.deleteObject(del, iri)
}

func (h *Inbox) deleteObject(del *vocab.ActivityType, iri *url.URL) error {
	stored, err := h.store.GetObject(iri)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The object was never stored locally. A tombstone is still recorded
			// so that the delete is idempotent and replies can render a deleted stub.
			h.logger.Debug("Object in 'Delete' activity not found. Storing a tombstone.",
				logfields.WithObjectIRI(iri))

			if err := h.storeTombstone(iri, ""); err != nil {
				return err
			}

			h.notify(del)

			return nil
		}

		return pollenerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", iri, err))
	}

	if stored.AttributedTo() == nil || stored.AttributedTo().String() != del.Actor().String() {
		return pollenerrors.NewBadRequestf("actor of 'Delete' activity [%s] is not the author of object [%s]",
			del.ID(), iri)
	}

	if err := h.storeTombstone(iri, firstType(stored.Type())); err != nil {
		return err
	}

	for _, refType := range []store.ReferenceType{store.Like, store.Share, store.Reply} {
		if err := h.deleteReferences(refType, iri); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("delete references of object [%s]: %w", iri, err))
		}
	}

	if inReplyTo := stored.InReplyTo(); inReplyTo != nil && h.isLocal(inReplyTo.URL()) {
		if err := h.store.DeleteReference(store.Reply, inReplyTo.URL(), iri); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return pollenerrors.NewTransient(fmt.Errorf("delete reply reference of object [%s]: %w", iri, err))
		}
	}

	h.notify(del)

	return nil
}

func (h *Inbox) deleteActor(del *vocab.ActivityType, actorIRI *url.URL) error {
	for _, refType := range []store.ReferenceType{store.Follower, store.Following, store.Liked, store.Blocked} {
		if err := h.deleteReferences(refType, actorIRI); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("delete references of actor [%s]: %w", actorIRI, err))
		}
	}

	// Remove the deleted actor from the follower/following collections of all local actors.
	actors, err := h.store.GetActors()
	if err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("retrieve local actors: %w", err))
	}

	for _, localActor := range actors {
		for _, refType := range []store.ReferenceType{store.Follower, store.Following} {
			if err := h.store.DeleteReference(refType, localActor.ID().URL(), actorIRI); err != nil &&
				!errors.Is(err, store.ErrNotFound) {
				return pollenerrors.NewTransient(fmt.Errorf("delete %s reference of actor [%s]: %w",
					refType, localActor.ID(), err))
			}
		}
	}

	if err := h.store.DeleteActor(actorIRI); err != nil && !errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("delete actor [%s]: %w", actorIRI, err))
	}

	h.notify(del)

	return nil
}

func (h *Inbox) handleFollowActivity(ctx context.Context, actorIRI *url.URL, follow *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Follow' activity", logfields.WithActivityID(follow.ID()))

	followerIRI := follow.Actor()

	iri := follow.Object().IRI()
	if iri == nil {
		return pollenerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	// Make sure that the IRI is targeting the local actor. If not then ignore the message.
	if iri.String() != actorIRI.String() {
		h.logger.Info("Not handling 'Follow' activity since the local actor is not the target object",
			logfields.WithActivityID(follow.ID()), logfields.WithActorIRI(actorIRI), logfields.WithTargetIRI(iri))

		return nil
	}

	hasFollower, err := h.hasReference(store.Follower, actorIRI, followerIRI)
	if err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("retrieve existing follower: %w", err))
	}

	if hasFollower {
		h.logger.Info("Follower already exists. Replying with 'Accept' activity.",
			logfields.WithActorIRI(followerIRI), logfields.WithTargetIRI(actorIRI))

		return h.postAcceptFollow(ctx, actorIRI, follow, followerIRI)
	}

	actor, err := h.client.GetActor(followerIRI)
	if err != nil {
		return fmt.Errorf("unable to retrieve actor [%s]: %w", followerIRI, err)
	}

	accept, err := h.FollowerAuth.AuthorizeActor(actor)
	if err != nil {
		return fmt.Errorf("unable to authorize follower [%s]: %w", followerIRI, err)
	}

	if !accept {
		h.logger.Info("Follow request has been rejected. Replying with 'Reject' activity",
			logfields.WithActorIRI(followerIRI), logfields.WithTargetIRI(actorIRI))

		return h.postRejectFollow(ctx, actorIRI, follow, followerIRI)
	}

	if err := h.store.AddReference(store.Follower, actorIRI, actor.ID().URL()); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store new follower: %w", err))
	}

	if err := h.store.PutActor(actor); err != nil {
		h.logger.Warn("Unable to store actor", logfields.WithActorIRI(actor.ID()), log.WithError(err))
	}

	h.logger.Debug("Replying with 'Accept' activity", logfields.WithActorIRI(actor.ID()))

	return h.postAcceptFollow(ctx, actorIRI, follow, actor.ID().URL())
}

func (h *Inbox) postAcceptFollow(ctx context.Context, actorIRI *url.URL, follow *vocab.ActivityType,
	toIRI *url.URL) error {
	acceptActivity := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithActor(actorIRI),
		vocab.WithTo(toIRI),
	)

	h.notify(follow)

	h.logger.Debug("Publishing 'Accept' activity", logfields.WithTargetIRI(toIRI))

	if _, err := h.outbox.Post(ctx, acceptActivity); err != nil {
		return fmt.Errorf("unable to reply with 'Accept' to %s: %w", toIRI, err)
	}

	return nil
}

func (h *Inbox) postRejectFollow(ctx context.Context, actorIRI *url.URL, follow *vocab.ActivityType,
	toIRI *url.URL) error {
	reject := vocab.NewRejectActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithActor(actorIRI),
		vocab.WithTo(toIRI),
	)

	h.logger.Debug("Publishing 'Reject' activity", logfields.WithTargetIRI(toIRI))

	if _, err := h.outbox.Post(ctx, reject); err != nil {
		return fmt.Errorf("unable to reply with 'Reject' to %s: %w", toIRI, err)
	}

	return nil
}

func (h *Inbox) handleAcceptActivity(_ context.Context, actorIRI *url.URL, accept *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Accept' activity", logfields.WithActivityID(accept.ID()))

	follow, err := validateEmbeddedFollow(accept, actorIRI)
	if err != nil {
		return err
	}

	if follow == nil {
		return nil
	}

	if err := h.store.AddReference(store.Following, actorIRI, accept.Actor()); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store new following: %w", err))
	}

	h.logger.Debug("Local actor is now following", logfields.WithActorIRI(actorIRI),
		logfields.WithTargetIRI(accept.Actor()))

	h.notify(accept)

	return nil
}

func (h *Inbox) handleRejectActivity(_ context.Context, actorIRI *url.URL, reject *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Reject' activity", logfields.WithActivityID(reject.ID()))

	follow, err := validateEmbeddedFollow(reject, actorIRI)
	if err != nil {
		return err
	}

	if follow == nil {
		return nil
	}

	h.logger.Warn("Follow request was rejected", logfields.WithActorIRI(actorIRI),
		logfields.WithTargetIRI(reject.Actor()))

	h.notify(reject)

	return nil
}

func (h *Inbox) handleLikeActivity(_ context.Context, _ *url.URL, like *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Like' activity", logfields.WithActivityID(like.ID()))

	objectIRI := like.Object().IRI()
	if objectIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if !h.isLocal(objectIRI) {
		h.logger.Info("Ignoring 'Like' activity since the object is not local",
			logfields.WithActivityID(like.ID()), logfields.WithObjectIRI(objectIRI))

		return nil
	}

	if err := h.store.AddReference(store.Like, objectIRI, like.ID().URL()); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Like' reference: %w", err))
	}

	h.notify(like)

	return nil
}

func (h *Inbox) handleAnnounceActivity(_ context.Context, _ *url.URL, announce *vocab.ActivityType) error {
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

func (h *Inbox) handleAddActivity(_ context.Context, _ *url.URL, add *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Add' activity", logfields.WithActivityID(add.ID()))

	collIRI, objectIRI, err := h.collectionRefsFromActivity(add)
	if err != nil {
		return err
	}

	if err := h.Collections.AddMemberByIRI(add.Actor(), collIRI, objectIRI); err != nil {
		return fmt.Errorf("add member [%s] to collection [%s]: %w", objectIRI, collIRI, err)
	}

	h.notify(add)

	return nil
}

func (h *Inbox) handleRemoveActivity(_ context.Context, _ *url.URL, remove *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Remove' activity", logfields.WithActivityID(remove.ID()))

	collIRI, objectIRI, err := h.collectionRefsFromActivity(remove)
	if err != nil {
		return err
	}

	if err := h.Collections.RemoveMemberByIRI(remove.Actor(), collIRI, objectIRI); err != nil {
		return fmt.Errorf("remove member [%s] from collection [%s]: %w", objectIRI, collIRI, err)
	}

	h.notify(remove)

	return nil
}

func (h *Inbox) collectionRefsFromActivity(activity *vocab.ActivityType) (collIRI, objectIRI *url.URL, err error) {
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

func (h *Inbox) handleBlockActivity(_ context.Context, _ *url.URL, block *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Block' activity", logfields.WithActivityID(block.ID()))

	blockedIRI := block.Object().IRI()
	if blockedIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Block' activity [%s]", block.ID())
	}

	if err := h.store.AddReference(store.Blocked, block.Actor(), blockedIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("unable to store 'Blocked' reference: %w", err))
	}

	h.notify(block)

	return nil
}

func (h *Inbox) storeObject(create *vocab.ActivityType) error {
	obj := create.Object().Object()
	if obj == nil || obj.ID() == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Create' activity [%s]", create.ID())
	}

	if obj.AttributedTo() == nil || obj.AttributedTo().String() != create.Actor().String() {
		return pollenerrors.NewBadRequestf("attributedTo of object [%s] does not match the actor of the"+
			" 'Create' activity [%s]", obj.ID(), create.ID())
	}

	if err := h.store.PutObject(obj); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store object [%s]: %w", obj.ID(), err))
	}

	if inReplyTo := obj.InReplyTo(); inReplyTo != nil && h.isLocal(inReplyTo.URL()) {
		if err := h.store.AddReference(store.Reply, inReplyTo.URL(), obj.ID().URL()); err != nil {
			return pollenerrors.NewTransient(fmt.Errorf("store reply reference of object [%s]: %w", obj.ID(), err))
		}
	}

	return nil
}

func (h *Inbox) undoFollower(actorIRI *url.URL, follow *vocab.ActivityType) error {
	iri := follow.Object().IRI()
	if iri == nil {
		return pollenerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	// Make sure that the IRI is targeting the local actor. If not then ignore the message.
	if iri.String() != actorIRI.String() {
		h.logger.Info("Not handling 'Undo' of follow activity since the local actor is not the target object",
			logfields.WithActivityID(follow.ID()), logfields.WithActorIRI(actorIRI), logfields.WithTargetIRI(iri))

		return nil
	}

	err := h.store.DeleteReference(store.Follower, actorIRI, follow.Actor())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("Actor not found in followers", logfields.WithActorIRI(follow.Actor()),
				logfields.WithTargetIRI(actorIRI))

			return nil
		}

		return pollenerrors.NewTransient(fmt.Errorf("unable to delete %s from %s's collection of followers: %w",
			follow.Actor(), actorIRI, err))
	}

	return nil
}

func (h *Inbox) undoLikeRef(_ *url.URL, like *vocab.ActivityType) error {
	return h.undoObjectReference(store.Like, like)
}

func (h *Inbox) undoShareRef(_ *url.URL, announce *vocab.ActivityType) error {
	return h.undoObjectReference(store.Share, announce)
}

func (h *Inbox) undoObjectReference(refType store.ReferenceType, activity *vocab.ActivityType) error {
	objectIRI := activity.Object().ID()
	if objectIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in '%s' activity", activity.Type())
	}

	if !h.isLocal(objectIRI) {
		return nil
	}

	if err := h.store.DeleteReference(refType, objectIRI, activity.ID().URL()); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("unable to delete %s reference of object [%s]: %w",
			refType, objectIRI, err))
	}

	return nil
}

func (h *Inbox) undoBlockRef(_ *url.URL, block *vocab.ActivityType) error {
	blockedIRI := block.Object().IRI()
	if blockedIRI == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Block' activity")
	}

	if err := h.store.DeleteReference(store.Blocked, block.Actor(), blockedIRI); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("unable to delete 'Blocked' reference: %w", err))
	}

	return nil
}

// validateEmbeddedFollow validates the 'Follow' activity embedded in an 'Accept' or
// 'Reject' activity. A nil activity is returned (with no error) if the local actor
// is not the actor of the embedded 'Follow'.
func validateEmbeddedFollow(activity *vocab.ActivityType, actorIRI *url.URL) (*vocab.ActivityType, error) {
	follow := activity.Object().Activity()
	if follow == nil {
		return nil, pollenerrors.NewBadRequestf(
			"no 'Follow' activity specified in the 'object' field of the '%s' activity", activity.Type())
	}

	if !follow.Type().Is(vocab.TypeFollow) {
		return nil, pollenerrors.NewBadRequestf(
			"the 'object' field of the '%s' activity must be a 'Follow' type", activity.Type())
	}

	if follow.Actor() == nil {
		return nil, pollenerrors.NewBadRequestf(
			"no actor specified in the original 'Follow' activity of the '%s' activity", activity.Type())
	}

	// Make sure that the actor in the original 'Follow' activity is the local actor.
	// If not then we can ignore the message.
	if follow.Actor().String() != actorIRI.String() {
		return nil, nil
	}

	if followTarget := follow.Object().IRI(); followTarget != nil &&
		followTarget.String() != activity.Actor().String() {
		return nil, pollenerrors.NewBadRequestf(
			"the actor of the '%s' activity [%s] is not the target of the original 'Follow' [%s]",
			activity.Type(), activity.Actor(), followTarget)
	}

	return follow, nil
}

func (h *Inbox) storeTombstone(iri *url.URL, formerType vocab.Type) error {
	now := time.Now()

	opts := []vocab.Opt{
		vocab.WithID(iri),
		vocab.WithDeletedTime(&now),
	}

	if formerType != "" {
		opts = append(opts, vocab.WithFormerType(formerType))
	}

	if err := h.store.PutObject(vocab.NewTombstoneObject(opts...)); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store tombstone for object [%s]: %w", iri, err))
	}

	return nil
}

func firstType(t *vocab.TypeProperty) vocab.Type {
	types := t.Types()
	if len(types) == 0 {
		return ""
	}

	return types[0]
}
