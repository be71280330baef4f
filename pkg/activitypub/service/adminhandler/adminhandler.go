/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package adminhandler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/crypto"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

const (
	loggerModule = "activitypub_service"

	mainKeyFragment        = "#main-key"
	collectionsPathSegment = "/collections/"
)

// ErrKeyNotFound indicates that no private key is stored for an actor. It wraps
// store.ErrNotFound so that callers may test for either error.
var ErrKeyNotFound = fmt.Errorf("private key: %w", store.ErrNotFound)

// KeyManager stores the private keys of locally hosted actors. Key material is
// deliberately kept out of the activity store so that actor documents may be
// served without redaction logic at the storage layer.
type KeyManager interface {
	// PutPrivateKey stores the PEM-encoded private key for the given actor.
	PutPrivateKey(actorIRI *url.URL, privateKeyPEM []byte) error
	// PrivateKey returns the PEM-encoded private key for the given actor or an
	// ErrKeyNotFound error.
	PrivateKey(actorIRI *url.URL) ([]byte, error)
	// DeletePrivateKey deletes the private key for the given actor.
	DeletePrivateKey(actorIRI *url.URL) error
}

type collectionManager interface {
	CreateDefinition(def *store.CollectionDefinition) error
	DeleteDefinition(ownerIRI *url.URL, slug string) error
}

// Config holds configuration parameters for the admin activity handler.
type Config struct {
	ServiceName    string
	BaseURL        *url.URL
	SystemActorIRI *url.URL
}

// Handler processes administrative activities that were addressed to the system
// actor. A Create with an embedded Person provisions a local user, Update
// modifies the user's profile, Delete deactivates the user, and Add/Remove
// manage custom collection definitions. Activities from any actor other than
// the system actor are silently ignored.
type Handler struct {
	*Config

	activityStore store.Store
	keyManager    KeyManager
	collections   collectionManager
	logger        *log.Log
}

// New returns a new admin activity handler.
func New(cnfg *Config, s store.Store, keyManager KeyManager, collections collectionManager) *Handler {
	cfg := *cnfg

	return &Handler{
		Config:        &cfg,
		activityStore: s,
		keyManager:    keyManager,
		collections:   collections,
		logger:        log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}
}

// HandleAdminActivity handles the given administrative activity.
func (h *Handler) HandleAdminActivity(_ context.Context, activity *vocab.ActivityType) error {
	if activity.Actor() == nil || activity.Actor().String() != h.SystemActorIRI.String() {
		// Silently ignore so that the sender cannot probe for the admin endpoint.
		h.logger.Warn("Ignoring administrative activity from unauthorized actor",
			logfields.WithActivityID(activity.ID()), logfields.WithActorIRI(activity.Actor()))

		return nil
	}

	typeProp := activity.Type()

	switch {
	case typeProp.Is(vocab.TypeCreate):
		return h.handleCreateActor(activity)
	case typeProp.Is(vocab.TypeUpdate):
		return h.handleUpdateActor(activity)
	case typeProp.Is(vocab.TypeDelete):
		return h.handleDeleteActor(activity)
	case typeProp.Is(vocab.TypeAdd):
		return h.handleAddCollection(activity)
	case typeProp.Is(vocab.TypeRemove):
		return h.handleRemoveCollection(activity)
	default:
		return pollenerrors.NewBadRequestf("unsupported administrative activity type: %s", typeProp.Types())
	}
}

// handleCreateActor provisions a local user: a key pair is generated and an
// actor document with the standard collection endpoints is stored.
func (h *Handler) handleCreateActor(activity *vocab.ActivityType) error {
	obj := activity.Object().Object()
	if obj == nil || obj.ID() == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Create' activity")
	}

	actorIRI := obj.ID().URL()

	username, err := h.localUsername(actorIRI)
	if err != nil {
		return err
	}

	if _, err := h.activityStore.GetActor(actorIRI); err == nil {
		// Idempotent no-op.
		h.logger.Debug("Actor already exists", logfields.WithActorIRI(actorIRI))

		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", actorIRI, err))
	}

	privateKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair for actor [%s]: %w", actorIRI, err)
	}

	publicKeyPem, err := crypto.EncodePublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key for actor [%s]: %w", actorIRI, err)
	}

	privateKeyPem, err := crypto.EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return fmt.Errorf("encode private key for actor [%s]: %w", actorIRI, err)
	}

	actor := h.newLocalActor(actorIRI, username, obj, string(publicKeyPem))

	if err := h.keyManager.PutPrivateKey(actorIRI, privateKeyPem); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store private key for actor [%s]: %w", actorIRI, err))
	}

	if err := h.activityStore.PutActor(actor); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store actor [%s]: %w", actorIRI, err))
	}

	h.logger.Info("Provisioned local actor", logfields.WithActorIRI(actorIRI),
		logfields.WithUsername(username))

	return nil
}

// handleUpdateActor replaces the profile fields of an existing local actor. The
// actor's key pair and collection endpoints are retained.
func (h *Handler) handleUpdateActor(activity *vocab.ActivityType) error {
	obj := activity.Object().Object()
	if obj == nil || obj.ID() == nil {
		return pollenerrors.NewBadRequestf("no object specified in 'Update' activity")
	}

	actorIRI := obj.ID().URL()

	username, err := h.localUsername(actorIRI)
	if err != nil {
		return err
	}

	existing, err := h.activityStore.GetActor(actorIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pollenerrors.NewBadRequestf("actor [%s] does not exist", actorIRI)
		}

		return pollenerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", actorIRI, err))
	}

	var publicKeyPem string

	if existing.PublicKey() != nil {
		publicKeyPem = existing.PublicKey().PublicKeyPem
	}

	actor := h.newLocalActor(actorIRI, username, obj, publicKeyPem)

	if err := h.activityStore.PutActor(actor); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store actor [%s]: %w", actorIRI, err))
	}

	h.logger.Info("Updated local actor", logfields.WithActorIRI(actorIRI))

	return nil
}

// handleDeleteActor deactivates a local user: the actor document, its private
// key and all of its reference edges are removed. The system actor is never
// deletable.
func (h *Handler) handleDeleteActor(activity *vocab.ActivityType) error {
	actorIRI := activity.Object().IRI()
	if actorIRI == nil {
		return pollenerrors.NewBadRequestf("no object IRI specified in 'Delete' activity")
	}

	if actorIRI.String() == h.SystemActorIRI.String() {
		return pollenerrors.NewBadRequestf("the system actor cannot be deleted")
	}

	if _, err := h.localUsername(actorIRI); err != nil {
		return err
	}

	if err := h.activityStore.DeleteActor(actorIRI); err != nil && !errors.Is(err, store.ErrNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("delete actor [%s]: %w", actorIRI, err))
	}

	if err := h.keyManager.DeletePrivateKey(actorIRI); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return pollenerrors.NewTransient(fmt.Errorf("delete private key for actor [%s]: %w", actorIRI, err))
	}

	h.purgeReferences(actorIRI)

	h.logger.Info("Deleted local actor", logfields.WithActorIRI(actorIRI))

	return nil
}

// handleAddCollection creates a manual collection definition for the target
// actor. The collection IRI is taken from the object and the display name from
// the object's name.
func (h *Handler) handleAddCollection(activity *vocab.ActivityType) error {
	ownerIRI, slug, err := h.resolveCollection(activity)
	if err != nil {
		return err
	}

	var displayName string

	if obj := activity.Object().Object(); obj != nil {
		displayName = obj.Name()
	}

	return h.collections.CreateDefinition(&store.CollectionDefinition{
		OwnerIRI:    ownerIRI,
		Slug:        slug,
		DisplayName: displayName,
		Kind:        store.CollectionManual,
		Visibility:  store.VisibilityPublic,
	})
}

func (h *Handler) handleRemoveCollection(activity *vocab.ActivityType) error {
	ownerIRI, slug, err := h.resolveCollection(activity)
	if err != nil {
		return err
	}

	return h.collections.DeleteDefinition(ownerIRI, slug)
}

func (h *Handler) resolveCollection(activity *vocab.ActivityType) (*url.URL, string, error) {
	collIRI := activity.Object().ID()
	if collIRI == nil {
		return nil, "", pollenerrors.NewBadRequestf("no collection IRI specified in '%s' activity",
			activity.Type())
	}

	idx := strings.LastIndex(collIRI.String(), collectionsPathSegment)
	if idx < 0 {
		return nil, "", pollenerrors.NewBadRequestf("[%s] is not a collection IRI", collIRI)
	}

	ownerIRI, err := url.Parse(collIRI.String()[:idx])
	if err != nil {
		return nil, "", pollenerrors.NewBadRequestf("invalid collection IRI [%s]", collIRI)
	}

	if _, err := h.localUsername(ownerIRI); err != nil {
		return nil, "", err
	}

	return ownerIRI, collIRI.String()[idx+len(collectionsPathSegment):], nil
}

// localUsername returns the username of a local actor IRI of the form
// <baseURL>/users/<username>.
func (h *Handler) localUsername(actorIRI *url.URL) (string, error) {
	prefix := h.BaseURL.String() + "/users/"

	if !strings.HasPrefix(actorIRI.String(), prefix) {
		return "", pollenerrors.NewBadRequestf("[%s] is not a local actor IRI", actorIRI)
	}

	username := path.Base(actorIRI.Path)
	if username == "" || strings.Contains(strings.TrimPrefix(actorIRI.String(), prefix), "/") {
		return "", pollenerrors.NewBadRequestf("[%s] is not a local actor IRI", actorIRI)
	}

	return username, nil
}

func (h *Handler) newLocalActor(actorIRI *url.URL, username string, obj *vocab.ObjectType,
	publicKeyPem string) *vocab.ActorType {
	newPath := func(suffix string) *url.URL {
		u := *actorIRI
		u.Path += suffix

		return &u
	}

	keyIRI, err := url.Parse(actorIRI.String() + mainKeyFragment)
	if err != nil {
		// Should never happen since the actor IRI has already been validated.
		panic(err)
	}

	opts := []vocab.Opt{
		vocab.WithPreferredUsername(username),
		vocab.WithInbox(newPath("/inbox")),
		vocab.WithOutbox(newPath("/outbox")),
		vocab.WithFollowers(newPath("/followers")),
		vocab.WithFollowing(newPath("/following")),
		vocab.WithLiked(newPath("/liked")),
		vocab.WithSharedInbox(h.sharedInboxIRI()),
		vocab.WithPublicKey(vocab.NewPublicKey(
			vocab.WithID(keyIRI),
			vocab.WithOwner(actorIRI),
			vocab.WithPublicKeyPem(publicKeyPem),
		)),
	}

	if obj.Name() != "" {
		opts = append(opts, vocab.WithName(obj.Name()))
	}

	if obj.Summary() != "" {
		opts = append(opts, vocab.WithSummary(obj.Summary()))
	}

	return vocab.NewPerson(actorIRI, opts...)
}

func (h *Handler) sharedInboxIRI() *url.URL {
	u := *h.BaseURL
	u.Path += "/inbox"

	return &u
}

// purgeReferences deletes all reference edges owned by the given actor. Errors
// are logged rather than returned since the actor itself is already gone.
func (h *Handler) purgeReferences(actorIRI *url.URL) {
	refTypes := []store.ReferenceType{
		store.Follower, store.Following, store.Inbox, store.Outbox,
		store.PublicOutbox, store.Liked, store.Blocked,
	}

	for _, refType := range refTypes {
		refs, err := h.queryReferences(refType, actorIRI)
		if err != nil {
			h.logger.Error("Error querying references for deleted actor",
				logfields.WithActorIRI(actorIRI), logfields.WithReferenceType(string(refType)),
				log.WithError(err))

			continue
		}

		for _, ref := range refs {
			if err := h.activityStore.DeleteReference(refType, actorIRI, ref); err != nil {
				h.logger.Error("Error deleting reference for deleted actor",
					logfields.WithActorIRI(actorIRI), logfields.WithReferenceType(string(refType)),
					log.WithError(err))
			}
		}
	}
}

func (h *Handler) queryReferences(refType store.ReferenceType, actorIRI *url.URL) ([]*url.URL, error) {
	it, err := h.activityStore.QueryReferences(refType, store.NewCriteria(store.WithObjectIRI(actorIRI)))
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	var refs []*url.URL

	for {
		ref, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return refs, nil
			}

			return nil, err
		}

		refs = append(refs, ref)
	}
}

// MemKeyManager is an in-memory key manager for single-instance deployments
// and tests.
type MemKeyManager struct {
	mutex sync.RWMutex
	keys  map[string][]byte
}

// NewMemKeyManager returns a new in-memory key manager.
func NewMemKeyManager() *MemKeyManager {
	return &MemKeyManager{keys: make(map[string][]byte)}
}

// PutPrivateKey stores the PEM-encoded private key for the given actor.
func (m *MemKeyManager) PutPrivateKey(actorIRI *url.URL, privateKeyPEM []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.keys[actorIRI.String()] = privateKeyPEM

	return nil
}

// PrivateKey returns the PEM-encoded private key for the given actor or an
// ErrKeyNotFound error.
func (m *MemKeyManager) PrivateKey(actorIRI *url.URL) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	key, ok := m.keys[actorIRI.String()]
	if !ok {
		return nil, ErrKeyNotFound
	}

	return key, nil
}

// DeletePrivateKey deletes the private key for the given actor.
func (m *MemKeyManager) DeletePrivateKey(actorIRI *url.URL) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.keys[actorIRI.String()]; !ok {
		return ErrKeyNotFound
	}

	delete(m.keys, actorIRI.String())

	return nil
}
