/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package adminhandler

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

var (
	baseURL  = vocab.MustParseURL("https://pollen1.example.com")
	sysActor = vocab.MustParseURL("https://pollen1.example.com/actor")
	aliceIRI = vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI   = vocab.MustParseURL("https://pollen2.example.com/users/bob")
)

func TestHandler_CreateActor(t *testing.T) {
	s := memstore.New("admin1")
	km := NewMemKeyManager()

	h := New(newConfig(), s, km, &mockCollectionManager{})

	t.Run("Provision user", func(t *testing.T) {
		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(
					vocab.WithID(aliceIRI),
					vocab.WithType(vocab.TypePerson),
					vocab.WithName("Alice"),
					vocab.WithSummary("Gardener"),
				))))))

		actor, err := s.GetActor(aliceIRI)
		require.NoError(t, err)
		require.Equal(t, "alice", actor.PreferredUsername())
		require.Equal(t, "Alice", actor.Name())
		require.Equal(t, aliceIRI.String()+"/inbox", actor.Inbox().String())
		require.Equal(t, aliceIRI.String()+"/followers", actor.Followers().String())
		require.Equal(t, baseURL.String()+"/inbox", actor.SharedInbox().String())

		require.NotNil(t, actor.PublicKey())
		require.Equal(t, aliceIRI.String()+"#main-key", actor.PublicKey().ID.String())

		// The stored key pair is usable.
		privateKeyPem, err := km.PrivateKey(aliceIRI)
		require.NoError(t, err)

		privateKey, err := crypto.ParsePrivateKeyPEM(privateKeyPem)
		require.NoError(t, err)

		publicKey, err := crypto.ParsePublicKeyPEM([]byte(actor.PublicKey().PublicKeyPem))
		require.NoError(t, err)
		require.Equal(t, privateKey.PublicKey.N, publicKey.N)
	})

	t.Run("Duplicate create is idempotent", func(t *testing.T) {
		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(vocab.WithID(aliceIRI), vocab.WithType(vocab.TypePerson)))))))

		actor, err := s.GetActor(aliceIRI)
		require.NoError(t, err)
		require.Equal(t, "Alice", actor.Name())
	})

	t.Run("Non-local actor -> bad request", func(t *testing.T) {
		err := h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(vocab.WithID(bobIRI), vocab.WithType(vocab.TypePerson))))))
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})

	t.Run("No object -> bad request", func(t *testing.T) {
		err := h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty()))
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func TestHandler_UpdateActor(t *testing.T) {
	s := memstore.New("admin1")
	km := NewMemKeyManager()

	h := New(newConfig(), s, km, &mockCollectionManager{})

	require.NoError(t, h.HandleAdminActivity(context.Background(),
		newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty(vocab.WithObject(
			vocab.NewObject(vocab.WithID(aliceIRI), vocab.WithType(vocab.TypePerson),
				vocab.WithName("Alice")))))))

	t.Run("Profile update retains key", func(t *testing.T) {
		before, err := s.GetActor(aliceIRI)
		require.NoError(t, err)

		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewUpdateActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(vocab.WithID(aliceIRI), vocab.WithType(vocab.TypePerson),
					vocab.WithName("Alice G."), vocab.WithSummary("Beekeeper")))))))

		actor, err := s.GetActor(aliceIRI)
		require.NoError(t, err)
		require.Equal(t, "Alice G.", actor.Name())
		require.Equal(t, "Beekeeper", actor.Summary())
		require.Equal(t, before.PublicKey().PublicKeyPem, actor.PublicKey().PublicKeyPem)
	})

	t.Run("Unknown actor -> bad request", func(t *testing.T) {
		err := h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewUpdateActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(vocab.WithID(vocab.MustParseURL(baseURL.String()+"/users/nobody")),
					vocab.WithType(vocab.TypePerson))))))
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func TestHandler_DeleteActor(t *testing.T) {
	s := memstore.New("admin1")
	km := NewMemKeyManager()

	h := New(newConfig(), s, km, &mockCollectionManager{})

	require.NoError(t, h.HandleAdminActivity(context.Background(),
		newAdminActivity(vocab.NewCreateActivity, vocab.NewObjectProperty(vocab.WithObject(
			vocab.NewObject(vocab.WithID(aliceIRI), vocab.WithType(vocab.TypePerson)))))))

	require.NoError(t, s.AddReference(store.Follower, aliceIRI, bobIRI))
	require.NoError(t, s.AddReference(store.Following, aliceIRI, bobIRI))

	t.Run("Delete purges actor, key and edges", func(t *testing.T) {
		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewDeleteActivity,
				vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)))))

		_, err := s.GetActor(aliceIRI)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = km.PrivateKey(aliceIRI)
		require.ErrorIs(t, err, ErrKeyNotFound)

		it, err := s.QueryReferences(store.Follower, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Zero(t, totalItems)
		require.NoError(t, it.Close())
	})

	t.Run("System actor is never deletable", func(t *testing.T) {
		err := h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewDeleteActivity,
				vocab.NewObjectProperty(vocab.WithIRI(sysActor))))
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func TestHandler_Collections(t *testing.T) {
	s := memstore.New("admin1")

	collections := &mockCollectionManager{}

	h := New(newConfig(), s, NewMemKeyManager(), collections)

	collIRI := vocab.MustParseURL(aliceIRI.String() + "/collections/reading-list")

	t.Run("Add creates a manual definition", func(t *testing.T) {
		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewAddActivity, vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(vocab.WithID(collIRI), vocab.WithName("Reading List")))))))

		require.Len(t, collections.created, 1)
		require.Equal(t, "reading-list", collections.created[0].Slug)
		require.Equal(t, "Reading List", collections.created[0].DisplayName)
		require.Equal(t, store.CollectionManual, collections.created[0].Kind)
		require.Equal(t, aliceIRI.String(), collections.created[0].OwnerIRI.String())
	})

	t.Run("Remove deletes the definition", func(t *testing.T) {
		require.NoError(t, h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewRemoveActivity,
				vocab.NewObjectProperty(vocab.WithIRI(collIRI)))))

		require.Equal(t, []string{"reading-list"}, collections.deleted)
	})

	t.Run("Not a collection IRI -> bad request", func(t *testing.T) {
		err := h.HandleAdminActivity(context.Background(),
			newAdminActivity(vocab.NewAddActivity,
				vocab.NewObjectProperty(vocab.WithIRI(aliceIRI))))
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func TestHandler_Unauthorized(t *testing.T) {
	s := memstore.New("admin1")

	h := New(newConfig(), s, NewMemKeyManager(), &mockCollectionManager{})

	// The activity is silently ignored since its actor is not the system actor.
	activity := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			vocab.NewObject(vocab.WithID(aliceIRI), vocab.WithType(vocab.TypePerson)))),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleAdminActivity(context.Background(), activity))

	_, err := s.GetActor(aliceIRI)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandler_UnsupportedType(t *testing.T) {
	h := New(newConfig(), memstore.New("admin1"), NewMemKeyManager(), &mockCollectionManager{})

	err := h.HandleAdminActivity(context.Background(),
		newAdminActivity(vocab.NewLikeActivity, vocab.NewObjectProperty(vocab.WithIRI(aliceIRI))))
	require.Error(t, err)
	require.True(t, pollenerrors.IsBadRequest(err))
}

func newConfig() *Config {
	return &Config{
		ServiceName:    "admin1",
		BaseURL:        baseURL,
		SystemActorIRI: sysActor,
	}
}

func newAdminActivity(newActivity func(*vocab.ObjectProperty, ...vocab.Opt) *vocab.ActivityType,
	obj *vocab.ObjectProperty) *vocab.ActivityType {
	return newActivity(obj, vocab.WithActor(sysActor))
}

type mockCollectionManager struct {
	created []*store.CollectionDefinition
	deleted []string
}

func (m *mockCollectionManager) CreateDefinition(def *store.CollectionDefinition) error {
	m.created = append(m.created, def)

	return nil
}

func (m *mockCollectionManager) DeleteDefinition(_ *url.URL, slug string) error {
	m.deleted = append(m.deleted, slug)

	return nil
}
