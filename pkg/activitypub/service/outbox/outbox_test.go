/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	"github.com/pollenhq/pollen/pkg/pubsub/mempubsub"
)

var (
	baseURL   = vocab.MustParseURL("https://pollen1.example.com")
	aliceIRI  = vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI    = vocab.MustParseURL("https://pollen2.example.com/users/bob")
	carolIRI  = vocab.MustParseURL("https://pollen3.example.com/users/carol")
	publicIRI = vocab.MustParseURL(vocab.PublicIRI)
)

func TestNew(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	ob, err := New(newConfig(), memstore.New("outbox1"), ps, &mockActivityHandler{},
		newMockActorClient(), &mockMetrics{})
	require.NoError(t, err)
	require.NotNil(t, ob)
	require.Equal(t, lifecycle.StateNotStarted, ob.State())
}

func TestOutbox_Post(t *testing.T) {
	s := memstore.New("outbox1")

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI,
		vocab.WithInbox(vocab.MustParseURL("https://pollen1.example.com/users/alice/inbox")))))

	// Carol follows Alice.
	require.NoError(t, s.AddReference(store.Follower, aliceIRI, carolIRI))

	bobInbox := vocab.MustParseURL("https://pollen2.example.com/users/bob/inbox")
	carolInbox := vocab.MustParseURL("https://pollen3.example.com/users/carol/inbox")

	client := newMockActorClient(
		vocab.NewPerson(bobIRI, vocab.WithInbox(bobInbox)),
		vocab.NewPerson(carolIRI,
			vocab.WithInbox(carolInbox),
			vocab.WithSharedInbox(vocab.MustParseURL("https://pollen3.example.com/inbox"))),
	)

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	activityHandler := &mockActivityHandler{}

	ob, err := New(newConfig(), s, ps, activityHandler, client, &mockMetrics{})
	require.NoError(t, err)

	ob.Start()
	defer ob.Stop()

	followersIRI := vocab.MustParseURL(aliceIRI.String() + "/followers")

	activity := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(vocab.NewObject(
			vocab.WithID(vocab.MustParseURL("https://pollen1.example.com/objects/note-1")),
			vocab.WithType(vocab.TypeNote),
			vocab.WithAttributedTo(aliceIRI),
			vocab.WithContent("Hello"),
		))),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(bobIRI, followersIRI, publicIRI),
	)

	activityID, err := ob.Post(context.Background(), activity)
	require.NoError(t, err)
	require.NotNil(t, activityID)
	require.True(t, strings.HasPrefix(activityID.String(), baseURL.String()+"/activities/create-"))
	require.NotNil(t, activity.Published())

	require.Eventually(t, func() bool {
		items, err := s.QueryDeliveryItems(store.DeliveryPending, time.Now())
		require.NoError(t, err)

		return len(items) == 2
	}, time.Second, 10*time.Millisecond)

	items, err := s.QueryDeliveryItems(store.DeliveryPending, time.Now())
	require.NoError(t, err)

	inboxes := make(map[string]struct{})

	for _, item := range items {
		require.Equal(t, activityID.String(), item.ActivityIRI.String())
		require.NotEmpty(t, item.Payload)

		inboxes[item.TargetInbox.String()] = struct{}{}
	}

	// Carol is the only recipient behind her server's shared inbox, so the
	// delivery targets her personal inbox.
	require.Contains(t, inboxes, bobInbox.String())
	require.Contains(t, inboxes, carolInbox.String())

	// The activity was stored and referenced in the actor's outbox.
	_, err = s.GetActivity(activityID)
	require.NoError(t, err)

	checkReference(t, s, store.Outbox, aliceIRI, activityID)
	checkReference(t, s, store.PublicOutbox, aliceIRI, activityID)

	// Local side effects were applied.
	require.Eventually(t, func() bool {
		return len(activityHandler.Activities()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOutbox_PostToSharedInbox(t *testing.T) {
	s := memstore.New("outbox1")

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI,
		vocab.WithInbox(vocab.MustParseURL("https://pollen1.example.com/users/alice/inbox")))))

	daveIRI := vocab.MustParseURL("https://pollen3.example.com/users/dave")
	erinIRI := vocab.MustParseURL("https://pollen3.example.com/users/erin")
	sharedInbox := vocab.MustParseURL("https://pollen3.example.com/inbox")

	client := newMockActorClient(
		vocab.NewPerson(daveIRI,
			vocab.WithInbox(vocab.MustParseURL("https://pollen3.example.com/users/dave/inbox")),
			vocab.WithSharedInbox(sharedInbox)),
		vocab.NewPerson(erinIRI,
			vocab.WithInbox(vocab.MustParseURL("https://pollen3.example.com/users/erin/inbox")),
			vocab.WithSharedInbox(sharedInbox)),
	)

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	ob, err := New(newConfig(), s, ps, &mockActivityHandler{}, client, &mockMetrics{})
	require.NoError(t, err)

	ob.Start()
	defer ob.Stop()

	activity := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://pollen1.example.com/objects/note-2"))),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(daveIRI, erinIRI),
	)

	_, err = ob.Post(context.Background(), activity)
	require.NoError(t, err)

	// Both recipients are behind the same shared inbox, so a single delivery
	// targeting that endpoint is queued.
	require.Eventually(t, func() bool {
		items, err := s.QueryDeliveryItems(store.DeliveryPending, time.Now())
		require.NoError(t, err)

		return len(items) == 1
	}, time.Second, 10*time.Millisecond)

	items, err := s.QueryDeliveryItems(store.DeliveryPending, time.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, sharedInbox.String(), items[0].TargetInbox.String())
}

func TestOutbox_PostError(t *testing.T) {
	s := memstore.New("outbox1")

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI)))

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	ob, err := New(newConfig(), s, ps, &mockActivityHandler{}, newMockActorClient(), &mockMetrics{})
	require.NoError(t, err)

	activity := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://pollen2.example.com/objects/note-9"))),
		vocab.WithActor(aliceIRI),
	)

	t.Run("Not started -> error", func(t *testing.T) {
		_, err := ob.Post(context.Background(), activity)
		require.ErrorIs(t, err, lifecycle.ErrNotStarted)
	})

	ob.Start()
	defer ob.Stop()

	t.Run("No actor -> bad request", func(t *testing.T) {
		anonymous := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://pollen2.example.com/objects/note-9"))),
		)

		_, err := ob.Post(context.Background(), anonymous)
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})

	t.Run("Non-local actor -> bad request", func(t *testing.T) {
		remote := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://pollen2.example.com/objects/note-9"))),
			vocab.WithActor(bobIRI),
		)

		_, err := ob.Post(context.Background(), remote)
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func TestOutbox_ExpandRecipients(t *testing.T) {
	s := memstore.New("outbox1")

	require.NoError(t, s.AddReference(store.Follower, aliceIRI, bobIRI))
	require.NoError(t, s.AddReference(store.Follower, aliceIRI, carolIRI))

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	ob, err := New(newConfig(), s, ps, &mockActivityHandler{}, newMockActorClient(), &mockMetrics{})
	require.NoError(t, err)

	followersIRI := vocab.MustParseURL(aliceIRI.String() + "/followers")

	recipients, err := ob.expandRecipients(aliceIRI,
		[]*url.URL{bobIRI, followersIRI, publicIRI, aliceIRI, bobIRI})
	require.NoError(t, err)

	// Bob appears once, the followers collection contributes Carol, and the
	// public IRI and Alice herself are dropped.
	require.Len(t, recipients, 2)
	require.Equal(t, bobIRI.String(), recipients[0].String())
	require.Equal(t, carolIRI.String(), recipients[1].String())
}

func checkReference(t *testing.T, s store.Store, refType store.ReferenceType, ownerIRI, refIRI *url.URL) {
	t.Helper()

	it, err := s.QueryReferences(refType, store.NewCriteria(
		store.WithObjectIRI(ownerIRI),
		store.WithReferenceIRI(refIRI),
	))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, it.Close())
	}()

	totalItems, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, 1, totalItems)
}

func newConfig() *Config {
	return &Config{
		ServiceName: "outbox1",
		BaseURL:     baseURL,
		Topic:       "outbox-activities",
	}
}

type mockActivityHandler struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
}

func (m *mockActivityHandler) Start() {}

func (m *mockActivityHandler) Stop() {}

func (m *mockActivityHandler) State() lifecycle.State { return lifecycle.StateStarted }

func (m *mockActivityHandler) HandleActivity(_ context.Context, _ *url.URL, activity *vocab.ActivityType) error {
	m.mutex.Lock()
	m.activities = append(m.activities, activity)
	m.mutex.Unlock()

	return nil
}

func (m *mockActivityHandler) Subscribe() <-chan *vocab.ActivityType {
	return make(chan *vocab.ActivityType)
}

func (m *mockActivityHandler) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.activities
}

type mockActorClient struct {
	actors map[string]*vocab.ActorType
}

func newMockActorClient(actors ...*vocab.ActorType) *mockActorClient {
	m := &mockActorClient{actors: make(map[string]*vocab.ActorType)}

	for _, actor := range actors {
		m.actors[actor.ID().String()] = actor
	}

	return m
}

func (m *mockActorClient) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	actor, ok := m.actors[iri.String()]
	if !ok {
		return nil, fmt.Errorf("actor not found: %s", iri)
	}

	return actor, nil
}

type mockMetrics struct{}

func (m *mockMetrics) OutboxPostTime(time.Duration) {}

func (m *mockMetrics) OutboxResolveInboxesTime(time.Duration) {}

func (m *mockMetrics) OutboxIncrementActivityCount(string) {}

var _ pubSub = (*mempubsub.PubSub)(nil)

var _ service.ActivityHandler = (*mockActivityHandler)(nil)
