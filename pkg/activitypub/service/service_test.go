/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	"github.com/pollenhq/pollen/pkg/pubsub/mempubsub"
)

var (
	baseURL  = vocab.MustParseURL("https://pollen1.example.com")
	aliceIRI = vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI   = vocab.MustParseURL("https://pollen2.example.org/users/bob")
)

func TestService(t *testing.T) {
	s := memstore.New("service1")

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI)))

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	svc, err := New(
		&Config{
			ServiceName:    "service1",
			BaseURL:        baseURL,
			SystemActorIRI: vocab.MustParseURL("https://pollen1.example.com/actor"),
		},
		s, ps, &mockActorClient{}, &mockMetrics{},
	)
	require.NoError(t, err)
	require.NotNil(t, svc)

	require.NotNil(t, svc.Outbox())
	require.NotNil(t, svc.InboxDispatcher())
	require.NotNil(t, svc.SharedInboxRouter())

	activityChan := svc.Subscribe()
	require.NotNil(t, activityChan)

	svc.Start()
	defer svc.Stop()

	require.Equal(t, lifecycle.StateStarted, svc.State())

	t.Run("Post to outbox", func(t *testing.T) {
		activityID, err := svc.Outbox().Post(context.Background(), vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithObject(vocab.NewObject(
				vocab.WithType(vocab.TypeNote),
				vocab.WithContent("A note"),
			))),
			vocab.WithActor(aliceIRI),
			vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)),
		))
		require.NoError(t, err)
		require.NotNil(t, activityID)

		time.Sleep(100 * time.Millisecond)

		it, err := s.QueryReferences(spi.Outbox, spi.NewCriteria(spi.WithObjectIRI(aliceIRI)))
		require.NoError(t, err)

		total, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, total)
	})

	t.Run("Dispatch to inbox", func(t *testing.T) {
		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(newActivityID(bobIRI)),
			vocab.WithActor(bobIRI),
			vocab.WithTo(aliceIRI),
		)

		require.NoError(t, svc.InboxDispatcher().Dispatch(aliceIRI, follow))

		select {
		case activity := <-activityChan:
			require.Equal(t, follow.ID().String(), activity.ID().String())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for activity")
		}
	})
}

func newActivityID(actorIRI *url.URL) *url.URL {
	return vocab.MustParseURL(actorIRI.String() + "/activities/" + time.Now().Format("150405.000000"))
}

type mockActorClient struct{}

func (m *mockActorClient) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	return vocab.NewPerson(iri, vocab.WithInbox(vocab.MustParseURL(iri.String()+"/inbox"))), nil
}

type mockMetrics struct{}

func (m *mockMetrics) OutboxPostTime(time.Duration) {}

func (m *mockMetrics) OutboxResolveInboxesTime(time.Duration) {}

func (m *mockMetrics) OutboxIncrementActivityCount(string) {}
