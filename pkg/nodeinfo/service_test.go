/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

func TestService(t *testing.T) {
	s := memstore.New("nodeinfo-test")

	aliceIRI := vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI := vocab.MustParseURL("https://pollen1.example.com/users/bob")

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI)))
	require.NoError(t, s.PutActor(vocab.NewPerson(bobIRI)))

	addOutboxActivity(t, s, aliceIRI, vocab.TypeCreate, 3)
	addOutboxActivity(t, s, aliceIRI, vocab.TypeLike, 2)
	addOutboxActivity(t, s, bobIRI, vocab.TypeCreate, 1)
	addOutboxActivity(t, s, bobIRI, vocab.TypeAnnounce, 1)

	service := NewService(50*time.Millisecond, s)
	require.NotNil(t, service)

	service.Start()
	defer service.Stop()

	time.Sleep(100 * time.Millisecond)

	t.Run("Version 2.0", func(t *testing.T) {
		nodeInfo := service.GetNodeInfo(V2_0)
		require.NotNil(t, nodeInfo)

		require.Equal(t, V2_0, nodeInfo.Version)
		require.Equal(t, "Pollen", nodeInfo.Software.Name)
		require.Empty(t, nodeInfo.Software.Repository)
		require.Equal(t, []string{activityPubProtocol}, nodeInfo.Protocols)
		require.False(t, nodeInfo.OpenRegistrations)
		require.Equal(t, 2, nodeInfo.Usage.Users.Total)
		require.Equal(t, 4, nodeInfo.Usage.LocalPosts)
		require.Equal(t, 2, nodeInfo.Usage.LocalComments)
	})

	t.Run("Version 2.1", func(t *testing.T) {
		nodeInfo := service.GetNodeInfo(V2_1)
		require.NotNil(t, nodeInfo)

		require.Equal(t, V2_1, nodeInfo.Version)
		require.Equal(t, pollenRepository, nodeInfo.Software.Repository)
	})
}

var activitySeq int

func addOutboxActivity(t *testing.T, s spi.Store, actorIRI *url.URL, activityType vocab.Type, num int) {
	t.Helper()

	for i := 0; i < num; i++ {
		activitySeq++

		id := vocab.MustParseURL(fmt.Sprintf("%s/activities/%d", actorIRI, activitySeq))

		var activity *vocab.ActivityType

		switch activityType {
		case vocab.TypeCreate:
			activity = vocab.NewCreateActivity(nil, vocab.WithID(id), vocab.WithActor(actorIRI))
		case vocab.TypeLike:
			activity = vocab.NewLikeActivity(nil, vocab.WithID(id), vocab.WithActor(actorIRI))
		default:
			activity = vocab.NewAnnounceActivity(nil, vocab.WithID(id), vocab.WithActor(actorIRI))
		}

		require.NoError(t, s.AddActivity(activity))
		require.NoError(t, s.AddReference(spi.Outbox, actorIRI, id))
	}
}
