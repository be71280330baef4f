/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	"github.com/pollenhq/pollen/pkg/pubsub/mempubsub"
	"github.com/pollenhq/pollen/pkg/pubsub/spi"
)

var (
	aliceIRI = vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI   = vocab.MustParseURL("https://pollen2.example.com/users/bob")
)

func TestNew(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	ib, err := New(newConfig(), ps, &mockActivityHandler{})
	require.NoError(t, err)
	require.NotNil(t, ib)
	require.Equal(t, lifecycle.StateNotStarted, ib.State())
}

func TestInbox_Dispatch(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	activityHandler := &mockActivityHandler{}

	ib, err := New(newConfig(), ps, activityHandler)
	require.NoError(t, err)

	activity := newLikeActivity()

	t.Run("Not started -> error", func(t *testing.T) {
		require.ErrorIs(t, ib.Dispatch(aliceIRI, activity), lifecycle.ErrNotStarted)
	})

	ib.Start()
	defer ib.Stop()

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, ib.Dispatch(aliceIRI, activity))

		require.Eventually(t, func() bool {
			handled := activityHandler.Handled()

			return len(handled) == 1
		}, time.Second, 10*time.Millisecond)

		handled := activityHandler.Handled()
		require.Equal(t, aliceIRI.String(), handled[0].actorIRI.String())
		require.Equal(t, activity.ID().String(), handled[0].activity.ID().String())
	})
}

func TestInbox_HandleError(t *testing.T) {
	t.Run("Persistent handler error -> message ignored", func(t *testing.T) {
		ps := mempubsub.New(mempubsub.DefaultConfig())
		defer func() {
			require.NoError(t, ps.Close())
		}()

		activityHandler := &mockActivityHandler{err: pollenerrors.NewBadRequestf("unsupported activity")}

		ib, err := New(newConfig(), ps, activityHandler)
		require.NoError(t, err)

		undeliverableChan, err := ps.Subscribe(context.Background(), spi.UndeliverableTopic)
		require.NoError(t, err)

		ib.Start()
		defer ib.Stop()

		require.NoError(t, ib.Dispatch(aliceIRI, newLikeActivity()))

		require.Eventually(t, func() bool {
			return len(activityHandler.Handled()) == 1
		}, time.Second, 10*time.Millisecond)

		// The message was acked, so it does not end up on the undeliverable queue.
		select {
		case <-undeliverableChan:
			t.Fatal("message should not have been posted to the undeliverable queue")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Transient handler error -> message undeliverable", func(t *testing.T) {
		ps := mempubsub.New(mempubsub.DefaultConfig())
		defer func() {
			require.NoError(t, ps.Close())
		}()

		activityHandler := &mockActivityHandler{err: pollenerrors.NewTransientf("database unavailable")}

		ib, err := New(newConfig(), ps, activityHandler)
		require.NoError(t, err)

		undeliverableChan, err := ps.Subscribe(context.Background(), spi.UndeliverableTopic)
		require.NoError(t, err)

		ib.Start()
		defer ib.Stop()

		require.NoError(t, ib.Dispatch(aliceIRI, newLikeActivity()))

		select {
		case msg := <-undeliverableChan:
			require.NotNil(t, msg)
		case <-time.After(3 * time.Second):
			t.Fatal("expected the message to be posted to the undeliverable queue")
		}
	})
}

func newConfig() *Config {
	return &Config{
		ServiceName: "inbox1",
		Topic:       "inbox-activities",
	}
}

func newLikeActivity() *vocab.ActivityType {
	return vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://pollen1.example.com/objects/note-1"))),
		vocab.WithID(vocab.MustParseURL("https://pollen2.example.com/activities/like-1")),
		vocab.WithActor(bobIRI),
	)
}

type handledActivity struct {
	actorIRI *url.URL
	activity *vocab.ActivityType
}

type mockActivityHandler struct {
	mutex   sync.Mutex
	handled []*handledActivity
	err     error
}

func (m *mockActivityHandler) Start() {}

func (m *mockActivityHandler) Stop() {}

func (m *mockActivityHandler) State() lifecycle.State { return lifecycle.StateStarted }

func (m *mockActivityHandler) HandleActivity(_ context.Context, actorIRI *url.URL,
	activity *vocab.ActivityType) error {
	m.mutex.Lock()
	m.handled = append(m.handled, &handledActivity{actorIRI: actorIRI, activity: activity})
	m.mutex.Unlock()

	return m.err
}

func (m *mockActivityHandler) Subscribe() <-chan *vocab.ActivityType {
	return make(chan *vocab.ActivityType)
}

func (m *mockActivityHandler) Handled() []*handledActivity {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.handled
}

var _ service.ActivityHandler = (*mockActivityHandler)(nil)
