/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sharedinbox

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

var (
	baseURL    = vocab.MustParseURL("https://pollen1.example.com")
	aliceIRI   = vocab.MustParseURL("https://pollen1.example.com/users/alice")
	bobIRI     = vocab.MustParseURL("https://pollen1.example.com/users/bob")
	charlieIRI = vocab.MustParseURL("https://pollen1.example.com/users/charlie")
	remoteIRI  = vocab.MustParseURL("https://pollen2.example.com/users/dave")
	publicIRI  = vocab.MustParseURL(vocab.PublicIRI)
)

func TestRouter_Route(t *testing.T) {
	t.Run("Fan-out to directly addressed local actors", func(t *testing.T) {
		s := newStore(t)

		dispatcher := &mockDispatcher{}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(aliceIRI, bobIRI, charlieIRI))
		require.NoError(t, err)
		require.Len(t, recipients, 3)

		require.Equal(t, []string{aliceIRI.String(), bobIRI.String(), charlieIRI.String()},
			dispatcher.Recipients())
	})

	t.Run("Unknown and remote recipients are ignored", func(t *testing.T) {
		s := newStore(t)

		dispatcher := &mockDispatcher{}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(aliceIRI, remoteIRI,
			vocab.MustParseURL("https://pollen1.example.com/users/nobody")))
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		require.Equal(t, aliceIRI.String(), recipients[0].String())
	})

	t.Run("Duplicate recipients are dispatched once", func(t *testing.T) {
		s := newStore(t)

		dispatcher := &mockDispatcher{}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(aliceIRI, aliceIRI, bobIRI))
		require.NoError(t, err)
		require.Len(t, recipients, 2)
	})

	t.Run("Local followers collection is expanded", func(t *testing.T) {
		s := newStore(t)

		// Bob and a remote actor follow Alice. Only Bob is a deliverable recipient.
		require.NoError(t, s.AddReference(store.Follower, aliceIRI, bobIRI))
		require.NoError(t, s.AddReference(store.Follower, aliceIRI, remoteIRI))

		dispatcher := &mockDispatcher{}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(
			vocab.MustParseURL(aliceIRI.String() + "/followers")))
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		require.Equal(t, bobIRI.String(), recipients[0].String())
	})

	t.Run("Public resolves to local followers of the sender", func(t *testing.T) {
		s := newStore(t)

		// Alice and Bob follow the remote sender; Charlie does not.
		require.NoError(t, s.AddReference(store.Following, aliceIRI, remoteIRI))
		require.NoError(t, s.AddReference(store.Following, bobIRI, remoteIRI))

		dispatcher := &mockDispatcher{}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(publicIRI))
		require.NoError(t, err)
		require.Len(t, recipients, 2)

		require.Equal(t, []string{aliceIRI.String(), bobIRI.String()}, dispatcher.Recipients())
	})

	t.Run("Dispatch error does not abort the other recipients", func(t *testing.T) {
		s := newStore(t)

		dispatcher := &mockDispatcher{failFor: aliceIRI.String()}

		r := New(newConfig(), s, dispatcher)

		recipients, err := r.Route(newCreateActivity(aliceIRI, bobIRI))
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		require.Equal(t, bobIRI.String(), recipients[0].String())
	})

	t.Run("No recipients -> empty result", func(t *testing.T) {
		s := newStore(t)

		r := New(newConfig(), s, &mockDispatcher{})

		recipients, err := r.Route(newCreateActivity(remoteIRI))
		require.NoError(t, err)
		require.Empty(t, recipients)
	})

	t.Run("No activity -> bad request", func(t *testing.T) {
		r := New(newConfig(), newStore(t), &mockDispatcher{})

		_, err := r.Route(nil)
		require.Error(t, err)
		require.True(t, pollenerrors.IsBadRequest(err))
	})
}

func newStore(t *testing.T) store.Store {
	t.Helper()

	s := memstore.New("sharedinbox1")

	for _, iri := range []*url.URL{aliceIRI, bobIRI, charlieIRI} {
		require.NoError(t, s.PutActor(vocab.NewPerson(iri)))
	}

	return s
}

func newConfig() *Config {
	return &Config{
		ServiceName: "sharedinbox1",
		BaseURL:     baseURL,
	}
}

func newCreateActivity(to ...*url.URL) *vocab.ActivityType {
	return vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(vocab.NewObject(
			vocab.WithID(vocab.MustParseURL("https://pollen2.example.com/objects/note-9")),
			vocab.WithType(vocab.TypeNote),
			vocab.WithAttributedTo(remoteIRI),
		))),
		vocab.WithID(vocab.MustParseURL("https://pollen2.example.com/activities/create-9")),
		vocab.WithActor(remoteIRI),
		vocab.WithTo(to...),
	)
}

type mockDispatcher struct {
	recipients []*url.URL
	failFor    string
}

func (m *mockDispatcher) Dispatch(actorIRI *url.URL, _ *vocab.ActivityType) error {
	if actorIRI.String() == m.failFor {
		return fmt.Errorf("injected dispatch error")
	}

	m.recipients = append(m.recipients, actorIRI)

	return nil
}

func (m *mockDispatcher) Recipients() []string {
	var recipients []string

	for _, iri := range m.recipients {
		recipients = append(recipients, iri.String())
	}

	return recipients
}
