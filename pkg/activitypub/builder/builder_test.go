/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

var (
	alice = vocab.MustParseURL("https://a.example.com/users/alice")
	bob   = vocab.MustParseURL("https://b.example.com/users/bob")
	note  = vocab.MustParseURL("https://b.example.com/objects/note-1")
)

func TestBuilder_Follow(t *testing.T) {
	b := New(alice)

	follow := b.Follow(bob)

	require.True(t, follow.Type().Is(vocab.TypeFollow))
	require.Equal(t, alice.String(), follow.Actor().String())
	require.Equal(t, bob.String(), follow.Object().IRI().String())
	require.True(t, follow.To().Contains(bob))
}

func TestBuilder_AcceptReject(t *testing.T) {
	b := New(bob)

	follow := New(alice).Follow(bob)

	accept := b.Accept(follow)
	require.True(t, accept.Type().Is(vocab.TypeAccept))
	require.Equal(t, bob.String(), accept.Actor().String())
	require.NotNil(t, accept.Object().Activity())
	require.True(t, accept.Object().Activity().Type().Is(vocab.TypeFollow))
	require.True(t, accept.To().Contains(alice))

	reject := b.Reject(follow)
	require.True(t, reject.Type().Is(vocab.TypeReject))
	require.True(t, reject.To().Contains(alice))

	tentative := b.TentativeAccept(follow)
	require.True(t, tentative.Type().Is(vocab.TypeTentativeAccept))
}

func TestBuilder_CreateFromNote(t *testing.T) {
	b := New(alice)

	obj, err := NewNote(alice).
		Content("Hello, world!").
		Public().
		CC(bob).
		Build()
	require.NoError(t, err)

	create := b.Create(obj)

	require.True(t, create.Type().Is(vocab.TypeCreate))
	require.Equal(t, alice.String(), create.Actor().String())
	require.True(t, create.To().Contains(vocab.MustParseURL(vocab.PublicIRI)))
	require.True(t, create.CC().Contains(bob))
	require.True(t, create.Object().Object().Type().Is(vocab.TypeNote))
}

func TestBuilder_DeleteWithTombstone(t *testing.T) {
	b := New(alice)

	del := b.Delete(note, vocab.TypeNote)

	require.True(t, del.Type().Is(vocab.TypeDelete))

	tombstone := del.Object().Object()
	require.NotNil(t, tombstone)
	require.True(t, tombstone.Type().Is(vocab.TypeTombstone))
	require.Equal(t, note.String(), tombstone.ID().String())
	require.Equal(t, string(vocab.TypeNote), tombstone.FormerType())
	require.NotNil(t, tombstone.Deleted())
}

func TestBuilder_LikeAnnounceUndo(t *testing.T) {
	b := New(alice)

	like := b.Like(note, vocab.WithTo(bob))
	require.True(t, like.Type().Is(vocab.TypeLike))
	require.Equal(t, note.String(), like.Object().IRI().String())
	require.True(t, like.To().Contains(bob))

	announce := b.Announce(note)
	require.True(t, announce.Type().Is(vocab.TypeAnnounce))
	require.True(t, announce.To().Contains(vocab.MustParseURL(vocab.PublicIRI)))

	follow := b.Follow(bob)

	undo := b.Undo(follow)
	require.True(t, undo.Type().Is(vocab.TypeUndo))
	require.NotNil(t, undo.Object().Activity())
	require.True(t, undo.Object().Activity().Type().Is(vocab.TypeFollow))
	require.True(t, undo.To().Contains(bob))
}

func TestBuilder_AddRemoveBlock(t *testing.T) {
	b := New(alice)

	coll := vocab.MustParseURL("https://a.example.com/users/alice/collections/reading-list")

	add := b.Add(note, coll)
	require.True(t, add.Type().Is(vocab.TypeAdd))
	require.Equal(t, note.String(), add.Object().IRI().String())
	require.Equal(t, coll.String(), add.Target().IRI().String())

	remove := b.Remove(note, coll)
	require.True(t, remove.Type().Is(vocab.TypeRemove))
	require.Equal(t, coll.String(), remove.Target().IRI().String())

	block := b.Block(bob)
	require.True(t, block.Type().Is(vocab.TypeBlock))
	require.Equal(t, bob.String(), block.Object().IRI().String())
}

func TestNoteBuilder(t *testing.T) {
	published := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	attachmentURL := vocab.MustParseURL("https://a.example.com/media/pic-1")

	obj, err := NewNote(alice).
		Content("Check this out, <em>Bob</em>").
		MediaType("text/html").
		InReplyTo(note).
		Mention(bob, "@bob@b.example.com").
		Image("image/png", attachmentURL).
		Published(published).
		Sensitive("spoilers").
		Build()
	require.NoError(t, err)

	require.True(t, obj.Type().Is(vocab.TypeNote))
	require.Equal(t, alice.String(), obj.AttributedTo().String())
	require.Equal(t, "Check this out, <em>Bob</em>", obj.Content())
	require.Equal(t, "text/html", obj.MediaType())
	require.Equal(t, note.String(), obj.InReplyTo().String())
	require.True(t, obj.To().Contains(bob))
	require.True(t, obj.Sensitive())
	require.Equal(t, "spoilers", obj.Summary())
	require.Equal(t, published, obj.Published().UTC())

	require.Len(t, obj.Tag(), 1)
	require.Equal(t, "@bob@b.example.com", obj.Tag()[0].Name())

	require.Len(t, obj.Attachment(), 1)
	require.True(t, obj.Attachment()[0].Type().Is(vocab.TypeImage))
	require.Equal(t, "image/png", obj.Attachment()[0].MediaType())

	t.Run("Followers-only note", func(t *testing.T) {
		obj, err := NewNote(alice).Content("For my followers").Followers().Build()
		require.NoError(t, err)

		require.True(t, obj.To().Contains(vocab.MustParseURL(alice.String()+"/followers")))
		require.False(t, obj.To().Contains(vocab.MustParseURL(vocab.PublicIRI)))
	})

	t.Run("Missing content -> error", func(t *testing.T) {
		_, err := NewNote(alice).Public().Build()
		require.EqualError(t, err, "note requires content")
	})

	t.Run("Missing recipients -> error", func(t *testing.T) {
		_, err := NewNote(alice).Content("hello").Build()
		require.EqualError(t, err, "note requires at least one recipient")
	})

	t.Run("Missing actor -> error", func(t *testing.T) {
		_, err := NewNote(nil).Content("hello").Public().Build()
		require.EqualError(t, err, "note requires an attributedTo actor")
	})
}
