/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package builder

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

const followersPathSuffix = "/followers"

// Builder constructs activities on behalf of a local actor, with the actor, object,
// target and addressing properties in the shape expected by remote servers.
type Builder struct {
	actorIRI *url.URL
}

// New returns a builder which constructs activities with the given actor.
func New(actorIRI *url.URL) *Builder {
	return &Builder{actorIRI: actorIRI}
}

// ActorIRI returns the IRI of the actor on whose behalf activities are built.
func (b *Builder) ActorIRI() *url.URL {
	return b.actorIRI
}

// Follow returns a Follow activity addressed to the target actor.
func (b *Builder) Follow(targetActor *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(targetActor)),
		b.withDefaults(opts, vocab.WithTo(targetActor))...,
	)
}

// Accept returns an Accept activity which embeds the given activity (such as a Follow)
// and is addressed to that activity's actor.
func (b *Builder) Accept(activity *vocab.ActivityType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(activity)),
		b.withDefaults(opts, vocab.WithTo(activity.Actor()))...,
	)
}

// TentativeAccept returns a TentativeAccept activity which embeds the given activity
// and is addressed to that activity's actor.
func (b *Builder) TentativeAccept(activity *vocab.ActivityType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewTentativeAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(activity)),
		b.withDefaults(opts, vocab.WithTo(activity.Actor()))...,
	)
}

// Reject returns a Reject activity which embeds the given activity and is addressed
// to that activity's actor.
func (b *Builder) Reject(activity *vocab.ActivityType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewRejectActivity(
		vocab.NewObjectProperty(vocab.WithActivity(activity)),
		b.withDefaults(opts, vocab.WithTo(activity.Actor()))...,
	)
}

// Create returns a Create activity wrapping the given object. The object's addressing
// (to, cc) is copied to the activity.
func (b *Builder) Create(obj *vocab.ObjectType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(obj)),
		b.withDefaults(opts,
			vocab.WithTo(obj.To()...),
			vocab.WithCC(obj.CC()...),
		)...,
	)
}

// Update returns an Update activity wrapping the given object. The object's addressing
// (to, cc) is copied to the activity.
func (b *Builder) Update(obj *vocab.ObjectType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewUpdateActivity(
		vocab.NewObjectProperty(vocab.WithObject(obj)),
		b.withDefaults(opts,
			vocab.WithTo(obj.To()...),
			vocab.WithCC(obj.CC()...),
		)...,
	)
}

// Delete returns a Delete activity whose object is a Tombstone for the deleted object.
func (b *Builder) Delete(objectIRI *url.URL, formerType vocab.Type, opts ...vocab.Opt) *vocab.ActivityType {
	now := time.Now()

	tombstone := vocab.NewTombstoneObject(
		vocab.WithID(objectIRI),
		vocab.WithFormerType(formerType),
		vocab.WithDeletedTime(&now),
	)

	return vocab.NewDeleteActivity(
		vocab.NewObjectProperty(vocab.WithObject(tombstone)),
		b.withDefaults(opts, vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)))...,
	)
}

// Like returns a Like activity for the given object.
func (b *Builder) Like(objectIRI *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objectIRI)),
		b.withDefaults(opts)...,
	)
}

// Announce returns an Announce (share) activity for the given object.
func (b *Builder) Announce(objectIRI *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objectIRI)),
		b.withDefaults(opts, vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)))...,
	)
}

// Undo returns an Undo activity which embeds the activity being undone and carries
// the same addressing.
func (b *Builder) Undo(activity *vocab.ActivityType, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewUndoActivity(
		vocab.NewObjectProperty(vocab.WithActivity(activity)),
		b.withDefaults(opts, vocab.WithTo(activity.To()...))...,
	)
}

// Add returns an Add activity which adds the given object to the target collection.
func (b *Builder) Add(objectIRI, target *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewAddActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objectIRI)),
		b.withDefaults(opts,
			vocab.WithTarget(vocab.NewObjectProperty(vocab.WithIRI(target))),
		)...,
	)
}

// Remove returns a Remove activity which removes the given object from the target collection.
func (b *Builder) Remove(objectIRI, target *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewRemoveActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objectIRI)),
		b.withDefaults(opts,
			vocab.WithTarget(vocab.NewObjectProperty(vocab.WithIRI(target))),
		)...,
	)
}

// Block returns a Block activity for the given actor. Block activities are not
// delivered to the blocked actor.
func (b *Builder) Block(actorIRI *url.URL, opts ...vocab.Opt) *vocab.ActivityType {
	return vocab.NewBlockActivity(
		vocab.NewObjectProperty(vocab.WithIRI(actorIRI)),
		b.withDefaults(opts)...,
	)
}

func (b *Builder) withDefaults(opts []vocab.Opt, defaults ...vocab.Opt) []vocab.Opt {
	return append([]vocab.Opt{
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithActor(b.actorIRI),
	}, append(defaults, opts...)...)
}

// NoteBuilder builds a Note object using a fluent interface.
type NoteBuilder struct {
	attributedTo *url.URL
	content      string
	mediaType    string
	summary      string
	inReplyTo    *url.URL
	to           []*url.URL
	cc           []*url.URL
	tags         []*vocab.TagProperty
	attachments  []*vocab.ObjectType
	published    *time.Time
	sensitive    bool
}

// NewNote returns a builder for a Note attributed to the given actor.
func NewNote(attributedTo *url.URL) *NoteBuilder {
	return &NoteBuilder{attributedTo: attributedTo}
}

// Content sets the note's content.
func (n *NoteBuilder) Content(content string) *NoteBuilder {
	n.content = content

	return n
}

// MediaType sets the media type of the note's content.
func (n *NoteBuilder) MediaType(mediaType string) *NoteBuilder {
	n.mediaType = mediaType

	return n
}

// InReplyTo marks the note as a reply to the given object.
func (n *NoteBuilder) InReplyTo(objectIRI *url.URL) *NoteBuilder {
	n.inReplyTo = objectIRI

	return n
}

// To adds recipients to the note's 'to' property.
func (n *NoteBuilder) To(recipients ...*url.URL) *NoteBuilder {
	n.to = append(n.to, recipients...)

	return n
}

// CC adds recipients to the note's 'cc' property.
func (n *NoteBuilder) CC(recipients ...*url.URL) *NoteBuilder {
	n.cc = append(n.cc, recipients...)

	return n
}

// Public addresses the note to the special Public collection.
func (n *NoteBuilder) Public() *NoteBuilder {
	return n.To(vocab.MustParseURL(vocab.PublicIRI))
}

// Followers addresses the note to the author's followers collection.
func (n *NoteBuilder) Followers() *NoteBuilder {
	if n.attributedTo == nil {
		return n
	}

	return n.To(vocab.MustParseURL(n.attributedTo.String() + followersPathSuffix))
}

// Mention adds a Mention tag for the given actor and addresses the note to them.
func (n *NoteBuilder) Mention(actorIRI *url.URL, name string) *NoteBuilder {
	n.tags = append(n.tags, vocab.NewTagProperty(
		vocab.WithLink(vocab.NewMention(actorIRI, name))))

	return n.To(actorIRI)
}

// Attachment adds a Document attachment with the given media type and URL.
func (n *NoteBuilder) Attachment(mediaType string, attachmentURL *url.URL) *NoteBuilder {
	return n.attach(vocab.TypeDocument, mediaType, attachmentURL)
}

// Image adds an Image attachment with the given media type and URL.
func (n *NoteBuilder) Image(mediaType string, attachmentURL *url.URL) *NoteBuilder {
	return n.attach(vocab.TypeImage, mediaType, attachmentURL)
}

func (n *NoteBuilder) attach(t vocab.Type, mediaType string, attachmentURL *url.URL) *NoteBuilder {
	n.attachments = append(n.attachments, vocab.NewObject(
		vocab.WithType(t),
		vocab.WithMediaType(mediaType),
		vocab.WithURL(attachmentURL),
	))

	return n
}

// Published sets the published timestamp.
func (n *NoteBuilder) Published(published time.Time) *NoteBuilder {
	n.published = &published

	return n
}

// Sensitive marks the note's content as sensitive with the given summary
// (content warning).
func (n *NoteBuilder) Sensitive(summary string) *NoteBuilder {
	n.sensitive = true
	n.summary = summary

	return n
}

// Build validates the builder and returns the Note object.
func (n *NoteBuilder) Build() (*vocab.ObjectType, error) {
	if n.attributedTo == nil {
		return nil, fmt.Errorf("note requires an attributedTo actor")
	}

	if n.content == "" {
		return nil, fmt.Errorf("note requires content")
	}

	if len(n.to) == 0 && len(n.cc) == 0 {
		return nil, fmt.Errorf("note requires at least one recipient")
	}

	opts := []vocab.Opt{
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithType(vocab.TypeNote),
		vocab.WithAttributedTo(n.attributedTo),
		vocab.WithContent(n.content),
		vocab.WithTo(n.to...),
		vocab.WithCC(n.cc...),
	}

	if n.mediaType != "" {
		opts = append(opts, vocab.WithMediaType(n.mediaType))
	}

	if n.inReplyTo != nil {
		opts = append(opts, vocab.WithInReplyTo(n.inReplyTo))
	}

	for _, tag := range n.tags {
		opts = append(opts, vocab.WithTag(tag))
	}

	for _, attachment := range n.attachments {
		opts = append(opts, vocab.WithAttachment(attachment))
	}

	published := n.published
	if published == nil {
		now := time.Now()
		published = &now
	}

	opts = append(opts, vocab.WithPublishedTime(published))

	if n.sensitive {
		opts = append(opts, vocab.WithSensitive(true), vocab.WithSummary(n.summary))
	}

	return vocab.NewObject(opts...), nil
}
