/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// PublicKeyType defines a public key object.
type PublicKeyType struct {
	ID           *URLProperty `json:"id"`
	Owner        *URLProperty `json:"owner"`
	PublicKeyPem string       `json:"publicKeyPem"`
}

// NewPublicKey returns a new public key object.
func NewPublicKey(opts ...Opt) *PublicKeyType {
	options := NewOptions(opts...)

	return &PublicKeyType{
		ID:           NewURLProperty(options.ID),
		Owner:        NewURLProperty(options.Owner),
		PublicKeyPem: options.PublicKeyPem,
	}
}

// EndpointsType defines additional endpoints on an actor.
type EndpointsType struct {
	SharedInbox *URLProperty `json:"sharedInbox,omitempty"`
}

// ActorType defines an 'actor'.
type ActorType struct {
	*ObjectType

	actor *actorType
}

type actorType struct {
	PublicKey                 *PublicKeyType `json:"publicKey,omitempty"`
	Inbox                     *URLProperty   `json:"inbox,omitempty"`
	Outbox                    *URLProperty   `json:"outbox,omitempty"`
	Followers                 *URLProperty   `json:"followers,omitempty"`
	Following                 *URLProperty   `json:"following,omitempty"`
	Liked                     *URLProperty   `json:"liked,omitempty"`
	PreferredUsername         string         `json:"preferredUsername,omitempty"`
	ManuallyApprovesFollowers bool           `json:"manuallyApprovesFollowers,omitempty"`
	Endpoints                 *EndpointsType `json:"endpoints,omitempty"`
	// PrivateKeyPem is populated only in an actor document returned to the actor's
	// own, admin-authenticated client. It is never stored or federated.
	PrivateKeyPem string `json:"privateKeyPem,omitempty"`
}

// PublicKey returns the actor's public key.
func (t *ActorType) PublicKey() *PublicKeyType {
	return t.actor.PublicKey
}

// Inbox returns the URL of the actor's inbox.
func (t *ActorType) Inbox() *url.URL {
	return t.actor.Inbox.URL()
}

// Outbox returns the URL of the actor's outbox.
func (t *ActorType) Outbox() *url.URL {
	return t.actor.Outbox.URL()
}

// Followers returns the URL of the actor's followers collection.
func (t *ActorType) Followers() *url.URL {
	return t.actor.Followers.URL()
}

// Following returns the URL of the actor's following collection.
func (t *ActorType) Following() *url.URL {
	return t.actor.Following.URL()
}

// Liked returns the URL of the actor's liked collection.
func (t *ActorType) Liked() *url.URL {
	return t.actor.Liked.URL()
}

// PreferredUsername returns the actor's preferred username.
func (t *ActorType) PreferredUsername() string {
	return t.actor.PreferredUsername
}

// ManuallyApprovesFollowers returns true if follow requests to this actor
// require manual approval.
func (t *ActorType) ManuallyApprovesFollowers() bool {
	return t.actor.ManuallyApprovesFollowers
}

// PrivateKeyPem returns the actor's PEM-encoded private key, or an empty string.
// The property is present only in a document fetched by the actor's own,
// admin-authenticated client.
func (t *ActorType) PrivateKeyPem() string {
	return t.actor.PrivateKeyPem
}

// SharedInbox returns the URL of the shared inbox endpoint, or nil if the actor
// does not advertise one.
func (t *ActorType) SharedInbox() *url.URL {
	if t.actor.Endpoints == nil {
		return nil
	}

	return t.actor.Endpoints.SharedInbox.URL()
}

// MarshalJSON marshals the object to JSON.
func (t *ActorType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.actor)
}

// UnmarshalJSON unmarshals the object from JSON.
func (t *ActorType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.actor = &actorType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.actor)
}

func newActor(actorType2 Type, id *url.URL, options *Options) *ActorType {
	var endpoints *EndpointsType

	if options.SharedInbox != nil {
		endpoints = &EndpointsType{SharedInbox: NewURLProperty(options.SharedInbox)}
	}

	return &ActorType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams, ContextSecurity)...),
			WithID(id),
			WithType(actorType2),
			WithName(options.Name),
			WithSummary(options.Summary),
			WithPublishedTime(options.Published),
		),
		actor: &actorType{
			PublicKey:                 options.PublicKey,
			Inbox:                     NewURLProperty(options.Inbox),
			Outbox:                    NewURLProperty(options.Outbox),
			Followers:                 NewURLProperty(options.Followers),
			Following:                 NewURLProperty(options.Following),
			Liked:                     NewURLProperty(options.Liked),
			PreferredUsername:         options.PreferredUsername,
			ManuallyApprovesFollowers: options.ManuallyApprovesFollowers,
			Endpoints:                 endpoints,
		},
	}
}

// NewPerson returns a new 'Person' actor type.
func NewPerson(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypePerson, id, NewOptions(opts...))
}

// NewService returns a new 'Service' actor type.
func NewService(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypeService, id, NewOptions(opts...))
}

// NewApplication returns a new 'Application' actor type.
func NewApplication(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypeApplication, id, NewOptions(opts...))
}
