/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// ActivityType defines an 'activity'.
type ActivityType struct {
	*ObjectType

	activity *activityType
}

type activityType struct {
	Actor  *URLProperty    `json:"actor,omitempty"`
	Target *ObjectProperty `json:"target,omitempty"`
	Object *ObjectProperty `json:"object,omitempty"`
	Result *ObjectProperty `json:"result,omitempty"`
}

// Actor returns the actor for the activity.
func (t *ActivityType) Actor() *url.URL {
	if t.activity.Actor == nil {
		return nil
	}

	return t.activity.Actor.URL()
}

// SetActor sets the actor for the activity.
func (t *ActivityType) SetActor(iri *url.URL) {
	t.activity.Actor = NewURLProperty(iri)
}

// Target returns the target of the activity.
func (t *ActivityType) Target() *ObjectProperty {
	return t.activity.Target
}

// Object returns the object of the activity.
func (t *ActivityType) Object() *ObjectProperty {
	return t.activity.Object
}

// Result returns the result.
func (t *ActivityType) Result() *ObjectProperty {
	return t.activity.Result
}

// MarshalJSON marshals the activity.
func (t *ActivityType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.activity)
}

// UnmarshalJSON unmarshals the activity.
func (t *ActivityType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.activity = &activityType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.activity)
}

func newActivity(activityType2 Type, obj *ObjectProperty, options *Options) *ActivityType {
	return &ActivityType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams)...),
			WithID(options.ID),
			WithType(activityType2),
			WithTo(options.To...),
			WithCC(options.CC...),
			WithBTo(options.BTo...),
			WithBCC(options.BCC...),
			WithAudience(options.Audience...),
			WithPublishedTime(options.Published),
			WithStartTime(options.StartTime),
			WithEndTime(options.EndTime),
		),
		activity: &activityType{
			Actor:  NewURLProperty(options.Actor),
			Target: options.Target,
			Object: obj,
			Result: options.Result,
		},
	}
}

// NewCreateActivity returns a new 'Create' activity.
func NewCreateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeCreate, obj, NewOptions(opts...))
}

// NewUpdateActivity returns a new 'Update' activity.
func NewUpdateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeUpdate, obj, NewOptions(opts...))
}

// NewDeleteActivity returns a new 'Delete' activity.
func NewDeleteActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeDelete, obj, NewOptions(opts...))
}

// NewAnnounceActivity returns a new 'Announce' activity.
func NewAnnounceActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAnnounce, obj, NewOptions(opts...))
}

// NewFollowActivity returns a new 'Follow' activity.
func NewFollowActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeFollow, obj, NewOptions(opts...))
}

// NewAcceptActivity returns a new 'Accept' activity.
func NewAcceptActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAccept, obj, NewOptions(opts...))
}

// NewTentativeAcceptActivity returns a new 'TentativeAccept' activity.
func NewTentativeAcceptActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeTentativeAccept, obj, NewOptions(opts...))
}

// NewRejectActivity returns a new 'Reject' activity.
func NewRejectActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeReject, obj, NewOptions(opts...))
}

// NewLikeActivity returns a new 'Like' activity.
func NewLikeActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeLike, obj, NewOptions(opts...))
}

// NewUndoActivity returns a new 'Undo' activity.
func NewUndoActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeUndo, obj, NewOptions(opts...))
}

// NewAddActivity returns a new 'Add' activity.
func NewAddActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAdd, obj, NewOptions(opts...))
}

// NewRemoveActivity returns a new 'Remove' activity.
func NewRemoveActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeRemove, obj, NewOptions(opts...))
}

// NewBlockActivity returns a new 'Block' activity.
func NewBlockActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeBlock, obj, NewOptions(opts...))
}
