/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ObjectType defines an 'object'.
type ObjectType struct {
	object     *objectType
	additional Document
}

// NewObject returns a new 'object'.
func NewObject(opts ...Opt) *ObjectType {
	options := NewOptions(opts...)

	return &ObjectType{
		object: &objectType{
			Context:      NewContextProperty(options.Context...),
			ID:           NewURLProperty(options.ID),
			Type:         NewTypeProperty(options.Types...),
			To:           NewURLCollectionProperty(options.To...),
			CC:           NewURLCollectionProperty(options.CC...),
			BTo:          NewURLCollectionProperty(options.BTo...),
			BCC:          NewURLCollectionProperty(options.BCC...),
			Audience:     NewURLCollectionProperty(options.Audience...),
			Published:    options.Published,
			Updated:      options.Updated,
			StartTime:    options.StartTime,
			EndTime:      options.EndTime,
			AttributedTo: NewURLProperty(options.AttributedTo),
			InReplyTo:    NewURLProperty(options.InReplyTo),
			Content:      options.Content,
			MediaType:    options.MediaType,
			Summary:      options.Summary,
			Name:         options.Name,
			Sensitive:    options.Sensitive,
			URL:          NewURLCollectionProperty(options.URL...),
			Attachment:   options.Attachment,
			Tag:          options.Tag,
			Deleted:      options.Deleted,
			FormerType:   options.FormerType,
		},
	}
}

// NewObjectWithDocument returns a new object initialized with the given document.
func NewObjectWithDocument(doc Document, opts ...Opt) (*ObjectType, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	bytes, err := MarshalJSON(NewObject(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return obj, nil
}

// NewTombstoneObject returns a new 'Tombstone' object.
func NewTombstoneObject(opts ...Opt) *ObjectType {
	obj := NewObject(opts...)

	obj.object.Type = NewTypeProperty(TypeTombstone)

	return obj
}

type objectType struct {
	Context      *ContextProperty       `json:"@context,omitempty"`
	ID           *URLProperty           `json:"id,omitempty"`
	Type         *TypeProperty          `json:"type,omitempty"`
	To           *URLCollectionProperty `json:"to,omitempty"`
	CC           *URLCollectionProperty `json:"cc,omitempty"`
	BTo          *URLCollectionProperty `json:"bto,omitempty"`
	BCC          *URLCollectionProperty `json:"bcc,omitempty"`
	Audience     *URLCollectionProperty `json:"audience,omitempty"`
	Published    *time.Time             `json:"published,omitempty"`
	Updated      *time.Time             `json:"updated,omitempty"`
	StartTime    *time.Time             `json:"startTime,omitempty"`
	EndTime      *time.Time             `json:"endTime,omitempty"`
	AttributedTo *URLProperty           `json:"attributedTo,omitempty"`
	InReplyTo    *URLProperty           `json:"inReplyTo,omitempty"`
	Content      string                 `json:"content,omitempty"`
	MediaType    string                 `json:"mediaType,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Sensitive    bool                   `json:"sensitive,omitempty"`
	URL          *URLCollectionProperty `json:"url,omitempty"`
	Attachment   []*ObjectType          `json:"attachment,omitempty"`
	Tag          []*TagProperty         `json:"tag,omitempty"`
	Deleted      *time.Time             `json:"deleted,omitempty"`
	FormerType   string                 `json:"formerType,omitempty"`
}

// Context returns the context property.
func (t *ObjectType) Context() *ContextProperty {
	return t.object.Context
}

// ID returns the object's ID.
func (t *ObjectType) ID() *URLProperty {
	return t.object.ID
}

// SetID sets the object's ID.
func (t *ObjectType) SetID(id *url.URL) {
	t.object.ID = NewURLProperty(id)
}

// Type returns the type of the object.
func (t *ObjectType) Type() *TypeProperty {
	return t.object.Type
}

// Published returns the time when the object was published.
func (t *ObjectType) Published() *time.Time {
	return t.object.Published
}

// SetPublished sets the time when the object was published.
func (t *ObjectType) SetPublished(published *time.Time) {
	t.object.Published = published
}

// Updated returns the time when the object was last updated.
func (t *ObjectType) Updated() *time.Time {
	return t.object.Updated
}

// StartTime returns the start time.
func (t *ObjectType) StartTime() *time.Time {
	return t.object.StartTime
}

// EndTime returns the end time.
func (t *ObjectType) EndTime() *time.Time {
	return t.object.EndTime
}

// To returns a set of URLs to which the object should be sent.
func (t *ObjectType) To() Recipients {
	return t.object.To.urlValues()
}

// CC returns the secondary recipients of the object.
func (t *ObjectType) CC() Recipients {
	return t.object.CC.urlValues()
}

// BTo returns the hidden primary recipients of the object.
func (t *ObjectType) BTo() Recipients {
	return t.object.BTo.urlValues()
}

// BCC returns the hidden secondary recipients of the object.
func (t *ObjectType) BCC() Recipients {
	return t.object.BCC.urlValues()
}

// Audience returns the audience of the object.
func (t *ObjectType) Audience() Recipients {
	return t.object.Audience.urlValues()
}

// AllRecipients returns the recipients in the to, cc, bto, bcc and audience properties.
func (t *ObjectType) AllRecipients() Recipients {
	var recipients Recipients

	recipients = append(recipients, t.To()...)
	recipients = append(recipients, t.CC()...)
	recipients = append(recipients, t.BTo()...)
	recipients = append(recipients, t.BCC()...)
	recipients = append(recipients, t.Audience()...)

	return recipients
}

// AttributedTo returns the IRI of the actor to which the object is attributed.
func (t *ObjectType) AttributedTo() *URLProperty {
	return t.object.AttributedTo
}

// InReplyTo returns the IRI of the object that this object is a reply to.
func (t *ObjectType) InReplyTo() *URLProperty {
	return t.object.InReplyTo
}

// Content returns the content of the object.
func (t *ObjectType) Content() string {
	return t.object.Content
}

// MediaType returns the media type of the content.
func (t *ObjectType) MediaType() string {
	return t.object.MediaType
}

// Summary returns the summary of the object.
func (t *ObjectType) Summary() string {
	return t.object.Summary
}

// Name returns the name of the object.
func (t *ObjectType) Name() string {
	return t.object.Name
}

// Sensitive returns true if the content is marked as sensitive.
func (t *ObjectType) Sensitive() bool {
	return t.object.Sensitive
}

// URL returns the URLs of the object.
func (t *ObjectType) URL() []*url.URL {
	return t.object.URL.urlValues()
}

// SetURL sets the 'url' property on the object.
func (t *ObjectType) SetURL(urls ...*url.URL) {
	t.object.URL = NewURLCollectionProperty(urls...)
}

// Attachment returns the attachments of the object.
func (t *ObjectType) Attachment() []*ObjectType {
	return t.object.Attachment
}

// Tag returns the tags on the object.
func (t *ObjectType) Tag() []*TagProperty {
	return t.object.Tag
}

// Deleted returns the time when the object was deleted. This property
// is only set on a Tombstone object.
func (t *ObjectType) Deleted() *time.Time {
	return t.object.Deleted
}

// FormerType returns the former type of a Tombstone object.
func (t *ObjectType) FormerType() string {
	return t.object.FormerType
}

// Value returns the value of a property.
func (t *ObjectType) Value(key string) (interface{}, bool) {
	v, ok := t.additional[key]

	return v, ok
}

// MarshalJSON marshals the object.
func (t *ObjectType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.object, t.additional)
}

// UnmarshalJSON unmarshals the object.
func (t *ObjectType) UnmarshalJSON(bytes []byte) error {
	header := &objectType{}

	err := json.Unmarshal(bytes, header)
	if err != nil {
		return err
	}

	doc := make(Document)

	err = json.Unmarshal(bytes, &doc)
	if err != nil {
		return err
	}

	// Delete all of the reserved ActivityStreams fields
	for _, prop := range reservedProperties() {
		delete(doc, prop)
	}

	t.object = header
	t.additional = doc

	return nil
}

// Recipients holds a set of recipient IRIs.
type Recipients []*url.URL

// Contains returns true if the set contains the given IRI.
func (r Recipients) Contains(iri fmt.Stringer) bool {
	if iri == nil {
		return false
	}

	for _, u := range r {
		if u.String() == iri.String() {
			return true
		}
	}

	return false
}
