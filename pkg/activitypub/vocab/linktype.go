/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// LinkType defines the ActivityPub 'Link' type.
type LinkType struct {
	linkType Type
	link     *linkType
}

type linkType struct {
	HRef *URLProperty `json:"href,omitempty"`
	Name string       `json:"name,omitempty"`
	Rel  []string     `json:"rel,omitempty"`
}

// NewLink creates a new Link type.
func NewLink(hRef *url.URL, rel ...string) *LinkType {
	return &LinkType{
		linkType: TypeLink,
		link: &linkType{
			HRef: NewURLProperty(hRef),
			Rel:  rel,
		},
	}
}

// NewMention creates a new Mention link. The name is the handle of the
// mentioned actor, e.g. @alice@example.com.
func NewMention(hRef *url.URL, name string) *LinkType {
	return &LinkType{
		linkType: TypeMention,
		link: &linkType{
			HRef: NewURLProperty(hRef),
			Name: name,
		},
	}
}

// Type returns the type of the link.
func (t *LinkType) Type() *TypeProperty {
	if t.linkType == "" {
		return NewTypeProperty(TypeLink)
	}

	return NewTypeProperty(t.linkType)
}

// HRef returns the reference ('href' field).
func (t *LinkType) HRef() *url.URL {
	if t == nil || t.link == nil {
		return nil
	}

	return t.link.HRef.URL()
}

// Name returns the name of the link.
func (t *LinkType) Name() string {
	if t == nil || t.link == nil {
		return ""
	}

	return t.link.Name
}

// Rel returns the relationship ('rel' field).
func (t *LinkType) Rel() Relationship {
	if t == nil || t.link == nil {
		return nil
	}

	return t.link.Rel
}

// MarshalJSON marshals the link type to JSON.
func (t *LinkType) MarshalJSON() ([]byte, error) {
	lt := t.linkType
	if lt == "" {
		lt = TypeLink
	}

	return MarshalJSON(t.link, Document{propertyType: lt})
}

// UnmarshalJSON umarshals the link type from JSON.
func (t *LinkType) UnmarshalJSON(bytes []byte) error {
	t.link = &linkType{}

	if err := UnmarshalJSON(bytes, &t.link); err != nil {
		return err
	}

	header := &struct {
		Type *TypeProperty `json:"type"`
	}{}

	if err := UnmarshalJSON(bytes, header); err != nil {
		return err
	}

	if header.Type.Is(TypeMention) {
		t.linkType = TypeMention
	} else {
		t.linkType = TypeLink
	}

	return nil
}

// Relationship holds the relationship of the Link.
type Relationship []string

// Is return true if the given relationship is contained.
func (r Relationship) Is(relationship string) bool {
	for _, rel := range r {
		if rel == relationship {
			return true
		}
	}

	return false
}
