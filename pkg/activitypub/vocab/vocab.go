/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

// Context defines the object context.
type Context string

const (
	// ContextActivityStreams is the ActivityStreams context.
	ContextActivityStreams Context = "https://www.w3.org/ns/activitystreams"
	// ContextSecurity is the security context.
	ContextSecurity Context = "https://w3id.org/security/v1"
)

const (
	// PublicIRI indicates that the object is public, i.e. it may be viewed by anyone.
	PublicIRI = "https://www.w3.org/ns/activitystreams#Public"
)

// Type indicates the type of the object.
type Type string

const (
	// TypeCollection specifies the 'Collection' object type.
	TypeCollection Type = "Collection"
	// TypeOrderedCollection specifies the 'OrderedCollection' object type.
	TypeOrderedCollection Type = "OrderedCollection"
	// TypeCollectionPage specifies the 'CollectionPage' object type.
	TypeCollectionPage Type = "CollectionPage"
	// TypeOrderedCollectionPage specifies the 'OrderedCollectionPage' object type.
	TypeOrderedCollectionPage Type = "OrderedCollectionPage"

	// TypePerson specifies the 'Person' actor type.
	TypePerson Type = "Person"
	// TypeService specifies the 'Service' actor type.
	TypeService Type = "Service"
	// TypeApplication specifies the 'Application' actor type.
	TypeApplication Type = "Application"

	// TypeNote specifies the 'Note' object type.
	TypeNote Type = "Note"
	// TypeArticle specifies the 'Article' object type.
	TypeArticle Type = "Article"
	// TypeDocument specifies the 'Document' object type.
	TypeDocument Type = "Document"
	// TypeImage specifies the 'Image' object type.
	TypeImage Type = "Image"
	// TypeVideo specifies the 'Video' object type.
	TypeVideo Type = "Video"
	// TypeAudio specifies the 'Audio' object type.
	TypeAudio Type = "Audio"
	// TypeTombstone specifies the 'Tombstone' object type.
	TypeTombstone Type = "Tombstone"
	// TypeLink specifies the 'Link' object type.
	TypeLink Type = "Link"
	// TypeMention specifies the 'Mention' link type.
	TypeMention Type = "Mention"

	// TypeCreate specifies the 'Create' activity type.
	TypeCreate Type = "Create"
	// TypeUpdate specifies the 'Update' activity type.
	TypeUpdate Type = "Update"
	// TypeDelete specifies the 'Delete' activity type.
	TypeDelete Type = "Delete"
	// TypeAnnounce specifies the 'Announce' activity type.
	TypeAnnounce Type = "Announce"
	// TypeFollow specifies the 'Follow' activity type.
	TypeFollow Type = "Follow"
	// TypeAccept specifies the 'Accept' activity type.
	TypeAccept Type = "Accept"
	// TypeTentativeAccept specifies the 'TentativeAccept' activity type.
	TypeTentativeAccept Type = "TentativeAccept"
	// TypeReject specifies the 'Reject' activity type.
	TypeReject Type = "Reject"
	// TypeLike specifies the 'Like' activity type.
	TypeLike Type = "Like"
	// TypeUndo specifies the 'Undo' activity type.
	TypeUndo Type = "Undo"
	// TypeAdd specifies the 'Add' activity type.
	TypeAdd Type = "Add"
	// TypeRemove specifies the 'Remove' activity type.
	TypeRemove Type = "Remove"
	// TypeBlock specifies the 'Block' activity type.
	TypeBlock Type = "Block"
)

// activityTypes contains all of the supported activity types.
var activityTypes = []Type{ //nolint:gochecknoglobals
	TypeCreate, TypeUpdate, TypeDelete, TypeAnnounce, TypeFollow, TypeAccept, TypeTentativeAccept,
	TypeReject, TypeLike, TypeUndo, TypeAdd, TypeRemove, TypeBlock,
}

// IsActivityType returns true if the given type is one of the supported activity types.
func IsActivityType(t Type) bool {
	for _, at := range activityTypes {
		if at == t {
			return true
		}
	}

	return false
}

const (
	propertyContext      = "@context"
	propertyID           = "id"
	propertyType         = "type"
	propertyTo           = "to"
	propertyCC           = "cc"
	propertyBTo          = "bto"
	propertyBCC          = "bcc"
	propertyAudience     = "audience"
	propertyPublished    = "published"
	propertyUpdated      = "updated"
	propertyActor        = "actor"
	propertyAttributedTo = "attributedTo"
	propertyContent      = "content"
	propertyMediaType    = "mediaType"
	propertySummary      = "summary"
	propertySensitive    = "sensitive"
	propertyInReplyTo    = "inReplyTo"
	propertyAttachment   = "attachment"
	propertyTag          = "tag"
	propertyURL          = "url"
	propertyName         = "name"
	propertyCurrent      = "current"
	propertyFirst        = "first"
	propertyLast         = "last"
	propertyItems        = "items"
	propertyObject       = "object"
	propertyResult       = "result"
	propertyTarget       = "target"
	propertyEndTime      = "endTime"
	propertyStartTime    = "startTime"
	propertyTotalItems   = "totalItems"
	propertyDeleted      = "deleted"
	propertyFormerType   = "formerType"
)

func reservedProperties() []string {
	return []string{
		propertyContext,
		propertyID,
		propertyType,
		propertyTo,
		propertyCC,
		propertyBTo,
		propertyBCC,
		propertyAudience,
		propertyPublished,
		propertyUpdated,
		propertyActor,
		propertyAttributedTo,
		propertyContent,
		propertyMediaType,
		propertySummary,
		propertySensitive,
		propertyInReplyTo,
		propertyAttachment,
		propertyTag,
		propertyURL,
		propertyName,
		propertyCurrent,
		propertyFirst,
		propertyLast,
		propertyItems,
		propertyObject,
		propertyResult,
		propertyTarget,
		propertyEndTime,
		propertyStartTime,
		propertyTotalItems,
		propertyDeleted,
		propertyFormerType,
	}
}

// Document defines a JSON document as a map.
type Document map[string]interface{}

// MergeWith merges the document with the given document. Any duplicate fields
// in the given document are ignored.
func (doc Document) MergeWith(other Document) {
	for k, v := range other {
		if _, ok := doc[k]; !ok {
			doc[k] = v
		}
	}
}
