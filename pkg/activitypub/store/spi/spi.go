/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

// ErrNotFound is returned from various store functions when a requested
// object is not found in the store.
var ErrNotFound = fmt.Errorf("not found in ActivityPub store")

// ErrConflict is returned when a conditional update fails because the stored
// item was modified concurrently.
var ErrConflict = fmt.Errorf("conflict in ActivityPub store")

// ReferenceType defines the type of a reference edge from an actor or object
// to another IRI, e.g. follower, like, share.
type ReferenceType string

const (
	// Follower indicates that the reference is an actor that's following the local actor.
	Follower ReferenceType = "FOLLOWER"
	// Following indicates that the reference is an actor that the local actor is following.
	Following ReferenceType = "FOLLOWING"
	// Inbox indicates that the reference is an activity in the local actor's inbox.
	Inbox ReferenceType = "INBOX"
	// Outbox indicates that the reference is an activity in the local actor's outbox.
	Outbox ReferenceType = "OUTBOX"
	// PublicOutbox indicates that the reference is a publicly addressed activity
	// in the local actor's outbox.
	PublicOutbox ReferenceType = "PUBLIC_OUTBOX"
	// Like indicates that the reference is a Like activity on the local object.
	Like ReferenceType = "LIKE"
	// Liked indicates that the reference is an object that the local actor liked.
	Liked ReferenceType = "LIKED"
	// Share indicates that the reference is an Announce activity on the local object.
	Share ReferenceType = "SHARE"
	// Reply indicates that the reference is an object in reply to the local object.
	Reply ReferenceType = "REPLY"
	// Blocked indicates that the reference is an actor that the local actor has blocked.
	Blocked ReferenceType = "BLOCKED"
)

// Store defines the functions of an ActivityPub store.
type Store interface {
	ActorStore
	ObjectStore
	ActivityStore
	ReferenceStore
	DeliveryQueue
	CollectionStore
	BlobStore
}

// ActorStore stores local and cached remote actors.
type ActorStore interface {
	// PutActor stores the given actor.
	PutActor(actor *vocab.ActorType) error
	// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the
	// actor is not in the store.
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
	// DeleteActor deletes the actor with the given IRI.
	DeleteActor(actorIRI *url.URL) error
	// GetActors returns all stored actors in insertion order.
	GetActors() ([]*vocab.ActorType, error)
}

// ObjectStore stores ActivityPub objects (notes, articles, tombstones, etc.).
type ObjectStore interface {
	// PutObject stores the given object, replacing any previously stored object
	// with the same ID.
	PutObject(obj *vocab.ObjectType) error
	// GetObject returns the object for the given IRI or an ErrNotFound error if it
	// is not in the store.
	GetObject(objectIRI *url.URL) (*vocab.ObjectType, error)
	// DeleteObject deletes the object with the given IRI.
	DeleteObject(objectIRI *url.URL) error
	// QueryObjects returns the objects matching the given criteria.
	QueryObjects(query *Criteria, opts ...QueryOpt) (ObjectIterator, error)
}

// ActivityStore stores activities.
type ActivityStore interface {
	// AddActivity adds the given activity.
	AddActivity(activity *vocab.ActivityType) error
	// GetActivity returns the activity for the given IRI or an ErrNotFound error
	// if it wasn't found.
	GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error)
	// QueryActivities queries the store using the provided criteria and returns a
	// results iterator.
	QueryActivities(query *Criteria, opts ...QueryOpt) (ActivityIterator, error)
}

// ReferenceStore stores typed IRI edges.
type ReferenceStore interface {
	// AddReference adds the reference of the given type to the given object.
	AddReference(refType ReferenceType, objectIRI, referenceIRI *url.URL) error
	// DeleteReference deletes the reference of the given type from the given object.
	DeleteReference(refType ReferenceType, objectIRI, referenceIRI *url.URL) error
	// QueryReferences returns the references of the given type matching the given criteria.
	QueryReferences(refType ReferenceType, query *Criteria, opts ...QueryOpt) (ReferenceIterator, error)
}

// DeliveryStatus is the status of an item in the delivery queue.
type DeliveryStatus string

const (
	// DeliveryPending indicates that the item is waiting to be delivered.
	DeliveryPending DeliveryStatus = "PENDING"
	// DeliveryFailed indicates that the last delivery attempt failed and the item
	// is waiting to be retried.
	DeliveryFailed DeliveryStatus = "FAILED"
	// DeliveryProcessing indicates that a worker has claimed the item and is
	// attempting delivery.
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	// DeliveryDelivered indicates that the item was successfully delivered.
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	// DeliveryDead indicates that the item permanently failed and will not be retried.
	DeliveryDead DeliveryStatus = "DEAD"
)

// DeliveryItem is a queued outbound delivery of an activity to a single target inbox.
type DeliveryItem struct {
	ID          string
	ActivityIRI *url.URL
	Payload     []byte
	TargetInbox *url.URL
	Status      DeliveryStatus
	Attempts    int
	NotBefore   time.Time
	LastError   string
	CreatedTime time.Time
	UpdatedTime time.Time
}

// DeliveryQueue stores pending outbound deliveries.
type DeliveryQueue interface {
	// PutDeliveryItem stores the given item.
	PutDeliveryItem(item *DeliveryItem) error
	// GetDeliveryItem returns the item with the given ID or an ErrNotFound error.
	GetDeliveryItem(id string) (*DeliveryItem, error)
	// UpdateDeliveryItem updates the given item only if its stored status matches
	// expectedStatus, otherwise an ErrConflict error is returned.
	UpdateDeliveryItem(item *DeliveryItem, expectedStatus DeliveryStatus) error
	// QueryDeliveryItems returns items with the given status that are due at the
	// given time, in order of creation.
	QueryDeliveryItems(status DeliveryStatus, due time.Time) ([]*DeliveryItem, error)
	// DeleteDeliveryItems deletes items with the given status that were last updated
	// before the given time. Returns the number of items deleted.
	DeleteDeliveryItems(status DeliveryStatus, updatedBefore time.Time) (int, error)
}

// CollectionKind is the kind of a custom collection.
type CollectionKind string

const (
	// CollectionManual indicates that members are added and removed explicitly.
	CollectionManual CollectionKind = "MANUAL"
	// CollectionQuery indicates that members are computed from a query filter on read.
	CollectionQuery CollectionKind = "QUERY"
)

// CollectionVisibility controls who may read a custom collection.
type CollectionVisibility string

const (
	// VisibilityPublic indicates that the collection is readable by anyone and listed
	// in the owner's collection index.
	VisibilityPublic CollectionVisibility = "PUBLIC"
	// VisibilityUnlisted indicates that the collection is readable by anyone but not
	// listed in the owner's collection index.
	VisibilityUnlisted CollectionVisibility = "UNLISTED"
	// VisibilityPrivate indicates that the collection is readable only by its owner.
	VisibilityPrivate CollectionVisibility = "PRIVATE"
)

// CollectionSortOrder is the order in which the members of a custom collection
// are returned.
type CollectionSortOrder string

const (
	// SortChronological orders members by the published time of the member object,
	// newest first. Members whose objects are not stored locally sort last.
	SortChronological CollectionSortOrder = "CHRONOLOGICAL"
	// SortManual orders members by the time they were added to the collection.
	SortManual CollectionSortOrder = "MANUAL"
)

// QueryFilter selects stored objects for a query-kind custom collection.
type QueryFilter struct {
	// Tags matches objects carrying any of the given tag names.
	Tags []string
	// ObjectTypes matches objects of any of the given types.
	ObjectTypes []vocab.Type
	// HasAttachment, if set, matches objects with (true) or without (false) attachments.
	HasAttachment *bool
	// IsReply, if set, matches objects that are (true) or are not (false) replies.
	IsReply *bool
	// AfterDate matches objects published on or after the given time.
	AfterDate *time.Time
}

// CollectionDefinition describes a custom collection owned by a local actor.
type CollectionDefinition struct {
	OwnerIRI    *url.URL
	Slug        string
	DisplayName string
	Description string
	Kind        CollectionKind
	Visibility  CollectionVisibility
	SortOrder   CollectionSortOrder
	// MaxItems, if greater than zero, caps the number of members returned for this
	// collection, overriding the service-wide default.
	MaxItems int
	Filter   *QueryFilter
}

// CollectionStore stores custom collection definitions and manual memberships.
type CollectionStore interface {
	// PutCollectionDefinition stores the given definition, replacing any previous
	// definition with the same owner and slug.
	PutCollectionDefinition(def *CollectionDefinition) error
	// GetCollectionDefinition returns the definition for the given owner and slug or
	// an ErrNotFound error.
	GetCollectionDefinition(ownerIRI *url.URL, slug string) (*CollectionDefinition, error)
	// DeleteCollectionDefinition deletes the definition and its memberships.
	DeleteCollectionDefinition(ownerIRI *url.URL, slug string) error
	// GetCollectionDefinitions returns all definitions for the given owner in
	// insertion order.
	GetCollectionDefinitions(ownerIRI *url.URL) ([]*CollectionDefinition, error)
	// AddCollectionMember adds the given object to a manual collection.
	AddCollectionMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error
	// DeleteCollectionMember removes the given object from a manual collection.
	DeleteCollectionMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error
	// QueryCollectionMembers returns the members of a manual collection.
	QueryCollectionMembers(ownerIRI *url.URL, slug string, opts ...QueryOpt) (ReferenceIterator, error)
}

// Blob is a stored media payload.
type Blob struct {
	ID          string
	ContentType string
	Data        []byte
	CreatedTime time.Time
}

// BlobStore stores media payloads.
type BlobStore interface {
	// PutBlob stores the given blob.
	PutBlob(blob *Blob) error
	// GetBlob returns the blob with the given ID or an ErrNotFound error.
	GetBlob(id string) (*Blob, error)
	// DeleteBlob deletes the blob with the given ID.
	DeleteBlob(id string) error
}

// Criteria holds the search criteria for a query.
type Criteria struct {
	Types        []vocab.Type
	ObjectIRI    *url.URL
	ReferenceIRI *url.URL
}

// CriteriaOpt sets a Criteria option.
type CriteriaOpt func(q *Criteria)

// NewCriteria returns new Criteria which may be used to perform a query.
func NewCriteria(opts ...CriteriaOpt) *Criteria {
	q := &Criteria{}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// WithType sets the object Type on the criteria.
func WithType(t ...vocab.Type) CriteriaOpt {
	return func(query *Criteria) {
		query.Types = append(query.Types, t...)
	}
}

// WithObjectIRI sets the object IRI on the criteria. For reference queries this
// is the IRI that owns the references.
func WithObjectIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ObjectIRI = iri
	}
}

// WithReferenceIRI sets the reference IRI on the criteria. For reference queries
// only edges pointing at this IRI are returned.
func WithReferenceIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ReferenceIRI = iri
	}
}

// SortOrder specifies the sort order of query results.
type SortOrder int

const (
	// SortAscending indicates that results are sorted in ascending (oldest first) order.
	SortAscending SortOrder = iota
	// SortDescending indicates that results are sorted in descending (newest first) order.
	SortDescending
)

// QueryOptions holds the options for a query.
type QueryOptions struct {
	PageNumber int
	PageSize   int
	SortOrder  SortOrder
}

// QueryOpt sets a query option.
type QueryOpt func(options *QueryOptions)

// WithPageSize sets the page size.
func WithPageSize(pageSize int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageSize = pageSize
	}
}

// WithPageNum sets the page number.
func WithPageNum(pageNum int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageNumber = pageNum
	}
}

// WithSortOrder sets the sort order. The default is ascending.
func WithSortOrder(sortOrder SortOrder) QueryOpt {
	return func(options *QueryOptions) {
		options.SortOrder = sortOrder
	}
}

// ActivityIterator defines the query results iterator for activity queries.
type ActivityIterator interface {
	// TotalItems returns the total number of items matching the query.
	TotalItems() (int, error)
	// Next returns the next activity or an ErrNotFound error if there are no more items.
	Next() (*vocab.ActivityType, error)
	// Close closes the iterator.
	Close() error
}

// ObjectIterator defines the query results iterator for object queries.
type ObjectIterator interface {
	// TotalItems returns the total number of items matching the query.
	TotalItems() (int, error)
	// Next returns the next object or an ErrNotFound error if there are no more items.
	Next() (*vocab.ObjectType, error)
	// Close closes the iterator.
	Close() error
}

// ReferenceIterator defines the query results iterator for reference queries.
type ReferenceIterator interface {
	// TotalItems returns the total number of items matching the query.
	TotalItems() (int, error)
	// Next returns the next reference or an ErrNotFound error if there are no more items.
	Next() (*url.URL, error)
	// Close closes the iterator.
	Close() error
}
