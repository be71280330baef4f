/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

var logger = log.New("activitypub_memstore")

// Store implements an in-memory ActivityPub store.
type Store struct {
	serviceName     string
	actors          *actorStore
	objects         *objectStore
	activities      *activityStore
	referenceStores map[spi.ReferenceType]*referenceStore
	deliveries      *deliveryStore
	collections     *collectionStore
	blobs           *blobStore
}

// New returns a new in-memory ActivityPub store.
func New(serviceName string) *Store {
	return &Store{
		serviceName: serviceName,
		actors:      newActorStore(),
		objects:     newObjectStore(),
		activities:  newActivityStore(),
		referenceStores: map[spi.ReferenceType]*referenceStore{
			spi.Follower:     newReferenceStore(),
			spi.Following:    newReferenceStore(),
			spi.Inbox:        newReferenceStore(),
			spi.Outbox:       newReferenceStore(),
			spi.PublicOutbox: newReferenceStore(),
			spi.Like:         newReferenceStore(),
			spi.Liked:        newReferenceStore(),
			spi.Share:        newReferenceStore(),
			spi.Reply:        newReferenceStore(),
			spi.Blocked:      newReferenceStore(),
		},
		deliveries:  newDeliveryStore(),
		collections: newCollectionStore(),
		blobs:       newBlobStore(),
	}
}

// PutActor stores the given actor.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	logger.Debug("Storing actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(actor.ID()))

	return s.actors.put(actor)
}

// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the
// actor is not in the store.
func (s *Store) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	logger.Debug("Retrieving actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(actorIRI))

	return s.actors.get(actorIRI)
}

// DeleteActor deletes the actor with the given IRI.
func (s *Store) DeleteActor(actorIRI *url.URL) error {
	logger.Debug("Deleting actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(actorIRI))

	return s.actors.delete(actorIRI)
}

// GetActors returns all stored actors in insertion order.
func (s *Store) GetActors() ([]*vocab.ActorType, error) {
	return s.actors.getAll(), nil
}

// PutObject stores the given object.
func (s *Store) PutObject(obj *vocab.ObjectType) error {
	logger.Debug("Storing object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(obj.ID()))

	return s.objects.put(obj)
}

// GetObject returns the object for the given IRI or an ErrNotFound error if it
// is not in the store.
func (s *Store) GetObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	logger.Debug("Retrieving object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(objectIRI))

	return s.objects.get(objectIRI)
}

// DeleteObject deletes the object with the given IRI.
func (s *Store) DeleteObject(objectIRI *url.URL) error {
	logger.Debug("Deleting object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(objectIRI))

	return s.objects.delete(objectIRI)
}

// QueryObjects returns the objects matching the given criteria.
func (s *Store) QueryObjects(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ObjectIterator, error) {
	logger.Debug("Querying objects", logfields.WithServiceName(s.serviceName), logfields.WithQuery(query))

	return s.objects.query(query, opts...)
}

// AddActivity adds the given activity.
func (s *Store) AddActivity(activity *vocab.ActivityType) error {
	logger.Debug("Storing activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityType(activity.Type().String()), logfields.WithActivityID(activity.ID()))

	return s.activities.add(activity)
}

// GetActivity returns the activity for the given IRI or an ErrNotFound error
// if it wasn't found.
func (s *Store) GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error) {
	logger.Debug("Retrieving activity", logfields.WithServiceName(s.serviceName), logfields.WithActivityID(activityIRI))

	return s.activities.get(activityIRI)
}

// QueryActivities queries the store using the provided criteria and returns a
// results iterator.
func (s *Store) QueryActivities(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	logger.Debug("Querying activities", logfields.WithServiceName(s.serviceName), logfields.WithQuery(query))

	return s.activities.query(query, opts...)
}

// AddReference adds the reference of the given type to the given object.
func (s *Store) AddReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Adding reference", logfields.WithServiceName(s.serviceName),
		logfields.WithReferenceType(string(refType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	refStore, err := s.referenceStore(refType)
	if err != nil {
		return err
	}

	return refStore.add(objectIRI, referenceIRI)
}

// DeleteReference deletes the reference of the given type from the given object.
func (s *Store) DeleteReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Deleting reference", logfields.WithServiceName(s.serviceName),
		logfields.WithReferenceType(string(refType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	refStore, err := s.referenceStore(refType)
	if err != nil {
		return err
	}

	return refStore.delete(objectIRI, referenceIRI)
}

// QueryReferences returns the references of the given type matching the given criteria.
func (s *Store) QueryReferences(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	logger.Debug("Querying references", logfields.WithServiceName(s.serviceName),
		logfields.WithReferenceType(string(refType)), logfields.WithQuery(query))

	refStore, err := s.referenceStore(refType)
	if err != nil {
		return nil, err
	}

	return refStore.query(query, opts...)
}

func (s *Store) referenceStore(refType spi.ReferenceType) (*referenceStore, error) {
	refStore, ok := s.referenceStores[refType]
	if !ok {
		return nil, fmt.Errorf("unsupported reference type [%s]", refType)
	}

	return refStore, nil
}

// PutDeliveryItem stores the given item.
func (s *Store) PutDeliveryItem(item *spi.DeliveryItem) error {
	logger.Debug("Storing delivery item", logfields.WithServiceName(s.serviceName),
		logfields.WithTaskID(item.ID), logfields.WithDeliveryStatus(string(item.Status)))

	return s.deliveries.put(item)
}

// GetDeliveryItem returns the item with the given ID or an ErrNotFound error.
func (s *Store) GetDeliveryItem(id string) (*spi.DeliveryItem, error) {
	return s.deliveries.get(id)
}

// UpdateDeliveryItem updates the given item only if its stored status matches
// expectedStatus, otherwise an ErrConflict error is returned.
func (s *Store) UpdateDeliveryItem(item *spi.DeliveryItem, expectedStatus spi.DeliveryStatus) error {
	logger.Debug("Updating delivery item", logfields.WithServiceName(s.serviceName),
		logfields.WithTaskID(item.ID), logfields.WithDeliveryStatus(string(item.Status)))

	return s.deliveries.update(item, expectedStatus)
}

// QueryDeliveryItems returns items with the given status that are due at the
// given time, in order of creation.
func (s *Store) QueryDeliveryItems(status spi.DeliveryStatus, due time.Time) ([]*spi.DeliveryItem, error) {
	return s.deliveries.query(status, due), nil
}

// DeleteDeliveryItems deletes items with the given status that were last updated
// before the given time.
func (s *Store) DeleteDeliveryItems(status spi.DeliveryStatus, updatedBefore time.Time) (int, error) {
	return s.deliveries.deleteWhere(status, updatedBefore), nil
}

// PutCollectionDefinition stores the given definition.
func (s *Store) PutCollectionDefinition(def *spi.CollectionDefinition) error {
	logger.Debug("Storing collection definition", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(def.OwnerIRI), logfields.WithCollectionSlug(def.Slug))

	return s.collections.putDefinition(def)
}

// GetCollectionDefinition returns the definition for the given owner and slug or
// an ErrNotFound error.
func (s *Store) GetCollectionDefinition(ownerIRI *url.URL, slug string) (*spi.CollectionDefinition, error) {
	return s.collections.getDefinition(ownerIRI, slug)
}

// DeleteCollectionDefinition deletes the definition and its memberships.
func (s *Store) DeleteCollectionDefinition(ownerIRI *url.URL, slug string) error {
	logger.Debug("Deleting collection definition", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(ownerIRI), logfields.WithCollectionSlug(slug))

	return s.collections.deleteDefinition(ownerIRI, slug)
}

// GetCollectionDefinitions returns all definitions for the given owner in insertion order.
func (s *Store) GetCollectionDefinitions(ownerIRI *url.URL) ([]*spi.CollectionDefinition, error) {
	return s.collections.getDefinitions(ownerIRI), nil
}

// AddCollectionMember adds the given object to a manual collection.
func (s *Store) AddCollectionMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	logger.Debug("Adding collection member", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(ownerIRI), logfields.WithCollectionSlug(slug), logfields.WithObjectIRI(objectIRI))

	return s.collections.addMember(ownerIRI, slug, objectIRI)
}

// DeleteCollectionMember removes the given object from a manual collection.
func (s *Store) DeleteCollectionMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	logger.Debug("Deleting collection member", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(ownerIRI), logfields.WithCollectionSlug(slug), logfields.WithObjectIRI(objectIRI))

	return s.collections.deleteMember(ownerIRI, slug, objectIRI)
}

// QueryCollectionMembers returns the members of a manual collection.
func (s *Store) QueryCollectionMembers(ownerIRI *url.URL, slug string,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	return s.collections.queryMembers(ownerIRI, slug, opts...)
}

// PutBlob stores the given blob.
func (s *Store) PutBlob(blob *spi.Blob) error {
	logger.Debug("Storing blob", logfields.WithServiceName(s.serviceName), logfields.WithTaskID(blob.ID),
		logfields.WithSize(len(blob.Data)))

	return s.blobs.put(blob)
}

// GetBlob returns the blob with the given ID or an ErrNotFound error.
func (s *Store) GetBlob(id string) (*spi.Blob, error) {
	return s.blobs.get(id)
}

// DeleteBlob deletes the blob with the given ID.
func (s *Store) DeleteBlob(id string) error {
	return s.blobs.delete(id)
}

type actorStore struct {
	mutex    sync.RWMutex
	actors   []*vocab.ActorType
	actorIDs map[string]int
}

func newActorStore() *actorStore {
	return &actorStore{
		actorIDs: make(map[string]int),
	}
}

func (s *actorStore) put(actor *vocab.ActorType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := actor.ID().String()

	if idx, ok := s.actorIDs[id]; ok {
		s.actors[idx] = actor

		return nil
	}

	s.actorIDs[id] = len(s.actors)
	s.actors = append(s.actors, actor)

	return nil
}

func (s *actorStore) get(actorIRI *url.URL) (*vocab.ActorType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	idx, ok := s.actorIDs[actorIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return s.actors[idx], nil
}

func (s *actorStore) delete(actorIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	idx, ok := s.actorIDs[actorIRI.String()]
	if !ok {
		return spi.ErrNotFound
	}

	delete(s.actorIDs, actorIRI.String())

	s.actors = append(s.actors[0:idx], s.actors[idx+1:]...)

	for id, i := range s.actorIDs {
		if i > idx {
			s.actorIDs[id] = i - 1
		}
	}

	return nil
}

func (s *actorStore) getAll() []*vocab.ActorType {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	actors := make([]*vocab.ActorType, len(s.actors))
	copy(actors, s.actors)

	return actors
}

type objectStore struct {
	mutex      sync.RWMutex
	objects    []*vocab.ObjectType
	objectIDs  map[string]int
}

func newObjectStore() *objectStore {
	return &objectStore{
		objectIDs: make(map[string]int),
	}
}

func (s *objectStore) put(obj *vocab.ObjectType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := obj.ID().String()

	if idx, ok := s.objectIDs[id]; ok {
		s.objects[idx] = obj

		return nil
	}

	s.objectIDs[id] = len(s.objects)
	s.objects = append(s.objects, obj)

	return nil
}

func (s *objectStore) get(objectIRI *url.URL) (*vocab.ObjectType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	idx, ok := s.objectIDs[objectIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return s.objects[idx], nil
}

func (s *objectStore) delete(objectIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	idx, ok := s.objectIDs[objectIRI.String()]
	if !ok {
		return spi.ErrNotFound
	}

	delete(s.objectIDs, objectIRI.String())

	s.objects = append(s.objects[0:idx], s.objects[idx+1:]...)

	for id, i := range s.objectIDs {
		if i > idx {
			s.objectIDs[id] = i - 1
		}
	}

	return nil
}

func (s *objectStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ObjectIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	results, totalItems := objectQueryResults(s.objects).filter(query, opts...)

	return NewObjectIterator(results, totalItems), nil
}

type activityStore struct {
	mutex        sync.RWMutex
	activities   []*vocab.ActivityType
	activityByID map[string]*vocab.ActivityType
}

func newActivityStore() *activityStore {
	return &activityStore{
		activityByID: make(map[string]*vocab.ActivityType),
	}
}

func (s *activityStore) add(activity *vocab.ActivityType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.activities = append(s.activities, activity)
	s.activityByID[activity.ID().String()] = activity

	return nil
}

func (s *activityStore) get(activityIRI *url.URL) (*vocab.ActivityType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.activityByID[activityIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

func (s *activityStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	results, totalItems := activityQueryResults(s.activities).filter(query, opts...)

	return NewActivityIterator(results, totalItems), nil
}

type referenceStore struct {
	mutex        sync.RWMutex
	irisByOwner  map[string][]*url.URL
	ownersInsOrd []string
}

func newReferenceStore() *referenceStore {
	return &referenceStore{
		irisByOwner: make(map[string][]*url.URL),
	}
}

func (s *referenceStore) add(owner fmt.Stringer, iri *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ownerID := owner.String()

	if _, ok := s.irisByOwner[ownerID]; !ok {
		s.ownersInsOrd = append(s.ownersInsOrd, ownerID)
	}

	for _, existing := range s.irisByOwner[ownerID] {
		if existing.String() == iri.String() {
			return nil
		}
	}

	s.irisByOwner[ownerID] = append(s.irisByOwner[ownerID], iri)

	return nil
}

func (s *referenceStore) delete(owner, iri fmt.Stringer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	irisForOwner := s.irisByOwner[owner.String()]

	for idx, i := range irisForOwner {
		if i.String() == iri.String() {
			s.irisByOwner[owner.String()] = append(irisForOwner[0:idx], irisForOwner[idx+1:]...)

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *referenceStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var refs []*url.URL

	if query != nil && query.ObjectIRI != nil {
		refs = s.irisByOwner[query.ObjectIRI.String()]
	} else {
		for _, ownerID := range s.ownersInsOrd {
			refs = append(refs, s.irisByOwner[ownerID]...)
		}
	}

	if query != nil && query.ReferenceIRI != nil {
		var filtered []*url.URL

		for _, ref := range refs {
			if ref.String() == query.ReferenceIRI.String() {
				filtered = append(filtered, ref)
			}
		}

		refs = filtered
	}

	results, totalItems := refQueryResults(refs).filter(opts...)

	return NewReferenceIterator(results, totalItems), nil
}

type deliveryStore struct {
	mutex       sync.RWMutex
	items       []*spi.DeliveryItem
	itemsByID   map[string]*spi.DeliveryItem
}

func newDeliveryStore() *deliveryStore {
	return &deliveryStore{
		itemsByID: make(map[string]*spi.DeliveryItem),
	}
}

func (s *deliveryStore) put(item *spi.DeliveryItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	itemCopy := *item

	if existing, ok := s.itemsByID[item.ID]; ok {
		*existing = itemCopy

		return nil
	}

	s.items = append(s.items, &itemCopy)
	s.itemsByID[item.ID] = &itemCopy

	return nil
}

func (s *deliveryStore) get(id string) (*spi.DeliveryItem, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	item, ok := s.itemsByID[id]
	if !ok {
		return nil, spi.ErrNotFound
	}

	itemCopy := *item

	return &itemCopy, nil
}

func (s *deliveryStore) update(item *spi.DeliveryItem, expectedStatus spi.DeliveryStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, ok := s.itemsByID[item.ID]
	if !ok {
		return spi.ErrNotFound
	}

	if existing.Status != expectedStatus {
		return spi.ErrConflict
	}

	*existing = *item

	return nil
}

func (s *deliveryStore) query(status spi.DeliveryStatus, due time.Time) []*spi.DeliveryItem {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*spi.DeliveryItem

	for _, item := range s.items {
		if item.Status == status && !item.NotBefore.After(due) {
			itemCopy := *item

			results = append(results, &itemCopy)
		}
	}

	return results
}

func (s *deliveryStore) deleteWhere(status spi.DeliveryStatus, updatedBefore time.Time) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var remaining []*spi.DeliveryItem

	deleted := 0

	for _, item := range s.items {
		if item.Status == status && item.UpdatedTime.Before(updatedBefore) {
			delete(s.itemsByID, item.ID)

			deleted++

			continue
		}

		remaining = append(remaining, item)
	}

	s.items = remaining

	return deleted
}

type collectionStore struct {
	mutex          sync.RWMutex
	defsByOwner    map[string][]*spi.CollectionDefinition
	membersByColl  map[string][]*url.URL
}

func newCollectionStore() *collectionStore {
	return &collectionStore{
		defsByOwner:   make(map[string][]*spi.CollectionDefinition),
		membersByColl: make(map[string][]*url.URL),
	}
}

func collKey(ownerIRI fmt.Stringer, slug string) string {
	return ownerIRI.String() + "|" + slug
}

func (s *collectionStore) putDefinition(def *spi.CollectionDefinition) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ownerID := def.OwnerIRI.String()

	defCopy := *def

	for idx, existing := range s.defsByOwner[ownerID] {
		if existing.Slug == def.Slug {
			s.defsByOwner[ownerID][idx] = &defCopy

			return nil
		}
	}

	s.defsByOwner[ownerID] = append(s.defsByOwner[ownerID], &defCopy)

	return nil
}

func (s *collectionStore) getDefinition(ownerIRI *url.URL, slug string) (*spi.CollectionDefinition, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, def := range s.defsByOwner[ownerIRI.String()] {
		if def.Slug == slug {
			defCopy := *def

			return &defCopy, nil
		}
	}

	return nil, spi.ErrNotFound
}

func (s *collectionStore) deleteDefinition(ownerIRI *url.URL, slug string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ownerID := ownerIRI.String()

	for idx, def := range s.defsByOwner[ownerID] {
		if def.Slug == slug {
			s.defsByOwner[ownerID] = append(s.defsByOwner[ownerID][0:idx], s.defsByOwner[ownerID][idx+1:]...)

			delete(s.membersByColl, collKey(ownerIRI, slug))

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *collectionStore) getDefinitions(ownerIRI *url.URL) []*spi.CollectionDefinition {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	defs := make([]*spi.CollectionDefinition, 0, len(s.defsByOwner[ownerIRI.String()]))

	for _, def := range s.defsByOwner[ownerIRI.String()] {
		defCopy := *def

		defs = append(defs, &defCopy)
	}

	return defs
}

func (s *collectionStore) addMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := collKey(ownerIRI, slug)

	for _, member := range s.membersByColl[key] {
		if member.String() == objectIRI.String() {
			return nil
		}
	}

	s.membersByColl[key] = append(s.membersByColl[key], objectIRI)

	return nil
}

func (s *collectionStore) deleteMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := collKey(ownerIRI, slug)

	for idx, member := range s.membersByColl[key] {
		if member.String() == objectIRI.String() {
			s.membersByColl[key] = append(s.membersByColl[key][0:idx], s.membersByColl[key][idx+1:]...)

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *collectionStore) queryMembers(ownerIRI *url.URL, slug string,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	results, totalItems := refQueryResults(s.membersByColl[collKey(ownerIRI, slug)]).filter(opts...)

	return NewReferenceIterator(results, totalItems), nil
}

type blobStore struct {
	mutex sync.RWMutex
	blobs map[string]*spi.Blob
}

func newBlobStore() *blobStore {
	return &blobStore{
		blobs: make(map[string]*spi.Blob),
	}
}

func (s *blobStore) put(blob *spi.Blob) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	blobCopy := *blob

	s.blobs[blob.ID] = &blobCopy

	return nil
}

func (s *blobStore) get(id string) (*spi.Blob, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	blob, ok := s.blobs[id]
	if !ok {
		return nil, spi.ErrNotFound
	}

	blobCopy := *blob

	return &blobCopy, nil
}

func (s *blobStore) delete(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return spi.ErrNotFound
	}

	delete(s.blobs, id)

	return nil
}

type activityQueryFilter struct {
	*spi.Criteria
}

func newQueryFilter(query *spi.Criteria) *activityQueryFilter {
	return &activityQueryFilter{
		Criteria: query,
	}
}

func (q *activityQueryFilter) apply(activities []*vocab.ActivityType) []*vocab.ActivityType {
	var results []*vocab.ActivityType

	for _, a := range activities {
		if len(q.Types) > 0 && !a.Type().IsAny(q.Types...) {
			continue
		}

		if q.ObjectIRI != nil {
			objIRI := a.Object().ID()
			if objIRI == nil || objIRI.String() != q.ObjectIRI.String() {
				continue
			}
		}

		results = append(results, a)
	}

	return results
}

type activityQueryResults []*vocab.ActivityType

func (r activityQueryResults) filter(query *spi.Criteria, opts ...spi.QueryOpt) ([]*vocab.ActivityType, int) {
	if query == nil {
		query = &spi.Criteria{}
	}

	results := newQueryFilter(query).apply(r)

	options := storeutil.GetQueryOptions(opts...)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(len(results), options)
	if startIdx == -1 {
		return nil, len(results)
	}

	return results[startIdx:], len(results)
}

type objectQueryResults []*vocab.ObjectType

func (r objectQueryResults) filter(query *spi.Criteria, opts ...spi.QueryOpt) ([]*vocab.ObjectType, int) {
	var results []*vocab.ObjectType

	for _, obj := range r {
		if query != nil && len(query.Types) > 0 && !obj.Type().IsAny(query.Types...) {
			continue
		}

		if query != nil && query.ObjectIRI != nil {
			attributedTo := obj.AttributedTo()
			if attributedTo == nil || attributedTo.String() != query.ObjectIRI.String() {
				continue
			}
		}

		results = append(results, obj)
	}

	options := storeutil.GetQueryOptions(opts...)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(len(results), options)
	if startIdx == -1 {
		return nil, len(results)
	}

	return results[startIdx:], len(results)
}

type refQueryResults []*url.URL

func (r refQueryResults) filter(opts ...spi.QueryOpt) ([]*url.URL, int) {
	results := make([]*url.URL, len(r))
	copy(results, r)

	options := storeutil.GetQueryOptions(opts...)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(len(results), options)
	if startIdx == -1 {
		return nil, len(results)
	}

	return results[startIdx:], len(results)
}

func getFirstPageNum(totalItems, pageSize int) int {
	if totalItems%pageSize > 0 {
		return totalItems / pageSize
	}

	return totalItems/pageSize - 1
}

func getStartIndex(totalItems int, options *spi.QueryOptions) int {
	if options.PageSize <= 0 {
		return 0
	}

	startIdx := startIndex(totalItems, options)
	if startIdx < 0 || startIdx >= totalItems {
		return -1
	}

	return startIdx
}

func startIndex(totalItems int, options *spi.QueryOptions) int {
	if options.PageNumber < 0 {
		return 0
	}

	if options.SortOrder == spi.SortAscending {
		return options.PageNumber * options.PageSize
	}

	return (getFirstPageNum(totalItems, options.PageSize) - options.PageNumber) * options.PageSize
}

func reverseSort(results interface{}) {
	sort.SliceStable(results, func(i, j int) bool { return i > j }) //nolint:gocritic
}
