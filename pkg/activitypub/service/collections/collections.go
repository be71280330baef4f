/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package collections

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

const (
	loggerModule = "activitypub_service"

	collectionsPathSegment = "/collections/"
)

// slugRegex validates a collection slug: lowercase alphanumerics, hyphens, and
// underscores, at most 64 characters, starting and ending with an alphanumeric.
var slugRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]{0,62}[a-z0-9])?$`)

// reservedSlugs are path segments that already have a meaning within an actor's
// namespace and therefore may not be used as collection slugs.
var reservedSlugs = map[string]struct{}{
	"inbox":       {},
	"outbox":      {},
	"followers":   {},
	"following":   {},
	"liked":       {},
	"likes":       {},
	"shares":      {},
	"collections": {},
	"endpoints":   {},
	"media":       {},
	"objects":     {},
}

// Config holds configuration parameters for the custom collection manager.
type Config struct {
	ServiceName string
	MaxItems    int
}

// Manager manages custom collections. A manual collection stores an explicit set
// of object IRIs; a query collection computes its members on read by evaluating
// a filter against the owner's stored objects.
type Manager struct {
	*Config

	activityStore store.Store
	logger        *log.Log
}

// New returns a new custom collection manager.
func New(cnfg *Config, s store.Store) *Manager {
	cfg := *cnfg

	return &Manager{
		Config:        &cfg,
		activityStore: s,
		logger:        log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}
}

// CreateDefinition validates and stores the given collection definition, replacing
// any previous definition with the same owner and slug.
func (m *Manager) CreateDefinition(def *store.CollectionDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	if err := m.activityStore.PutCollectionDefinition(def); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store collection definition: %w", err))
	}

	m.logger.Debug("Stored collection definition", logfields.WithActorIRI(def.OwnerIRI),
		logfields.WithCollectionSlug(def.Slug))

	return nil
}

// GetDefinition returns the definition of the given collection or a
// store.ErrNotFound error.
func (m *Manager) GetDefinition(ownerIRI *url.URL, slug string) (*store.CollectionDefinition, error) {
	return m.activityStore.GetCollectionDefinition(ownerIRI, slug)
}

// GetDefinitions returns all collection definitions of the given owner.
func (m *Manager) GetDefinitions(ownerIRI *url.URL) ([]*store.CollectionDefinition, error) {
	return m.activityStore.GetCollectionDefinitions(ownerIRI)
}

// DeleteDefinition deletes the given collection along with its memberships.
func (m *Manager) DeleteDefinition(ownerIRI *url.URL, slug string) error {
	return m.activityStore.DeleteCollectionDefinition(ownerIRI, slug)
}

// AddMember adds the given object to a manual collection. Adding to a query
// collection is a bad-request error since its members are computed on read.
func (m *Manager) AddMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	def, err := m.getManualDefinition(ownerIRI, slug)
	if err != nil {
		return err
	}

	if err := m.activityStore.AddCollectionMember(def.OwnerIRI, def.Slug, objectIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("add member to collection [%s]: %w", slug, err))
	}

	m.logger.Debug("Added member to collection", logfields.WithActorIRI(ownerIRI),
		logfields.WithCollectionSlug(slug), logfields.WithObjectIRI(objectIRI))

	return nil
}

// RemoveMember removes the given object from a manual collection.
func (m *Manager) RemoveMember(ownerIRI *url.URL, slug string, objectIRI *url.URL) error {
	def, err := m.getManualDefinition(ownerIRI, slug)
	if err != nil {
		return err
	}

	if err := m.activityStore.DeleteCollectionMember(def.OwnerIRI, def.Slug, objectIRI); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("remove member from collection [%s]: %w", slug, err))
	}

	m.logger.Debug("Removed member from collection", logfields.WithActorIRI(ownerIRI),
		logfields.WithCollectionSlug(slug), logfields.WithObjectIRI(objectIRI))

	return nil
}

// AddMemberByIRI adds the given object to the custom collection with the given IRI.
// The collection must be owned by the given actor.
func (m *Manager) AddMemberByIRI(actorIRI, collIRI, objectIRI *url.URL) error {
	slug, err := m.resolveSlug(actorIRI, collIRI)
	if err != nil {
		return err
	}

	return m.AddMember(actorIRI, slug, objectIRI)
}

// RemoveMemberByIRI removes the given object from the custom collection with the
// given IRI. The collection must be owned by the given actor.
func (m *Manager) RemoveMemberByIRI(actorIRI, collIRI, objectIRI *url.URL) error {
	slug, err := m.resolveSlug(actorIRI, collIRI)
	if err != nil {
		return err
	}

	return m.RemoveMember(actorIRI, slug, objectIRI)
}

// Items returns the members of the given collection. A manual collection returns
// its stored memberships in the definition's sort order; a query collection
// filters the owner's objects and returns them newest first.
func (m *Manager) Items(ownerIRI *url.URL, slug string) ([]*url.URL, error) {
	def, err := m.activityStore.GetCollectionDefinition(ownerIRI, slug)
	if err != nil {
		return nil, err
	}

	if def.Kind == store.CollectionQuery {
		return m.evaluateQuery(def)
	}

	it, err := m.activityStore.QueryCollectionMembers(ownerIRI, slug)
	if err != nil {
		return nil, fmt.Errorf("query members of collection [%s]: %w", slug, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			m.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	if def.SortOrder == store.SortManual {
		return storeutil.ReadReferences(it, m.maxItems(def))
	}

	refs, err := storeutil.ReadReferences(it, 0)
	if err != nil {
		return nil, err
	}

	return m.sortChronological(refs, m.maxItems(def)), nil
}

// maxItems returns the effective member cap of the given collection. A
// per-collection cap overrides the service-wide default.
func (m *Manager) maxItems(def *store.CollectionDefinition) int {
	if def.MaxItems > 0 {
		return def.MaxItems
	}

	return m.MaxItems
}

// sortChronological orders the given member IRIs by the published time of the
// member object, newest first. Members whose objects are not stored locally (or
// have no published time) retain their relative order after the dated ones.
func (m *Manager) sortChronological(refs []*url.URL, maxItems int) []*url.URL {
	published := make(map[string]*time.Time, len(refs))

	for _, ref := range refs {
		obj, err := m.activityStore.GetObject(ref)
		if err != nil {
			continue
		}

		published[ref.String()] = obj.Published()
	}

	sort.SliceStable(refs, func(i, j int) bool {
		pi, pj := published[refs[i].String()], published[refs[j].String()]

		if pi == nil || pj == nil {
			return pj == nil && pi != nil
		}

		return pi.After(*pj)
	})

	if maxItems > 0 && len(refs) > maxItems {
		refs = refs[:maxItems]
	}

	return refs
}

func (m *Manager) getManualDefinition(ownerIRI *url.URL, slug string) (*store.CollectionDefinition, error) {
	def, err := m.activityStore.GetCollectionDefinition(ownerIRI, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pollenerrors.NewBadRequestf("collection [%s] does not exist", slug)
		}

		return nil, pollenerrors.NewTransient(fmt.Errorf("retrieve collection definition [%s]: %w", slug, err))
	}

	if def.Kind != store.CollectionManual {
		return nil, pollenerrors.NewBadRequestf("members cannot be explicitly added to or removed from "+
			"query collection [%s]", slug)
	}

	return def, nil
}

func (m *Manager) resolveSlug(actorIRI, collIRI *url.URL) (string, error) {
	prefix := actorIRI.String() + collectionsPathSegment

	if !strings.HasPrefix(collIRI.String(), prefix) {
		return "", pollenerrors.NewBadRequestf("collection [%s] is not owned by actor [%s]", collIRI, actorIRI)
	}

	slug := strings.TrimPrefix(collIRI.String(), prefix)
	if !isValidSlug(slug) {
		return "", pollenerrors.NewBadRequestf("invalid collection slug [%s]", slug)
	}

	return slug, nil
}

// evaluateQuery returns the IRIs of the owner's stored objects that match the
// collection's filter, newest first.
func (m *Manager) evaluateQuery(def *store.CollectionDefinition) ([]*url.URL, error) {
	it, err := m.activityStore.QueryObjects(store.NewCriteria(store.WithObjectIRI(def.OwnerIRI)))
	if err != nil {
		return nil, fmt.Errorf("query objects of [%s]: %w", def.OwnerIRI, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			m.logger.Warn("Error closing object iterator", log.WithError(err))
		}
	}()

	var matches []*vocab.ObjectType

	for {
		obj, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}

			return nil, fmt.Errorf("iterate objects of [%s]: %w", def.OwnerIRI, err)
		}

		if matchesFilter(obj, def.Filter) {
			matches = append(matches, obj)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := matches[i].Published(), matches[j].Published()

		if pi == nil || pj == nil {
			return pj == nil && pi != nil
		}

		return pi.After(*pj)
	})

	maxItems := m.maxItems(def)

	items := make([]*url.URL, 0, len(matches))

	for _, obj := range matches {
		if maxItems > 0 && len(items) >= maxItems {
			break
		}

		items = append(items, obj.ID().URL())
	}

	return items, nil
}

func matchesFilter(obj *vocab.ObjectType, filter *store.QueryFilter) bool {
	if filter == nil {
		return false
	}

	if len(filter.Tags) > 0 && !hasAnyTag(obj, filter.Tags) {
		return false
	}

	if len(filter.ObjectTypes) > 0 && !obj.Type().IsAny(filter.ObjectTypes...) {
		return false
	}

	if filter.HasAttachment != nil && (len(obj.Attachment()) > 0) != *filter.HasAttachment {
		return false
	}

	if filter.IsReply != nil && (obj.InReplyTo().URL() != nil) != *filter.IsReply {
		return false
	}

	if filter.AfterDate != nil && (obj.Published() == nil || obj.Published().Before(*filter.AfterDate)) {
		return false
	}

	return true
}

func hasAnyTag(obj *vocab.ObjectType, tags []string) bool {
	for _, tag := range obj.Tag() {
		for _, name := range tags {
			if strings.EqualFold(tag.Name(), name) {
				return true
			}
		}
	}

	return false
}

func validateDefinition(def *store.CollectionDefinition) error {
	if def.OwnerIRI == nil {
		return pollenerrors.NewBadRequestf("no owner specified for collection")
	}

	if !isValidSlug(def.Slug) {
		return pollenerrors.NewBadRequestf("invalid collection slug [%s]", def.Slug)
	}

	switch def.Kind {
	case store.CollectionManual:
		if def.Filter != nil {
			return pollenerrors.NewBadRequestf("a manual collection must not specify a filter")
		}
	case store.CollectionQuery:
		if def.Filter == nil {
			return pollenerrors.NewBadRequestf("a query collection must specify a filter")
		}
	default:
		return pollenerrors.NewBadRequestf("unsupported collection kind [%s]", def.Kind)
	}

	switch def.Visibility {
	case store.VisibilityPublic, store.VisibilityUnlisted, store.VisibilityPrivate:
	case "":
		def.Visibility = store.VisibilityPublic
	default:
		return pollenerrors.NewBadRequestf("unsupported collection visibility [%s]", def.Visibility)
	}

	switch def.SortOrder {
	case store.SortChronological, store.SortManual:
	case "":
		def.SortOrder = store.SortChronological
	default:
		return pollenerrors.NewBadRequestf("unsupported collection sort order [%s]", def.SortOrder)
	}

	if def.MaxItems < 0 {
		return pollenerrors.NewBadRequestf("collection maxItems must not be negative")
	}

	return nil
}

func isValidSlug(slug string) bool {
	if !slugRegex.MatchString(slug) {
		return false
	}

	_, reserved := reservedSlugs[slug]

	return !reserved
}
