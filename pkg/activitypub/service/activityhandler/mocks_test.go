/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

type mockOutbox struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
	err        error
}

func (m *mockOutbox) Start() {}

func (m *mockOutbox) Stop() {}

func (m *mockOutbox) State() service.State { return service.StateStarted }

func (m *mockOutbox) Post(_ context.Context, activity *vocab.ActivityType) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.mutex.Lock()
	m.activities = append(m.activities, activity)
	m.mutex.Unlock()

	return vocab.MustParseURL("https://pollen1.example.com/activities/accept-100-1"), nil
}

func (m *mockOutbox) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.activities
}

type mockActorClient struct {
	actors map[string]*vocab.ActorType
	err    error
}

func newMockActorClient(actors ...*vocab.ActorType) *mockActorClient {
	m := &mockActorClient{actors: make(map[string]*vocab.ActorType)}

	for _, actor := range actors {
		m.actors[actor.ID().String()] = actor
	}

	return m
}

func (m *mockActorClient) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	if m.err != nil {
		return nil, m.err
	}

	actor, ok := m.actors[iri.String()]
	if !ok {
		return nil, fmt.Errorf("actor not found: %s", iri)
	}

	return actor, nil
}

type mockCollectionManager struct {
	mutex   sync.Mutex
	added   []string
	removed []string
	err     error
}

func (m *mockCollectionManager) AddMemberByIRI(_, collIRI, objectIRI *url.URL) error {
	if m.err != nil {
		return m.err
	}

	m.mutex.Lock()
	m.added = append(m.added, collIRI.String()+"|"+objectIRI.String())
	m.mutex.Unlock()

	return nil
}

func (m *mockCollectionManager) RemoveMemberByIRI(_, collIRI, objectIRI *url.URL) error {
	if m.err != nil {
		return m.err
	}

	m.mutex.Lock()
	m.removed = append(m.removed, collIRI.String()+"|"+objectIRI.String())
	m.mutex.Unlock()

	return nil
}

type mockAdminHandler struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
}

func (m *mockAdminHandler) HandleAdminActivity(_ context.Context, activity *vocab.ActivityType) error {
	m.mutex.Lock()
	m.activities = append(m.activities, activity)
	m.mutex.Unlock()

	return nil
}

type rejectAllActorsAuth struct{}

func (a *rejectAllActorsAuth) AuthorizeActor(*vocab.ActorType) (bool, error) {
	return false, nil
}
