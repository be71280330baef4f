/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apstore "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	"github.com/pollenhq/pollen/pkg/lifecycle"
)

var logger = log.New("nodeinfo")

type stats struct {
	Users    int
	Posts    int
	Comments int
}

func (s *stats) String() string {
	return fmt.Sprintf("Users: %d, Posts: %d, Comments: %d", s.Users, s.Posts, s.Comments)
}

// Service periodically polls the activity store and produces NodeInfo data.
type Service struct {
	*lifecycle.Lifecycle

	done     chan struct{}
	interval time.Duration
	apStore  apstore.Store
	stats    *stats
	mutex    sync.RWMutex
}

// NewService returns a new NodeInfo service that refreshes its usage statistics
// at the given interval.
func NewService(refreshInterval time.Duration, apStore apstore.Store) *Service {
	r := &Service{
		apStore:  apStore,
		done:     make(chan struct{}),
		interval: refreshInterval,
		stats:    &stats{},
	}

	r.Lifecycle = lifecycle.New("nodeinfo",
		lifecycle.WithStart(r.start),
		lifecycle.WithStop(r.stop))

	return r
}

// GetNodeInfo returns a NodeInfo struct compatible with the given version.
func (r *Service) GetNodeInfo(version Version) *NodeInfo {
	var repository string

	if version == V2_1 {
		repository = pollenRepository
	}

	r.mutex.RLock()

	stats := r.stats

	r.mutex.RUnlock()

	return &NodeInfo{
		Version:   version,
		Protocols: []string{activityPubProtocol},
		Software: Software{
			Name:       "Pollen",
			Version:    ServerVersion,
			Repository: repository,
		},
		Services: Services{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage: Usage{
			Users: Users{
				Total: stats.Users,
			},
			LocalPosts:    stats.Posts,
			LocalComments: stats.Comments,
		},
	}
}

func (r *Service) start() {
	go r.refresh()

	logger.Info("Started NodeInfo service")
}

func (r *Service) stop() {
	close(r.done)

	logger.Info("Stopped NodeInfo service")
}

func (r *Service) refresh() {
	for {
		select {
		case <-time.After(r.interval):
			if err := r.updateStats(); err != nil {
				logger.Warn("Error updating stats", log.WithError(err))
			}
		case <-r.done:
			logger.Debug("Exiting stats retriever.")

			return
		}
	}
}

func (r *Service) updateStats() error {
	actors, err := r.apStore.GetActors()
	if err != nil {
		return fmt.Errorf("get local actors: %w", err)
	}

	s := &stats{Users: len(actors)}

	for _, actor := range actors {
		if err := r.addOutboxStats(actor, s); err != nil {
			return err
		}
	}

	logger.Debug("Updated stats", logfields.WithPayload([]byte(s.String())))

	r.mutex.Lock()

	r.stats = s

	r.mutex.Unlock()

	return nil
}

func (r *Service) addOutboxStats(actor *vocab.ActorType, s *stats) error {
	it, err := r.apStore.QueryReferences(apstore.Outbox,
		apstore.NewCriteria(apstore.WithObjectIRI(actor.ID().URL())))
	if err != nil {
		return fmt.Errorf("query outbox of %s: %w", actor.ID(), err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	for {
		ref, err := it.Next()
		if err != nil {
			if errors.Is(err, apstore.ErrNotFound) {
				return nil
			}

			return fmt.Errorf("iterate outbox of %s: %w", actor.ID(), err)
		}

		activity, err := r.apStore.GetActivity(ref)
		if err != nil {
			if errors.Is(err, apstore.ErrNotFound) {
				continue
			}

			return fmt.Errorf("get activity [%s]: %w", ref, err)
		}

		switch {
		case activity.Type().Is(vocab.TypeCreate):
			s.Posts++
		case activity.Type().Is(vocab.TypeLike):
			s.Comments++
		}
	}
}
