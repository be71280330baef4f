/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/pollenhq/pollen/pkg/activitypub/service/activityhandler"
	"github.com/pollenhq/pollen/pkg/activitypub/service/inbox"
	"github.com/pollenhq/pollen/pkg/activitypub/service/outbox"
	"github.com/pollenhq/pollen/pkg/activitypub/service/sharedinbox"
	"github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	pubsubspi "github.com/pollenhq/pollen/pkg/pubsub/spi"
)

const (
	inboxActivitiesTopic  = "inbox-activities"
	outboxActivitiesTopic = "outbox-activities"
)

// PubSub defines the functions for a publisher/subscriber.
type PubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...pubsubspi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type metricsProvider interface {
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
}

// Config holds the configuration parameters for an ActivityPub service.
type Config struct {
	ServiceName               string
	BaseURL                   *url.URL
	SystemActorIRI            *url.URL
	MaxRecipients             int
	ActivityHandlerBufferSize int
	SubscriberPoolSize        int
}

// Service implements an ActivityPub service which has an inbox, an outbox, a
// shared inbox router and handlers for the various ActivityPub activities.
type Service struct {
	*lifecycle.Lifecycle

	inbox         *inbox.Inbox
	outbox        *outbox.Outbox
	sharedInbox   *sharedinbox.Router
	inboxHandler  spi.ActivityHandler
	outboxHandler spi.ActivityHandler
}

// New returns a new ActivityPub service.
func New(cfg *Config, activityStore store.Store, pubSub PubSub, apClient activityPubClient,
	metrics metricsProvider, handlerOpts ...spi.HandlerOpt) (*Service, error) {
	outboxHandler := activityhandler.NewOutbox(
		&activityhandler.Config{
			ServiceName:    cfg.ServiceName,
			BaseURL:        cfg.BaseURL,
			SystemActorIRI: cfg.SystemActorIRI,
			BufferSize:     cfg.ActivityHandlerBufferSize,
		},
		activityStore, apClient, handlerOpts...)

	ob, err := outbox.New(
		&outbox.Config{
			ServiceName:        cfg.ServiceName,
			BaseURL:            cfg.BaseURL,
			Topic:              outboxActivitiesTopic,
			MaxRecipients:      cfg.MaxRecipients,
			SubscriberPoolSize: cfg.SubscriberPoolSize,
		},
		activityStore, pubSub, outboxHandler, apClient, metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox failed: %w", err)
	}

	inboxHandler := activityhandler.NewInbox(
		&activityhandler.Config{
			ServiceName:    cfg.ServiceName,
			BaseURL:        cfg.BaseURL,
			SystemActorIRI: cfg.SystemActorIRI,
			BufferSize:     cfg.ActivityHandlerBufferSize,
		},
		activityStore, ob, apClient, handlerOpts...)

	ib, err := inbox.New(
		&inbox.Config{
			ServiceName:        cfg.ServiceName,
			Topic:              inboxActivitiesTopic,
			SubscriberPoolSize: cfg.SubscriberPoolSize,
		},
		pubSub, inboxHandler,
	)
	if err != nil {
		return nil, fmt.Errorf("create inbox failed: %w", err)
	}

	s := &Service{
		inbox:  ib,
		outbox: ob,
		sharedInbox: sharedinbox.New(
			&sharedinbox.Config{
				ServiceName:   cfg.ServiceName,
				BaseURL:       cfg.BaseURL,
				MaxRecipients: cfg.MaxRecipients,
			},
			activityStore, ib,
		),
		inboxHandler:  inboxHandler,
		outboxHandler: outboxHandler,
	}

	s.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop),
	)

	return s, nil
}

func (s *Service) start() {
	s.inboxHandler.Start()
	s.outboxHandler.Start()
	s.inbox.Start()
	s.outbox.Start()
}

func (s *Service) stop() {
	s.outbox.Stop()
	s.inbox.Stop()
	s.outboxHandler.Stop()
	s.inboxHandler.Stop()
}

// Outbox returns the outbox, which allows local actors to post activities.
func (s *Service) Outbox() spi.Outbox {
	return s.outbox
}

// InboxDispatcher returns the dispatcher that queues verified inbound activities
// for processing on behalf of a local actor.
func (s *Service) InboxDispatcher() *inbox.Inbox {
	return s.inbox
}

// SharedInboxRouter returns the router that fans out activities posted to the
// shared inbox.
func (s *Service) SharedInboxRouter() *sharedinbox.Router {
	return s.sharedInbox
}

// Subscribe allows a client to receive activities that were processed by the inbox.
func (s *Service) Subscribe() <-chan *vocab.ActivityType {
	return s.inboxHandler.Subscribe()
}
