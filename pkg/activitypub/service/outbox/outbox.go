/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	store "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/storeutil"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	"github.com/pollenhq/pollen/pkg/pubsub/spi"
)

const (
	loggerModule = "activitypub_service"

	followersPathSuffix = "/followers"

	defaultMaxConcurrentResolves = 10
	defaultCacheSize             = 100
	defaultCacheExpiration       = time.Minute
	defaultSubscriberPoolSize    = 5
)

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...spi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

// Config holds configuration parameters for the outbox.
type Config struct {
	ServiceName           string
	BaseURL               *url.URL
	Topic                 string
	MaxRecipients         int
	MaxConcurrentResolves int
	CacheSize             int
	CacheExpiration       time.Duration
	SubscriberPoolSize    int
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type metricsProvider interface {
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
}

// Outbox posts activities on behalf of local actors. An activity is assigned an ID,
// stored, applied locally and then queued for delivery to the inbox of each
// resolved recipient.
type Outbox struct {
	*Config
	*lifecycle.Lifecycle

	publisher       message.Publisher
	activityHandler service.ActivityHandler
	msgChan         <-chan *message.Message
	activityStore   store.Store
	client          activityPubClient
	jsonMarshal     func(v interface{}) ([]byte, error)
	jsonUnmarshal   func(data []byte, v interface{}) error
	inboxCache      gcache.Cache
	metrics         metricsProvider
	idCounter       uint64
	logger          *log.Log
}

// New returns a new ActivityPub Outbox.
func New(cnfg *Config, s store.Store, pubSub pubSub, activityHandler service.ActivityHandler,
	apClient activityPubClient, metrics metricsProvider) (*Outbox, error) {
	cfg := populateConfigDefaults(cnfg)

	logger := log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName)))

	msgChan, err := pubSub.SubscribeWithOpts(context.Background(), cfg.Topic, spi.WithPool(cfg.SubscriberPoolSize))
	if err != nil {
		return nil, err
	}

	h := &Outbox{
		Config:          &cfg,
		activityHandler: activityHandler,
		activityStore:   s,
		client:          apClient,
		publisher:       pubSub,
		msgChan:         msgChan,
		jsonMarshal:     json.Marshal,
		jsonUnmarshal:   json.Unmarshal,
		metrics:         metrics,
		logger:          logger,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	h.inboxCache = gcache.New(cfg.CacheSize).ARC().
		Expiration(cfg.CacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return h.resolveInbox(i.(*url.URL)) //nolint:forcetypeassert
		}).Build()

	return h, nil
}

func (h *Outbox) start() {
	go h.listen()
}

func (h *Outbox) stop() {
	h.logger.Info("Outbox stopped")
}

func (h *Outbox) listen() {
	h.logger.Debug("Starting message listener")

	for msg := range h.msgChan {
		h.handle(msg)
	}

	h.logger.Debug("Message listener stopped")
}

type messageType string

const (
	broadcastType         messageType = "broadcast"
	resolveAndEnqueueType messageType = "resolve-and-enqueue"
)

type activityMessage struct {
	Type      messageType         `json:"type"`
	ActorIRI  *vocab.URLProperty  `json:"actor"`
	Activity  *vocab.ActivityType `json:"activity"`
	TargetIRI *vocab.URLProperty  `json:"target,omitempty"`
}

// Post posts an activity to the outbox and returns the ID of the activity that was
// posted. If the activity does not specify an ID then a unique ID is generated. The
// actor of the activity must resolve to a local actor.
func (h *Outbox) Post(_ context.Context, activity *vocab.ActivityType) (*url.URL, error) {
	if h.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	h.incrementCount(activity.Type().Types())

	startTime := time.Now()
	defer func() {
		h.metrics.OutboxPostTime(time.Since(startTime))
	}()

	activity, err := h.validateAndPopulateActivity(activity)
	if err != nil {
		return nil, err
	}

	if err := h.publishBroadcastMessage(activity); err != nil {
		return nil, fmt.Errorf("publish activity message [%s]: %w", activity.ID(), err)
	}

	return activity.ID().URL(), nil
}

func (h *Outbox) handle(msg *message.Message) {
	activity, err := h.handleActivityMsg(msg)
	if err != nil {
		if pollenerrors.IsTransient(err) {
			h.logger.Warn("Transient error handling message. Message will be retried.",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			msg.Nack()
		} else {
			h.logger.Warn("Persistent error handling message. Message will be ignored.",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			msg.Ack()
		}
	} else {
		h.logger.Debug("Acking activity message", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(activity.ID()))

		msg.Ack()
	}
}

func (h *Outbox) handleActivityMsg(msg *message.Message) (*vocab.ActivityType, error) {
	activityMsg := &activityMessage{}

	if err := h.jsonUnmarshal(msg.Payload, activityMsg); err != nil {
		return nil, fmt.Errorf("unmarshal activity message [%s]: %w", msg.UUID, err)
	}

	switch activityMsg.Type {
	case broadcastType:
		h.logger.Debug("Handling 'broadcast' activity message",
			logfields.WithMessageID(msg.UUID), logfields.WithActivityID(activityMsg.Activity.ID()))

		if err := h.handleBroadcast(activityMsg.ActorIRI.URL(), activityMsg.Activity); err != nil {
			return nil, fmt.Errorf("handle 'broadcast' message for activity [%s]: %w",
				activityMsg.Activity.ID(), err)
		}

		return activityMsg.Activity, nil

	case resolveAndEnqueueType:
		h.logger.Debug("Handling 'resolve-and-enqueue' activity message", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(activityMsg.Activity.ID()), logfields.WithTargetIRI(activityMsg.TargetIRI.URL()))

		if err := h.handleResolveAndEnqueue(activityMsg.Activity, activityMsg.TargetIRI.URL()); err != nil {
			return nil, fmt.Errorf("handle 'resolve-and-enqueue' message for activity [%s] to [%s]: %w",
				activityMsg.Activity.ID(), activityMsg.TargetIRI, err)
		}

		return activityMsg.Activity, nil

	default:
		return nil, fmt.Errorf("unsupported activity message type [%s]", activityMsg.Type)
	}
}

func (h *Outbox) handleBroadcast(actorIRI *url.URL, activity *vocab.ActivityType) error {
	h.logger.Debug("Handling broadcast for activity", logfields.WithActivityID(activity.ID()),
		logfields.WithActorIRI(actorIRI))

	if err := h.storeActivity(actorIRI, activity); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}

	if err := h.activityHandler.HandleActivity(context.Background(), actorIRI, activity); err != nil {
		return fmt.Errorf("handle activity: %w", err)
	}

	recipients, err := h.expandRecipients(actorIRI, activity.AllRecipients())
	if err != nil {
		return fmt.Errorf("expand recipients of activity [%s]: %w", activity.ID(), err)
	}

	payload, err := h.jsonMarshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity [%s]: %w", activity.ID(), err)
	}

	responses := h.resolveInboxes(recipients)

	sharedCount := make(map[string]int)

	for _, r := range responses {
		if r.err == nil && r.inboxes.sharedInbox != nil {
			sharedCount[r.inboxes.sharedInbox.String()]++
		}
	}

	enqueued := make(map[string]struct{})

	for _, r := range responses {
		switch {
		case r.err == nil:
			inbox := r.inboxes.inbox

			// The shared inbox is used only when two or more recipients are behind
			// it. A single recipient gets the activity in its personal inbox.
			if shared := r.inboxes.sharedInbox; shared != nil && sharedCount[shared.String()] > 1 {
				inbox = shared
			}

			if _, ok := enqueued[inbox.String()]; ok {
				// Multiple recipients share this inbox.
				continue
			}

			enqueued[inbox.String()] = struct{}{}

			if err := h.enqueue(activity, payload, inbox); err != nil {
				return fmt.Errorf("enqueue delivery of activity [%s] to inbox [%s]: %w",
					activity.ID(), inbox, err)
			}
		case pollenerrors.IsTransient(r.err):
			h.logger.Warn("Transient error resolving inbox. IRI will be retried.",
				logfields.WithTargetIRI(r.iri), log.WithError(r.err))

			if err := h.publishResolveAndEnqueueMessage(activity, r.iri); err != nil {
				return fmt.Errorf("publish 'resolve-and-enqueue' message for %s: %w", r.iri, err)
			}
		default:
			h.logger.Error("Persistent error resolving inbox. IRI will be ignored.",
				log.WithError(r.err), logfields.WithTargetIRI(r.iri))
		}
	}

	return nil
}

func (h *Outbox) handleResolveAndEnqueue(activity *vocab.ActivityType, targetIRI *url.URL) error {
	inboxes, err := h.doResolveInbox(targetIRI)
	if err != nil {
		return fmt.Errorf("resolve inbox of [%s]: %w", targetIRI, err)
	}

	payload, err := h.jsonMarshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity [%s]: %w", activity.ID(), err)
	}

	return h.enqueue(activity, payload, inboxes.inbox)
}

func (h *Outbox) storeActivity(actorIRI *url.URL, activity *vocab.ActivityType) error {
	if err := h.activityStore.AddActivity(activity); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}

	if err := h.activityStore.AddReference(store.Outbox, actorIRI, activity.ID().URL()); err != nil {
		return fmt.Errorf("add outbox reference to activity: %w", err)
	}

	if isPublic(activity) {
		if err := h.activityStore.AddReference(store.PublicOutbox, actorIRI, activity.ID().URL()); err != nil {
			return fmt.Errorf("add public outbox reference to activity: %w", err)
		}
	}

	return nil
}

// expandRecipients returns the set of actor IRIs that the activity should be delivered
// to. The public IRI and the posting actor are dropped, and the actor's own followers
// collection is expanded from storage.
func (h *Outbox) expandRecipients(actorIRI *url.URL, toIRIs []*url.URL) ([]*url.URL, error) {
	followersIRI := actorIRI.String() + followersPathSuffix

	m := make(map[string]struct{})

	var recipients []*url.URL

	add := func(iri *url.URL) {
		if iri.String() == actorIRI.String() {
			return
		}

		if _, exists := m[iri.String()]; !exists {
			m[iri.String()] = struct{}{}

			recipients = append(recipients, iri)
		}
	}

	for _, iri := range toIRIs {
		switch iri.String() {
		case vocab.PublicIRI:
			// The public IRI is not a deliverable recipient.
		case followersIRI:
			followers, err := h.loadFollowers(actorIRI)
			if err != nil {
				return nil, err
			}

			for _, follower := range followers {
				add(follower)
			}
		default:
			add(iri)
		}
	}

	return recipients, nil
}

func (h *Outbox) loadFollowers(actorIRI *url.URL) ([]*url.URL, error) {
	it, err := h.activityStore.QueryReferences(store.Follower,
		store.NewCriteria(store.WithObjectIRI(actorIRI)))
	if err != nil {
		return nil, fmt.Errorf("query followers of %s: %w", actorIRI, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing reference iterator", log.WithError(err))
		}
	}()

	refs, err := storeutil.ReadReferences(it, h.MaxRecipients)
	if err != nil {
		return nil, fmt.Errorf("read followers of %s: %w", actorIRI, err)
	}

	h.logger.Debug("Loaded followers from storage", logfields.WithActorIRI(actorIRI),
		zap.Int("num-followers", len(refs)))

	return refs, nil
}

type actorInboxes struct {
	inbox       *url.URL
	sharedInbox *url.URL
}

type resolveInboxResponse struct {
	iri     *url.URL
	inboxes *actorInboxes
	err     error
}

// resolveInboxes resolves the inbox of each of the given actors. The requests are
// performed in parallel, up to a maximum specified by MaxConcurrentResolves.
func (h *Outbox) resolveInboxes(actorIRIs []*url.URL) []*resolveInboxResponse {
	startTime := time.Now()

	defer func() {
		h.metrics.OutboxResolveInboxesTime(time.Since(startTime))
	}()

	var (
		responses []*resolveInboxResponse
		mutex     sync.Mutex
		wg        sync.WaitGroup
	)

	resolveChan := make(chan *url.URL, len(actorIRIs))

	for _, iri := range actorIRIs {
		resolveChan <- iri
	}

	close(resolveChan)

	wg.Add(h.MaxConcurrentResolves)

	for i := 0; i < h.MaxConcurrentResolves; i++ {
		go func() {
			defer wg.Done()

			for iri := range resolveChan {
				inboxes, err := h.doResolveInbox(iri)

				mutex.Lock()
				responses = append(responses, &resolveInboxResponse{iri: iri, inboxes: inboxes, err: err})
				mutex.Unlock()
			}
		}()
	}

	wg.Wait()

	return responses
}

func (h *Outbox) doResolveInbox(iri *url.URL) (*actorInboxes, error) {
	result, err := h.inboxCache.Get(iri)
	if err != nil {
		return nil, err
	}

	return result.(*actorInboxes), nil //nolint:forcetypeassert
}

func (h *Outbox) resolveInbox(iri *url.URL) (*actorInboxes, error) {
	h.logger.Debug("Retrieving actor", logfields.WithActorIRI(iri))

	actor, err := h.client.GetActor(iri)
	if err != nil {
		return nil, err
	}

	inboxes := &actorInboxes{inbox: actor.Inbox(), sharedInbox: actor.SharedInbox()}

	if inboxes.inbox == nil {
		if inboxes.sharedInbox == nil {
			return nil, fmt.Errorf("actor [%s] does not specify an inbox", iri)
		}

		inboxes.inbox = inboxes.sharedInbox
	}

	return inboxes, nil
}

func (h *Outbox) enqueue(activity *vocab.ActivityType, payload []byte, inbox *url.URL) error {
	now := time.Now()

	item := &store.DeliveryItem{
		ID:          uuid.New().String(),
		ActivityIRI: activity.ID().URL(),
		Payload:     payload,
		TargetInbox: inbox,
		Status:      store.DeliveryPending,
		NotBefore:   now,
		CreatedTime: now,
		UpdatedTime: now,
	}

	if err := h.activityStore.PutDeliveryItem(item); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("store delivery item: %w", err))
	}

	h.logger.Debug("Queued activity for delivery", logfields.WithActivityID(activity.ID()),
		logfields.WithInboxURL(inbox), logfields.WithTaskID(item.ID))

	return nil
}

func (h *Outbox) publishBroadcastMessage(activity *vocab.ActivityType) error {
	activityMsg := &activityMessage{
		Type:     broadcastType,
		ActorIRI: vocab.NewURLProperty(activity.Actor()),
		Activity: activity,
	}

	msgBytes, err := h.jsonMarshal(activityMsg)
	if err != nil {
		return pollenerrors.NewBadRequest(fmt.Errorf("marshal: %w", err))
	}

	msg := message.NewMessage(watermill.NewUUID(), msgBytes)

	h.logger.Debug("Publishing activity message to topic", logfields.WithMessageID(msg.UUID),
		logfields.WithActivityID(activity.ID()), logfields.WithTopic(h.Topic))

	return h.publisher.Publish(h.Topic, msg)
}

func (h *Outbox) publishResolveAndEnqueueMessage(activity *vocab.ActivityType, targetIRI *url.URL) error {
	activityMsg := &activityMessage{
		Type:      resolveAndEnqueueType,
		ActorIRI:  vocab.NewURLProperty(activity.Actor()),
		Activity:  activity,
		TargetIRI: vocab.NewURLProperty(targetIRI),
	}

	msgBytes, err := h.jsonMarshal(activityMsg)
	if err != nil {
		return pollenerrors.NewBadRequest(fmt.Errorf("marshal: %w", err))
	}

	msg := message.NewMessage(watermill.NewUUID(), msgBytes)

	h.logger.Debug("Publishing 'resolve-and-enqueue' activity message to topic",
		logfields.WithMessageID(msg.UUID), logfields.WithActivityID(activity.ID()), logfields.WithTopic(h.Topic))

	return h.publisher.Publish(h.Topic, msg)
}

func (h *Outbox) newActivityID(t *vocab.TypeProperty) *url.URL {
	id, err := url.Parse(fmt.Sprintf("%s/activities/%s-%d-%d", h.BaseURL,
		strings.ToLower(t.String()), time.Now().Unix(), atomic.AddUint64(&h.idCounter, 1)))
	if err != nil {
		// Should never happen since the base URL has already been validated.
		panic(err)
	}

	return id
}

func (h *Outbox) validateAndPopulateActivity(activity *vocab.ActivityType) (*vocab.ActivityType, error) {
	if activity.Actor() == nil {
		return nil, pollenerrors.NewBadRequest(fmt.Errorf("no actor specified in activity"))
	}

	_, err := h.activityStore.GetActor(activity.Actor())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pollenerrors.NewBadRequestf("actor [%s] is not a local actor", activity.Actor())
		}

		return nil, pollenerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", activity.Actor(), err))
	}

	if activity.ID() == nil {
		activity.SetID(h.newActivityID(activity.Type()))
	}

	if activity.Published() == nil {
		now := time.Now()

		activity.SetPublished(&now)
	}

	return activity, nil
}

func (h *Outbox) incrementCount(types []vocab.Type) {
	for _, activityType := range types {
		h.metrics.OutboxIncrementActivityCount(string(activityType))
	}
}

func isPublic(activity *vocab.ActivityType) bool {
	for _, iri := range activity.AllRecipients() {
		if iri.String() == vocab.PublicIRI {
			return true
		}
	}

	return false
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.MaxConcurrentResolves <= 0 {
		cfg.MaxConcurrentResolves = defaultMaxConcurrentResolves
	}

	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}

	if cfg.CacheExpiration == 0 {
		cfg.CacheExpiration = defaultCacheExpiration
	}

	if cfg.SubscriberPoolSize == 0 {
		cfg.SubscriberPoolSize = defaultSubscriberPoolSize
	}

	return cfg
}
