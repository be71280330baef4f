/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	service "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
	"github.com/pollenhq/pollen/pkg/lifecycle"
	"github.com/pollenhq/pollen/pkg/pubsub/spi"
)

const (
	loggerModule = "activitypub_service"

	defaultSubscriberPoolSize = 5
)

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...spi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

// Config holds configuration parameters for the inbox.
type Config struct {
	ServiceName        string
	Topic              string
	SubscriberPoolSize int
}

// Inbox processes activities that were received from remote servers. A verified
// activity is queued along with the IRI of the local actor it is addressed to,
// and a pool of subscribers dispatches each message to the activity handler.
type Inbox struct {
	*Config
	*lifecycle.Lifecycle

	publisher       message.Publisher
	activityHandler service.ActivityHandler
	msgChan         <-chan *message.Message
	jsonMarshal     func(v interface{}) ([]byte, error)
	jsonUnmarshal   func(data []byte, v interface{}) error
	logger          *log.Log
}

// New returns a new ActivityPub Inbox.
func New(cnfg *Config, pubSub pubSub, activityHandler service.ActivityHandler) (*Inbox, error) {
	cfg := populateConfigDefaults(cnfg)

	logger := log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName)))

	msgChan, err := pubSub.SubscribeWithOpts(context.Background(), cfg.Topic, spi.WithPool(cfg.SubscriberPoolSize))
	if err != nil {
		return nil, err
	}

	h := &Inbox{
		Config:          &cfg,
		activityHandler: activityHandler,
		publisher:       pubSub,
		msgChan:         msgChan,
		jsonMarshal:     json.Marshal,
		jsonUnmarshal:   json.Unmarshal,
		logger:          logger,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	return h, nil
}

func (h *Inbox) start() {
	go h.listen()
}

func (h *Inbox) stop() {
	h.logger.Info("Inbox stopped")
}

func (h *Inbox) listen() {
	h.logger.Debug("Starting message listener")

	for msg := range h.msgChan {
		h.handle(msg)
	}

	h.logger.Debug("Message listener stopped")
}

type activityMessage struct {
	ActorIRI *vocab.URLProperty  `json:"actor"`
	Activity *vocab.ActivityType `json:"activity"`
}

// Dispatch queues the given activity for processing on behalf of the given local
// actor. The activity's signature is expected to have already been verified.
func (h *Inbox) Dispatch(actorIRI *url.URL, activity *vocab.ActivityType) error {
	if h.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	activityMsg := &activityMessage{
		ActorIRI: vocab.NewURLProperty(actorIRI),
		Activity: activity,
	}

	msgBytes, err := h.jsonMarshal(activityMsg)
	if err != nil {
		return pollenerrors.NewBadRequest(fmt.Errorf("marshal: %w", err))
	}

	msg := message.NewMessage(watermill.NewUUID(), msgBytes)

	h.logger.Debug("Publishing activity message to topic", logfields.WithMessageID(msg.UUID),
		logfields.WithActivityID(activity.ID()), logfields.WithActorIRI(actorIRI),
		logfields.WithTopic(h.Topic))

	if err := h.publisher.Publish(h.Topic, msg); err != nil {
		return pollenerrors.NewTransient(fmt.Errorf("publish to topic [%s]: %w", h.Topic, err))
	}

	return nil
}

func (h *Inbox) handle(msg *message.Message) {
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

func (h *Inbox) handleActivityMsg(msg *message.Message) (*vocab.ActivityType, error) {
	activityMsg := &activityMessage{}

	if err := h.jsonUnmarshal(msg.Payload, activityMsg); err != nil {
		return nil, fmt.Errorf("unmarshal activity message [%s]: %w", msg.UUID, err)
	}

	if activityMsg.Activity == nil {
		return nil, fmt.Errorf("no activity in message [%s]", msg.UUID)
	}

	actorIRI := activityMsg.ActorIRI.URL()
	if actorIRI == nil {
		return nil, fmt.Errorf("no recipient actor in message [%s]", msg.UUID)
	}

	h.logger.Debug("Handling activity message", logfields.WithMessageID(msg.UUID),
		logfields.WithActivityID(activityMsg.Activity.ID()), logfields.WithActorIRI(actorIRI))

	if err := h.activityHandler.HandleActivity(context.Background(), actorIRI, activityMsg.Activity); err != nil {
		return nil, fmt.Errorf("handle activity [%s]: %w", activityMsg.Activity.ID(), err)
	}

	return activityMsg.Activity, nil
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.SubscriberPoolSize == 0 {
		cfg.SubscriberPoolSize = defaultSubscriberPoolSize
	}

	return cfg
}
