package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DomainEvent is emitted by the CRUD services when a user acts on another
// user's content.
type DomainEvent struct {
	Type        string `json:"type"`
	SenderId    int    `json:"sender_id"`
	RecipientId int    `json:"recipient_id"`
	PostId      *int   `json:"post_id,omitempty"`
}

type ConsumerConfig struct {
	URL     string
	Subject string
	Queue   string
}

// EventConsumer feeds domain events from NATS into the notification
// service. Instances sharing a queue group split the stream between them.
type EventConsumer struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	service *Service
	log     *zap.Logger
	timeout time.Duration
}

func NewEventConsumer(cfg ConsumerConfig, service *Service, logger *zap.Logger) (*EventConsumer, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("skillnest-realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	c := &EventConsumer{
		nc:      nc,
		service: service,
		log:     logger.Named("events"),
		timeout: 10 * time.Second,
	}

	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.Queue, func(msg *nats.Msg) {
		c.handle(msg.Data)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}
	c.sub = sub

	c.log.Info("consuming domain events",
		zap.String("subject", cfg.Subject),
		zap.String("queue", cfg.Queue),
	)
	return c, nil
}

func (c *EventConsumer) handle(data []byte) {
	var ev DomainEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn("dropping malformed domain event", zap.Error(err))
		return
	}
	if !ValidType(ev.Type) || ev.RecipientId <= 0 {
		c.log.Warn("dropping invalid domain event",
			zap.String("type", ev.Type),
			zap.Int("recipient_id", ev.RecipientId),
		)
		return
	}
	if ev.SenderId == ev.RecipientId {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.service.Notify(ctx, ev.SenderId, ev.RecipientId, ev.Type, ev.PostId); err != nil {
		c.log.Error("notify from domain event failed", zap.Error(err))
	}
}

// Close drains pending messages and disconnects.
func (c *EventConsumer) Close() error {
	if c == nil || c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}
