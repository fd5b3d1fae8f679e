// Package relay bridges the in-process change bus of several service
// instances through redis pub/sub so a dispatcher connected to one instance
// sees the writes made through another.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/bus"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

const outboxSize = 1024

// Relay forwards locally published events to redis and republishes events
// from other instances on the local bus
type Relay struct {
	client  redis.UniversalClient
	bus     *bus.Bus
	prefix  string
	origin  string
	outbox  chan models.Event
	inbound func(models.Event)

	dropped atomic.Uint64
}

// Option configures a Relay
type Option func(*Relay)

// WithInbound registers a callback run for every event received from another
// instance, before it is republished locally
func WithInbound(fn func(models.Event)) Option {
	return func(r *Relay) {
		r.inbound = fn
	}
}

// New creates a relay and hooks it onto b. Nothing is sent or received until
// Run is called.
func New(client redis.UniversalClient, b *bus.Bus, prefix string, opts ...Option) *Relay {
	r := &Relay{
		client: client,
		bus:    b,
		prefix: strings.TrimSuffix(prefix, ":"),
		origin: uuid.NewString(),
		outbox: make(chan models.Event, outboxSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	b.OnPublish(r.forward)
	return r
}

// Origin identifies this instance on the wire
func (r *Relay) Origin() string {
	return r.origin
}

// Dropped returns how many local events could not be queued for redis
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Relay) channel(agencyID string) string {
	return r.prefix + ":" + agencyID
}

// forward runs as a bus hook and must not block
func (r *Relay) forward(ev models.Event) {
	if ev.Origin != "" || ev.Kind == models.ChangeResync {
		return
	}
	ev.Origin = r.origin
	select {
	case r.outbox <- ev:
	default:
		r.dropped.Add(1)
		zap.S().Warnw("relay outbox full, dropping event", "agency", ev.AgencyID, "call", ev.CallID, "seq", ev.Seq)
	}
}

// Run publishes queued local events and consumes remote ones until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.channel("*"))
	defer func() {
		if err := pubsub.Close(); err != nil {
			zap.S().Warnw("failed to close pubsub", "error", err)
		}
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel("*"), err)
	}
	zap.S().Infow("redis relay is running", "pattern", r.channel("*"), "origin", r.origin)

	msgCh := pubsub.Channel()
	for {
		select {
		case ev := <-r.outbox:
			if err := r.publish(ctx, ev); err != nil {
				zap.S().Errorw("failed to relay event", "agency", ev.AgencyID, "call", ev.CallID, "error", err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				zap.S().Warn("pubsub channel closed by redis")
				return nil
			}
			if err := r.handleMessage(msg.Payload); err != nil {
				zap.S().Errorw("error handling relayed message", "channel", msg.Channel, "error", err)
			}
		case <-ctx.Done():
			zap.S().Info("shutting down redis relay")
			return nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev models.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(ev.AgencyID), payload).Err()
}

func (r *Relay) handleMessage(payload string) error {
	ev, err := Decode(payload)
	if err != nil {
		return err
	}
	if ev.Origin == r.origin {
		return nil
	}
	if r.inbound != nil {
		r.inbound(ev)
	}
	r.bus.Publish(ev.AgencyID, ev)
	return nil
}

// Encode serializes an event for the wire
func Encode(ev models.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Decode parses and checks a relayed event
func Decode(payload string) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch {
	case ev.AgencyID == "":
		return models.Event{}, fmt.Errorf("decode event: missing agency")
	case ev.Origin == "":
		return models.Event{}, fmt.Errorf("decode event: missing origin")
	case (ev.Kind == models.ChangeCreated || ev.Kind == models.ChangeUpdated) && ev.Call == nil:
		return models.Event{}, fmt.Errorf("decode event: %s without call", ev.Kind)
	case ev.Kind == models.ChangeDeleted && ev.CallID == "":
		return models.Event{}, fmt.Errorf("decode event: deleted without call id")
	case ev.Kind != models.ChangeCreated && ev.Kind != models.ChangeUpdated && ev.Kind != models.ChangeDeleted:
		return models.Event{}, fmt.Errorf("decode event: unexpected kind %q", ev.Kind)
	}
	return ev, nil
}
