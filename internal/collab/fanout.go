package collab

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coscribe/pkg/logger"
)

// Fanout relays events published in this process to peer processes serving
// the same documents. The in-process Registry stays authoritative for local
// delivery; a fanout only widens the audience.
type Fanout interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

const fanoutChannelPattern = "coscribe.doc.*"

// fanoutEnvelope tags each relayed event with the process that published it
// so a process never re-delivers its own events.
type fanoutEnvelope struct {
	ProcessID string `json:"process_id"`
	Event     Event  `json:"event"`
}

// RedisFanout backs the Broadcast Channel with Redis Pub/Sub so presence and
// content events reach sessions connected to other processes. One Redis
// channel per document keeps the per-document FIFO guarantee: Redis delivers
// a channel's messages to each subscriber in publish order, and a single
// reader goroutine injects them locally in that order.
//
// Relayed presence events also feed the tracker, so the roster a session
// gets on open covers sessions on every process, not just this one.
type RedisFanout struct {
	client    *redis.Client
	reg       *Registry
	tracker   *Tracker
	processID string
	sub       *redis.PubSub
}

// NewRedisFanout connects to Redis, wires itself into reg, and starts
// relaying. The caller owns client lifetime beyond Close.
func NewRedisFanout(ctx context.Context, client *redis.Client, reg *Registry, tracker *Tracker) (*RedisFanout, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	f := &RedisFanout{
		client:    client,
		reg:       reg,
		tracker:   tracker,
		processID: uuid.NewString(),
	}
	f.sub = client.PSubscribe(ctx, fanoutChannelPattern)
	reg.SetFanout(f)

	go f.readLoop()
	return f, nil
}

func (f *RedisFanout) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(fanoutEnvelope{ProcessID: f.processID, Event: ev})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, "coscribe.doc."+ev.DocID, payload).Err()
}

func (f *RedisFanout) readLoop() {
	for msg := range f.sub.Channel() {
		var env fanoutEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logger.Sugar.Errorf("fanout: bad payload on %s: %v", msg.Channel, err)
			continue
		}
		if env.ProcessID == f.processID {
			continue
		}
		applyRemote(f.reg, f.tracker, env.Event)
	}
}

func (f *RedisFanout) Close() error {
	return f.sub.Close()
}

// applyRemote folds one relayed event into local state: presence deltas
// update the tracker's remote mirror, then everything except liveness
// traffic is delivered to local subscribers.
func applyRemote(reg *Registry, tracker *Tracker, ev Event) {
	switch ev.Type {
	case EventPresenceJoined:
		if ev.Entry != nil {
			tracker.applyRemoteJoin(*ev.Entry)
		}
	case EventPresenceLeft:
		tracker.applyRemoteLeave(ev.DocID, ev.OriginSessionID)
	case EventPresenceHeartbeat:
		if ev.Entry != nil {
			tracker.applyRemoteHeartbeat(*ev.Entry)
		}
		return
	}
	reg.injectRemote(ev)
}
