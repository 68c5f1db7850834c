package collab

import (
	"context"
	"sync"
	"time"

	"coscribe/pkg/logger"
)

const subscriberQueueSize = 64

// DeliverFunc receives events for one subscription, in publish order. A
// non-nil error marks the subscriber as disconnected: it is unsubscribed and
// the registry's failure callback fires, but delivery to other subscribers
// is unaffected.
type DeliverFunc func(Event) error

// Subscription is a live handle on a document channel.
type Subscription struct {
	DocID     string
	SessionID string

	reg   *Registry
	fn    DeliverFunc
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// docChannel owns the subscriber list for one document. Channels are created
// on first subscribe and torn down after a grace period at zero subscribers.
type docChannel struct {
	docID    string
	subs     map[string]*Subscription
	teardown *time.Timer
}

// Registry is the per-process lookup table of document channels. All
// channel state is guarded by mu; enqueueing under the lock is what gives
// each channel its total publish order.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*docChannel
	grace    time.Duration
	fanout   Fanout

	// onDeliveryFailure is invoked (on its own goroutine) after a subscriber
	// errored or fell too far behind and was dropped.
	onDeliveryFailure func(docID, sessionID string)
}

// NewRegistry creates a channel registry. grace is how long an empty channel
// lingers before it is destroyed.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		channels: make(map[string]*docChannel),
		grace:    grace,
	}
}

// SetFanout attaches a cross-process fan-out transport. Must be called
// before any Publish.
func (r *Registry) SetFanout(f Fanout) { r.fanout = f }

// SetDeliveryFailureFunc registers the hook run when a subscriber is dropped
// mid-delivery. Must be called before any Subscribe.
func (r *Registry) SetDeliveryFailureFunc(fn func(docID, sessionID string)) {
	r.onDeliveryFailure = fn
}

// Subscribe opens a subscription for sessionID on docID's channel. Only
// events published after this call are delivered. fn runs on a dedicated
// goroutine per subscription so a slow subscriber never blocks its peers.
func (r *Registry) Subscribe(docID, sessionID string, fn DeliverFunc) *Subscription {
	sub := &Subscription{
		DocID:     docID,
		SessionID: sessionID,
		reg:       r,
		fn:        fn,
		queue:     make(chan Event, subscriberQueueSize),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	ch := r.channels[docID]
	if ch == nil {
		ch = &docChannel{docID: docID, subs: make(map[string]*Subscription)}
		r.channels[docID] = ch
	}
	if ch.teardown != nil {
		ch.teardown.Stop()
		ch.teardown = nil
	}
	ch.subs[sessionID] = sub
	r.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish delivers ev to every subscriber of ev.DocID except its origin
// session. Publishing on a channel with no subscribers is a no-op.
func (r *Registry) Publish(ctx context.Context, ev Event) {
	r.deliverLocal(ev)
	if r.fanout != nil {
		if err := r.fanout.Publish(ctx, ev); err != nil {
			logger.Sugar.Errorf("fanout publish failed for doc %s: %v", ev.DocID, err)
		}
	}
}

// relay hands an event to the fan-out without delivering it locally. Used
// for liveness traffic that peer processes need but local subscribers do not.
func (r *Registry) relay(ctx context.Context, ev Event) {
	if r.fanout == nil {
		return
	}
	if err := r.fanout.Publish(ctx, ev); err != nil {
		logger.Sugar.Errorf("fanout relay failed for doc %s: %v", ev.DocID, err)
	}
}

// injectRemote delivers an event that originated in another process.
// It is local-only so fanned-out events are never re-published.
func (r *Registry) injectRemote(ev Event) {
	r.deliverLocal(ev)
}

func (r *Registry) deliverLocal(ev Event) {
	var dropped []*Subscription

	r.mu.Lock()
	ch := r.channels[ev.DocID]
	if ch == nil {
		r.mu.Unlock()
		return
	}
	// Enqueue under the registry lock: concurrent publishes serialize here,
	// so every subscriber sees the same channel order.
	for sid, sub := range ch.subs {
		if sid == ev.OriginSessionID {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// Backed-up subscriber. Treat it as disconnected rather than
			// blocking the channel.
			dropped = append(dropped, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range dropped {
		logger.Sugar.Warnf("subscriber %s on doc %s is not keeping up, dropping", sub.SessionID, sub.DocID)
		r.dropSubscriber(sub)
	}
}

func (r *Registry) dropSubscriber(sub *Subscription) {
	sub.Unsubscribe()
	if r.onDeliveryFailure != nil {
		go r.onDeliveryFailure(sub.DocID, sub.SessionID)
	}
}

// Unsubscribe stops delivery to the handle immediately. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.reg.removeSub(s)
	})
}

func (r *Registry) removeSub(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[s.DocID]
	if ch == nil {
		return
	}
	if ch.subs[s.SessionID] != s {
		return
	}
	delete(ch.subs, s.SessionID)
	if len(ch.subs) > 0 {
		return
	}

	// Last subscriber gone: destroy the channel after the grace period
	// unless someone resubscribes first.
	docID := s.DocID
	ch.teardown = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur := r.channels[docID]; cur == ch && len(cur.subs) == 0 {
			delete(r.channels, docID)
		}
	})
}

// SubscriberCount reports the current number of subscriptions on a document
// channel. Zero if the channel does not exist.
func (r *Registry) SubscriberCount(docID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[docID]
	if ch == nil {
		return 0
	}
	return len(ch.subs)
}

func (s *Subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			// Re-check done so an unsubscribed handle stops delivering even
			// with a backlog queued.
			select {
			case <-s.done:
				return
			default:
			}
			if err := s.fn(ev); err != nil {
				logger.Sugar.Warnf("delivery to session %s on doc %s failed: %v", s.SessionID, s.DocID, err)
				s.reg.dropSubscriber(s)
				return
			}
		}
	}
}
