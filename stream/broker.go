// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package stream implements the agent's in-process event broker. The engine
// and pty registry publish state changes; HTTP event streams subscribe.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	hclog "github.com/hashicorp/go-hclog"
)

const (
	// subscriptionStateOpen is the default state of a subscription. An open
	// subscription may receive new events.
	subscriptionStateOpen uint32 = 0

	// subscriptionStateClosed indicates that the subscription was closed,
	// possibly because it consumed too slowly, and will not receive new
	// events. The subscriber must issue a new Subscribe request.
	subscriptionStateClosed uint32 = 1
)

// ErrSubscriptionClosed is an error signalling the subscription has been
// closed. The client should Unsubscribe, then re-Subscribe.
var ErrSubscriptionClosed = errors.New("subscription closed by server, client should resubscribe")

// DefaultBufferSize is the per-subscription event buffer length. A
// subscription that falls this far behind is force closed.
const DefaultBufferSize = 64

// Broker fans published events out to subscriptions. A nil *Broker is safe to
// publish to, so wiring it up is optional for callers.
type Broker struct {
	logger     hclog.Logger
	bufferSize int

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	nextIndex uint64
}

func NewBroker(logger hclog.Logger, bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		logger:     logger.Named("broker"),
		bufferSize: bufferSize,
		subs:       make(map[*Subscription]struct{}),
		nextIndex:  1,
	}
}

// Subscribe returns a new subscription for the requested topics.
func (b *Broker) Subscribe(req *SubscribeRequest) *Subscription {
	sub := &Subscription{
		req:         req,
		eventCh:     make(chan *Event, b.bufferSize),
		forceClosed: make(chan struct{}),
	}
	sub.unsub = func() {
		b.remove(sub)
		sub.forceClose()
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish assigns the event an index and delivers it to every matching
// subscription. Subscriptions whose buffers are full are force closed rather
// than allowed to block the publisher.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	event.Index = b.nextIndex
	b.nextIndex++

	var slow []*Subscription
	for sub := range b.subs {
		if !filter(sub.req, event) {
			continue
		}
		select {
		case sub.eventCh <- event:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range slow {
		b.logger.Warn("closing slow event subscription", "topic", event.Topic, "key", event.Key)
		sub.forceClose()
	}
}

// SubscriptionCount returns the number of open subscriptions.
func (b *Broker) SubscriptionCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Shutdown force closes every subscription.
func (b *Broker) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.forceClose()
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is a single subscriber's view of the event stream.
type Subscription struct {
	// state must be accessed atomically. 0 means open, 1 means closed.
	state uint32

	req     *SubscribeRequest
	eventCh chan *Event

	// forceClosed is closed when forceClose is called. It is used by
	// Broker to cancel Next().
	forceClosed chan struct{}

	// unsub is a function set by Broker that is called to free resources
	// when the subscription is no longer needed. It must be safe to call
	// from multiple goroutines and must be idempotent.
	unsub func()
}

// Next blocks until an event is available, the context is done, or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (*Event, error) {
	if atomic.LoadUint32(&s.state) == subscriptionStateClosed {
		return nil, ErrSubscriptionClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.forceClosed:
		return nil, ErrSubscriptionClosed
	case event := <-s.eventCh:
		return event, nil
	}
}

func (s *Subscription) Unsubscribe() {
	s.unsub()
}

func (s *Subscription) forceClose() {
	if atomic.CompareAndSwapUint32(&s.state, subscriptionStateOpen, subscriptionStateClosed) {
		close(s.forceClosed)
	}
}
