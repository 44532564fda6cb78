// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/smartwait/ci"
	"github.com/hashicorp/smartwait/helper/testlog"
	"github.com/shoenig/test/must"
	"go.uber.org/goleak"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	ci.Parallel(t)

	b := NewBroker(testlog.HCLogger(t), 0)

	all := b.Subscribe(&SubscribeRequest{
		Topics: map[Topic][]string{TopicAll: {"*"}},
	})
	defer all.Unsubscribe()

	one := b.Subscribe(&SubscribeRequest{
		Topics: map[Topic][]string{TopicWait: {"aaaa0001"}},
	})
	defer one.Unsubscribe()

	b.Publish(&Event{Topic: TopicWait, Type: TypeWaitRegistered, Key: "aaaa0001"})
	b.Publish(&Event{Topic: TopicWait, Type: TypeWaitResolved, Key: "bbbb0002"})
	b.Publish(&Event{Topic: TopicPty, Type: TypePtyStarted, Key: "cccc0003"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The wildcard subscription sees everything, in order, with
	// monotonically increasing indexes.
	var lastIndex uint64
	for _, want := range []string{"aaaa0001", "bbbb0002", "cccc0003"} {
		event, err := all.Next(ctx)
		must.NoError(t, err)
		must.Eq(t, want, event.Key)
		must.Greater(t, lastIndex, event.Index)
		lastIndex = event.Index
	}

	// The keyed subscription only sees its own wait.
	event, err := one.Next(ctx)
	must.NoError(t, err)
	must.Eq(t, "aaaa0001", event.Key)
	must.Eq(t, TypeWaitRegistered, event.Type)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = one.Next(shortCtx)
	must.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroker_SlowConsumer(t *testing.T) {
	ci.Parallel(t)

	b := NewBroker(testlog.HCLogger(t), 1)

	sub := b.Subscribe(&SubscribeRequest{
		Topics: map[Topic][]string{TopicWait: {"*"}},
	})

	// Fill the buffer, then overflow it without consuming.
	b.Publish(&Event{Topic: TopicWait, Type: TypeWaitRegistered, Key: "a"})
	b.Publish(&Event{Topic: TopicWait, Type: TypeWaitRegistered, Key: "b"})

	must.Eq(t, 0, b.SubscriptionCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got int
	for {
		_, err := sub.Next(ctx)
		if err != nil {
			must.ErrorIs(t, err, ErrSubscriptionClosed)
			break
		}
		got++
	}
	must.LessEq(t, 1, got)
}

func TestBroker_Unsubscribe(t *testing.T) {
	ci.Parallel(t)

	b := NewBroker(testlog.HCLogger(t), 0)

	sub := b.Subscribe(&SubscribeRequest{
		Topics: map[Topic][]string{TopicAll: {"*"}},
	})
	must.Eq(t, 1, b.SubscriptionCount())

	sub.Unsubscribe()
	must.Eq(t, 0, b.SubscriptionCount())

	_, err := sub.Next(context.Background())
	must.ErrorIs(t, err, ErrSubscriptionClosed)

	// Unsubscribe is idempotent.
	sub.Unsubscribe()
}

func TestBroker_NilSafe(t *testing.T) {
	ci.Parallel(t)

	var b *Broker
	b.Publish(&Event{Topic: TopicWait, Type: TypeWaitRegistered, Key: "a"})
	b.Shutdown()
	must.Eq(t, 0, b.SubscriptionCount())
}

func TestBroker_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBroker(testlog.HCLogger(t), 0)

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe(&SubscribeRequest{
			Topics: map[Topic][]string{TopicAll: {"*"}},
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		_, err := subs[0].Next(context.Background())
		waitErr <- err
	}()

	b.Shutdown()
	must.Eq(t, 0, b.SubscriptionCount())
	must.ErrorIs(t, <-waitErr, ErrSubscriptionClosed)

	for _, sub := range subs {
		_, err := sub.Next(context.Background())
		must.ErrorIs(t, err, ErrSubscriptionClosed)
	}
}
