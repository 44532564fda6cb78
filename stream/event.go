// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stream

// Topic is an event streaming topic.
type Topic string

const (
	TopicAll  Topic = "*"
	TopicWait Topic = "Wait"
	TopicPty  Topic = "Pty"
)

const (
	TypeWaitRegistered = "WaitRegistered"
	TypeWaitUpdated    = "WaitUpdated"
	TypeWaitResolved   = "WaitResolved"
	TypeWaitTimeout    = "WaitTimeout"
	TypeWaitCancelled  = "WaitCancelled"
	TypeWaitError      = "WaitError"
	TypePtyStarted     = "PtyStarted"
	TypePtyExited      = "PtyExited"
)

// Event represents a single state change on a topic. Payload is
// marshaled as-is when the event is written to a stream.
type Event struct {
	Topic   Topic
	Type    string
	Key     string
	Index   uint64
	Payload interface{}
}

// SubscribeRequest is a request to subscribe to a set of topics. Keys filter
// events within a topic; the wildcard key matches every event on the topic.
type SubscribeRequest struct {
	Topics map[Topic][]string
}

// filter returns whether an event matches a subscription's topic/key set.
func filter(req *SubscribeRequest, event *Event) bool {
	match := func(keys []string) bool {
		for _, key := range keys {
			if key == string(TopicAll) || key == event.Key {
				return true
			}
		}
		return false
	}
	return match(req.Topics[TopicAll]) || match(req.Topics[event.Topic])
}
