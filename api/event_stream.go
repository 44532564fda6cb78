// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Topic is an event stream topic.
type Topic string

const (
	TopicWait Topic = "Wait"
	TopicPty  Topic = "Pty"
	TopicAll  Topic = "*"
)

// Event types published on the stream.
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

// Events is a set of events for a corresponding index. Events returned for
// the index depend on which topics are subscribed to when a request is made.
type Events struct {
	Index  uint64
	Events []Event
	Err    error
}

// Event holds one state change published by the agent. The Payload shape
// depends on the Topic.
type Event struct {
	Topic   Topic
	Type    string
	Key     string
	Index   uint64
	Payload json.RawMessage
}

// Wait decodes the payload of a Wait topic event.
func (e *Event) Wait() (*Wait, error) {
	if e.Topic != TopicWait {
		return nil, fmt.Errorf("event is a %s event, not a wait", e.Topic)
	}
	var out Wait
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed decoding wait payload: %v", err)
	}
	return &out, nil
}

// Pty decodes the payload of a Pty topic event.
func (e *Event) Pty() (*PtySession, error) {
	if e.Topic != TopicPty {
		return nil, fmt.Errorf("event is a %s event, not a pty session", e.Topic)
	}
	var out PtySession
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed decoding pty payload: %v", err)
	}
	return &out, nil
}

// IsHeartbeat specifies if the event is an empty heartbeat used to keep a
// connection alive.
func (e *Events) IsHeartbeat() bool {
	return e.Index == 0 && len(e.Events) == 0
}

// EventStream is used to stream events from the agent.
type EventStream struct {
	client *Client
}

// EventStream returns a handle to the events endpoint.
func (c *Client) EventStream() *EventStream {
	return &EventStream{client: c}
}

// Stream establishes a new subscription to the agent's event stream and
// streams results back to the returned channel. The stream ends when the
// context does.
func (e *EventStream) Stream(ctx context.Context, topics map[Topic][]string) (<-chan *Events, error) {
	r := e.client.newRequest(http.MethodGet, "/v1/event/stream")
	for topic, keys := range topics {
		for _, k := range keys {
			r.params.Add("topic", fmt.Sprintf("%s:%s", topic, k))
		}
	}

	resp, err := requireOK(e.client.doRequest(ctx, r))
	if err != nil {
		return nil, err
	}

	eventsCh := make(chan *Events, 10)
	go func() {
		defer resp.Body.Close()
		defer close(eventsCh)

		dec := json.NewDecoder(resp.Body)

		for ctx.Err() == nil {
			// Decode the next newline delimited json of events.
			var events Events
			if err := dec.Decode(&events); err != nil {
				// Set the error and fall through to the send so
				// the consumer sees why the stream ended.
				events = Events{Err: err}
			}
			if events.Err == nil && events.IsHeartbeat() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case eventsCh <- &events:
			}

			if events.Err != nil {
				return
			}
		}
	}()

	return eventsCh, nil
}
