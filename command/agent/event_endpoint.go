// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/smartwait/stream"
)

// eventStreamHeartbeat keeps idle stream connections alive.
const eventStreamHeartbeat = 10 * time.Second

// eventFrame is one line of the stream: the publish index and the events
// carried at it.
type eventFrame struct {
	Index  uint64
	Events []*stream.Event
}

func (s *HTTPServer) EventStreamRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	topics, err := parseEventTopics(req.URL.Query())
	if err != nil {
		return nil, CodedError(400, fmt.Sprintf("Invalid topic query: %v", err))
	}

	flusher, ok := resp.(http.Flusher)
	if !ok {
		return nil, CodedError(500, "streaming not supported")
	}

	sub := s.agent.Broker().Subscribe(&stream.SubscribeRequest{Topics: topics})
	defer sub.Unsubscribe()

	resp.Header().Set("Content-Type", "application/json")
	resp.Header().Set("Cache-Control", "no-cache")

	// Closing the request context tears down both goroutines.
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	jsonStream := stream.NewJsonStream(ctx, eventStreamHeartbeat)

	errs, errCtx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		defer cancel()
		for {
			event, err := sub.Next(errCtx)
			if err != nil {
				if errors.Is(err, stream.ErrSubscriptionClosed) || errCtx.Err() != nil {
					// Closed by shutdown, by the client going away, or
					// because this consumer fell behind.
					return nil
				}
				return CodedError(500, err.Error())
			}

			frame := &eventFrame{
				Index:  event.Index,
				Events: []*stream.Event{event},
			}
			if err := jsonStream.Send(frame); err != nil {
				return nil
			}
		}
	})

	for {
		select {
		case <-errCtx.Done():
			return nil, errs.Wait()
		case obj := <-jsonStream.OutCh():
			if _, err := resp.Write(obj.Data); err != nil {
				cancel()
				return nil, errs.Wait()
			}
			// Each entry is its own line according to ndjson.org
			if _, err := resp.Write([]byte("\n")); err != nil {
				cancel()
				return nil, errs.Wait()
			}
			flusher.Flush()
		}
	}
}

func parseEventTopics(query url.Values) (map[stream.Topic][]string, error) {
	raw, ok := query["topic"]
	if !ok {
		return allTopics(), nil
	}
	topics := make(map[stream.Topic][]string)

	for _, topic := range raw {
		k, v, err := parseTopic(topic)
		if err != nil {
			return nil, fmt.Errorf("error parsing topics: %w", err)
		}

		topics[stream.Topic(k)] = append(topics[stream.Topic(k)], v)
	}
	return topics, nil
}

func parseTopic(topic string) (string, string, error) {
	parts := strings.Split(topic, ":")
	// infer wildcard if only given a topic
	if len(parts) == 1 {
		return topic, "*", nil
	} else if len(parts) != 2 {
		return "", "", fmt.Errorf("Invalid key value pair for topic, topic: %s", topic)
	}
	return parts[0], parts[1], nil
}

func allTopics() map[stream.Topic][]string {
	return map[stream.Topic][]string{"*": {"*"}}
}
