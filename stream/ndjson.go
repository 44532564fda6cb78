// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JsonHeartbeat is the JSON to send as a heartbeat. Avoids creating many
// heartbeat instances.
var JsonHeartbeat = &JsonObject{Data: []byte("{}")}

// JsonObject is a wrapper for a newline delimited JSON frame.
type JsonObject struct {
	Data []byte
}

// JsonStream is used to send new line delimited JSON and heartbeats to a
// destination channel.
type JsonStream struct {
	// ctx is a passed in context used to notify the json stream
	// when it should terminate.
	ctx context.Context

	outCh chan *JsonObject

	// heartbeat is the interval to send heartbeat messages to keep a
	// connection open.
	heartbeat *time.Ticker
}

// NewJsonStream creates a new json stream that will output json structs to
// the passed output channel. The stream starts with a heartbeat frame already
// queued so consumers see bytes as soon as they attach.
func NewJsonStream(ctx context.Context, heartbeat time.Duration) *JsonStream {
	s := &JsonStream{
		ctx:       ctx,
		outCh:     make(chan *JsonObject, 10),
		heartbeat: time.NewTicker(heartbeat),
	}

	s.outCh <- JsonHeartbeat
	go s.heartbeatLoop()

	return s
}

func (n *JsonStream) OutCh() chan *JsonObject {
	return n.outCh
}

func (n *JsonStream) heartbeatLoop() {
	defer n.heartbeat.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.heartbeat.C:
			select {
			case <-n.ctx.Done():
				return
			case n.outCh <- JsonHeartbeat:
			}
		}
	}
}

// Send encodes an object into newline delimited json. An error is returned
// if json encoding fails or if the stream is no longer running.
func (n *JsonStream) Send(v interface{}) error {
	if n.ctx.Err() != nil {
		return n.ctx.Err()
	}

	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling json for stream: %w", err)
	}

	select {
	case <-n.ctx.Done():
		return fmt.Errorf("error sending json with %w", n.ctx.Err())
	case n.outCh <- &JsonObject{Data: buf}:
		return nil
	}
}
