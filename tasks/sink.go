// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package tasks connects wait jobs to the task board that requested them.
// When a wait carries a task id, the engine reports lifecycle changes through
// a Sink so the board can stop showing the task as blocked.
package tasks

import (
	"time"
)

// WaitStateUpdate describes how a terminal wait changes its owning task.
type WaitStateUpdate struct {
	// RemoveID is the wait id to remove from the task's pending set.
	RemoveID string `json:"remove_id"`

	// LastState is the terminal status of the wait.
	LastState string `json:"last_state"`

	// LastEventAt is when the wait reached its terminal status.
	LastEventAt time.Time `json:"last_event_at"`
}

// Sink receives wait lifecycle reports for tasks. Implementations must be
// safe for concurrent use. Errors are advisory; the engine logs and carries
// on, waits never fail because a task board is unreachable.
type Sink interface {
	// TrackWait records that a wait now blocks the given task.
	TrackWait(taskID, waitID string) error

	// PostWaitMessage appends a human readable message to the task's feed.
	PostWaitMessage(taskID, state, content string) error

	// UpdateWaitState applies a terminal wait's outcome to the task.
	UpdateWaitState(taskID string, update *WaitStateUpdate) error
}

// NoopSink discards all reports. Used when no task board is configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) TrackWait(string, string) error                 { return nil }
func (NoopSink) PostWaitMessage(string, string, string) error   { return nil }
func (NoopSink) UpdateWaitState(string, *WaitStateUpdate) error { return nil }
