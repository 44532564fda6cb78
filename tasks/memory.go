// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tasks

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-set/v3"
)

// Message is a single entry in a task's feed.
type Message struct {
	TaskID  string
	State   string
	Content string
}

// MemorySink keeps task state in memory. Used by dev mode agents and tests.
type MemorySink struct {
	mu      sync.RWMutex
	pending map[string]*set.Set[string]
	updates map[string][]*WaitStateUpdate
	msgs    []*Message
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		pending: make(map[string]*set.Set[string]),
		updates: make(map[string][]*WaitStateUpdate),
	}
}

func (m *MemorySink) TrackWait(taskID, waitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.pending[taskID]
	if !ok {
		pending = set.New[string](4)
		m.pending[taskID] = pending
	}
	pending.Insert(waitID)
	return nil
}

func (m *MemorySink) PostWaitMessage(taskID, state, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.msgs = append(m.msgs, &Message{TaskID: taskID, State: state, Content: content})
	return nil
}

func (m *MemorySink) UpdateWaitState(taskID string, update *WaitStateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pending, ok := m.pending[taskID]; ok {
		pending.Remove(update.RemoveID)
	}
	m.updates[taskID] = append(m.updates[taskID], update)
	return nil
}

// PendingWaits returns the wait ids currently blocking a task, sorted.
func (m *MemorySink) PendingWaits(taskID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending, ok := m.pending[taskID]
	if !ok {
		return nil
	}
	ids := pending.Slice()
	sort.Strings(ids)
	return ids
}

// Messages returns a copy of the feed for a task.
func (m *MemorySink) Messages(taskID string) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.msgs {
		if msg.TaskID == taskID {
			out = append(out, msg)
		}
	}
	return out
}

// Updates returns the state updates applied to a task in order.
func (m *MemorySink) Updates(taskID string) []*WaitStateUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*WaitStateUpdate{}, m.updates[taskID]...)
}
