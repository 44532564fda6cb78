// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package capture

import (
	"sync"
)

// Arbiter hands out one lock per display so at most one capture per display
// is in flight at a time. Locks are created lazily and never removed; the
// set of displays on a host is tiny.
type Arbiter struct {
	l     sync.Mutex
	locks map[string]*sync.Mutex
}

func NewArbiter() *Arbiter {
	return &Arbiter{
		locks: make(map[string]*sync.Mutex),
	}
}

func (a *Arbiter) lockFor(display string) *sync.Mutex {
	a.l.Lock()
	defer a.l.Unlock()

	m, ok := a.locks[display]
	if !ok {
		m = new(sync.Mutex)
		a.locks[display] = m
	}
	return m
}

// WithLock runs fn while holding the display's capture lock. fn must confine
// itself to the capture; holding the lock across a vision call would
// serialize unrelated jobs.
func (a *Arbiter) WithLock(display string, fn func() error) error {
	m := a.lockFor(display)
	m.Lock()
	defer m.Unlock()
	return fn()
}
