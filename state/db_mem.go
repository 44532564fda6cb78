// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// MemDB implements a StateDB that stores data in memory and should only be
// used for testing. All methods are safe for concurrent access.
type MemDB struct {
	active   map[string]*WaitRecord
	terminal map[string]*WaitRecord

	logger hclog.Logger

	mu sync.RWMutex
}

func NewMemDB(logger hclog.Logger) *MemDB {
	logger = logger.Named("memdb")
	return &MemDB{
		active:   make(map[string]*WaitRecord),
		terminal: make(map[string]*WaitRecord),
		logger:   logger,
	}
}

func (m *MemDB) Name() string {
	return "memdb"
}

func (m *MemDB) PutActive(rec *WaitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[rec.ID] = rec.Copy()
	return nil
}

func (m *MemDB) MarkTerminal(rec *WaitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.terminal[rec.ID]; ok {
		return fmt.Errorf("wait %q already has a terminal record", rec.ID)
	}
	m.terminal[rec.ID] = rec.Copy()
	delete(m.active, rec.ID)
	return nil
}

func (m *MemDB) GetTerminal(id string) (*WaitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminal[id].Copy(), nil
}

func (m *MemDB) ListTerminal() ([]*WaitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*WaitRecord, 0, len(m.terminal))
	for _, rec := range m.terminal {
		recs = append(recs, rec.Copy())
	}
	return recs, nil
}

func (m *MemDB) ListActive() ([]*WaitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*WaitRecord, 0, len(m.active))
	for _, rec := range m.active {
		recs = append(recs, rec.Copy())
	}
	return recs, nil
}

func (m *MemDB) OrphanActive(detail string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var orphaned []string
	for id, rec := range m.active {
		if _, ok := m.terminal[id]; !ok {
			term := rec.Copy()
			term.Status = "error"
			term.Detail = detail
			term.ResolvedAt = now
			m.terminal[id] = term
		}
		delete(m.active, id)
		orphaned = append(orphaned, id)
	}
	return orphaned, nil
}

func (m *MemDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear all state to blank
	m.active = make(map[string]*WaitRecord)
	m.terminal = make(map[string]*WaitRecord)

	return nil
}
