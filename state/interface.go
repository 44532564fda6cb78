// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state persists wait records for crash recovery. The engine's
// authoritative state is its in-memory active set; the store answers only
// "what was created" and "how did it end".
package state

import (
	"time"
)

// WaitRecord is the persisted form of a wait job.
type WaitRecord struct {
	ID         string
	TaskID     string
	Target     string
	Display    string
	Criteria   string
	TimeoutS   int
	PollS      float64
	Status     string
	Detail     string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

func (r *WaitRecord) Copy() *WaitRecord {
	if r == nil {
		return nil
	}
	nr := *r
	return &nr
}

// StateDB implementations store and load wait records.
type StateDB interface {
	// Name of implementation.
	Name() string

	// PutActive records a job's creation. Called once per id at
	// registration time.
	PutActive(rec *WaitRecord) error

	// MarkTerminal writes the final record for rec.ID and drops the
	// creation record if one exists. Terminal records are append-only; a
	// second write for the same id is an error.
	MarkTerminal(rec *WaitRecord) error

	// GetTerminal returns the terminal record for id. It may be nil even
	// if there is no error.
	GetTerminal(id string) (*WaitRecord, error)

	// ListTerminal returns all terminal records.
	ListTerminal() ([]*WaitRecord, error)

	// ListActive returns creation records not yet marked terminal.
	ListActive() ([]*WaitRecord, error)

	// OrphanActive marks every active record terminal with status error
	// and the given detail, returning the affected ids. Runs at startup
	// before the engine accepts new jobs.
	OrphanActive(detail string) ([]string, error)

	// Close the database. Unsafe for further use after calling regardless
	// of return value.
	Close() error
}
