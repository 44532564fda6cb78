// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Wait status values as reported by the agent.
const (
	WaitStatusWatching  = "watching"
	WaitStatusResolved  = "resolved"
	WaitStatusTimeout   = "timeout"
	WaitStatusCancelled = "cancelled"
	WaitStatusError     = "error"
)

// Wait is a point-in-time view of a wait job.
type Wait struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	ElapsedS   float64    `json:"elapsed_s"`
	Target     string     `json:"target"`
	Display    string     `json:"display,omitempty"`
	Criteria   string     `json:"criteria"`
	LastDetail string     `json:"last_detail"`
	TimeoutS   int        `json:"timeout_s"`
	TaskID     string     `json:"task_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Notes      []string   `json:"notes,omitempty"`
}

// Terminal returns whether the wait has reached an end state.
func (w *Wait) Terminal() bool {
	return w.Status != WaitStatusWatching && w.Status != ""
}

// WaitRegisterRequest creates a new wait job.
type WaitRegisterRequest struct {
	Target   string   `json:"target"`
	Display  string   `json:"display,omitempty"`
	Criteria string   `json:"criteria"`
	TimeoutS int      `json:"timeout_s,omitempty"`
	PollS    float64  `json:"poll_s,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// WaitUpdateRequest refines a watching job. Unset fields are untouched.
type WaitUpdateRequest struct {
	Criteria string   `json:"criteria,omitempty"`
	TimeoutS int      `json:"timeout_s,omitempty"`
	Note     string   `json:"note,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// Waits is used to access the wait endpoints.
type Waits struct {
	client *Client
}

// Waits returns a handle on the wait endpoints.
func (c *Client) Waits() *Waits {
	return &Waits{client: c}
}

// Register creates a new wait and returns its initial snapshot.
func (w *Waits) Register(ctx context.Context, req *WaitRegisterRequest) (*Wait, error) {
	var out Wait
	if err := w.client.write(ctx, "POST", "/v1/waits", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns active waits, or every known wait when all is set.
func (w *Waits) List(ctx context.Context, all bool) ([]*Wait, error) {
	params := url.Values{}
	if all {
		params.Set("all", "true")
	}
	var out []*Wait
	if err := w.client.query(ctx, "/v1/waits", &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

// Info returns the snapshot for one wait.
func (w *Waits) Info(ctx context.Context, waitID string) (*Wait, error) {
	var out Wait
	if err := w.client.query(ctx, "/v1/wait/"+url.PathEscape(waitID), &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update refines a watching wait.
func (w *Waits) Update(ctx context.Context, waitID string, req *WaitUpdateRequest) (*Wait, error) {
	var out Wait
	if err := w.client.write(ctx, "PUT", "/v1/wait/"+url.PathEscape(waitID), req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel stops a watching wait. Cancelling an already finished wait returns
// its final snapshot.
func (w *Waits) Cancel(ctx context.Context, waitID, reason string) (*Wait, error) {
	params := url.Values{}
	if reason != "" {
		params.Set("reason", reason)
	}
	var out Wait
	if err := w.client.delete(ctx, "/v1/wait/"+url.PathEscape(waitID), &out, params); err != nil {
		return nil, err
	}
	return &out, nil
}

// Monitor polls a wait until it reaches a terminal state or the context
// ends, delivering a snapshot on every status or detail change.
func (w *Waits) Monitor(ctx context.Context, waitID string, interval time.Duration) (<-chan *Wait, error) {
	if interval <= 0 {
		interval = time.Second
	}
	first, err := w.Info(ctx, waitID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Wait, 8)
	go func() {
		defer close(ch)

		ch <- first
		last := first
		if last.Terminal() {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			wait, err := w.Info(ctx, waitID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if wait.Status != last.Status || wait.LastDetail != last.LastDetail {
				select {
				case ch <- wait:
				case <-ctx.Done():
					return
				}
			}
			last = wait
			if wait.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}

// String renders a one-line summary, handy for CLI output.
func (w *Wait) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", w.ID, w.Status, w.Criteria, w.LastDetail)
}
