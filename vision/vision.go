// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package vision asks a vision model whether a wait criteria is visible in a
// captured frame. Adapters return the model's raw reply text; interpreting it
// is the engine's job.
package vision

import (
	"context"
	"time"

	"github.com/hashicorp/smartwait/capture"
)

// Request is a single evaluation of one frame against one criteria.
type Request struct {
	// Frame is the captured image to evaluate.
	Frame *capture.Frame

	// Criteria is the natural language condition being waited on.
	Criteria string

	// Elapsed is how long the wait has been watching, reported to the
	// model for context.
	Elapsed time.Duration

	// WaitID is used for log correlation only.
	WaitID string
}

// Adapter evaluates frames with a vision model. Implementations must be safe
// for concurrent use; the engine evaluates each tick's due jobs in parallel.
type Adapter interface {
	Evaluate(ctx context.Context, req *Request) (string, error)
}

// AdapterFunc allows funcs to be used as Adapters.
type AdapterFunc func(ctx context.Context, req *Request) (string, error)

func (f AdapterFunc) Evaluate(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}
