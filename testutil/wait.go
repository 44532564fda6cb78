// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package testutil

import (
	"time"
)

type testFn func() (bool, error)
type errorFn func(error)

// WaitForResult retries test every 10ms until it returns true, calling error
// with the last failure if it never does.
func WaitForResult(test testFn, error errorFn) {
	WaitForResultRetries(1000, test, error)
}

func WaitForResultRetries(retries int64, test testFn, error errorFn) {
	for retries > 0 {
		time.Sleep(10 * time.Millisecond)
		retries--

		success, err := test()
		if success {
			return
		}

		if retries == 0 {
			error(err)
		}
	}
}

// AssertUntil asserts test returns true before the wait duration elapses,
// calling error with the last failure otherwise.
func AssertUntil(wait time.Duration, test testFn, error errorFn) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		success, err := test()
		if success {
			return
		}
		if err != nil {
			error(err)
			return
		}
		// Sleep some arbitrary fraction of the deadline
		time.Sleep(wait / 30)
	}
	error(nil)
}
