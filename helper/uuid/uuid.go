// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package uuid generates the identifiers handed out for wait jobs and pty
// sessions.
package uuid

import (
	"fmt"

	gouuid "github.com/hashicorp/go-uuid"
)

// Generate is used to generate a random UUID.
func Generate() string {
	id, err := gouuid.GenerateUUID()
	if err != nil {
		panic(fmt.Errorf("failed to generate uuid: %v", err))
	}
	return id
}

// Short returns the first eight characters of a random UUID. Job and session
// ids use this form; collisions are checked by the callers that mint them.
func Short() string {
	return Generate()[0:8]
}
