// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package vision

import (
	"testing"
	"time"

	"github.com/hashicorp/smartwait/ci"
	"github.com/shoenig/test/must"
)

func TestBuildPrompt(t *testing.T) {
	ci.Parallel(t)

	prompt := BuildPrompt("the build finishes", 90*time.Second)

	must.StrContains(t, prompt, "CONDITION: the build finishes")
	must.StrContains(t, prompt, "Time elapsed waiting: 1.5min")
	must.StrContains(t, prompt, "YES: <one sentence")
	must.StrContains(t, prompt, "NO: <one sentence")
}

func TestFormatDuration(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{3 * time.Second, "3s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1.0min"},
		{150 * time.Second, "2.5min"},
		{3600 * time.Second, "1.0h"},
		{5400 * time.Second, "1.5h"},
	}

	for _, tc := range cases {
		must.Eq(t, tc.want, formatDuration(tc.d))
	}
}
