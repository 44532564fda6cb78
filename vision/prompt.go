// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package vision

import (
	"fmt"
	"time"
)

// BuildPrompt renders the YES/NO evaluation prompt for a criteria. The reply
// formats named here are what the engine's verdict parsing expects.
func BuildPrompt(criteria string, elapsed time.Duration) string {
	return fmt.Sprintf(
		"Look at this screenshot and tell me if the following condition is met.\n\n"+
			"CONDITION: %s\n\n"+
			"Time elapsed waiting: %s\n\n"+
			"Reply with ONLY one of these two formats:\n"+
			"YES: <one sentence of visible evidence confirming the condition is met>\n"+
			"NO: <one sentence explaining what is missing or not yet visible>",
		criteria, formatDuration(elapsed))
}

func formatDuration(d time.Duration) string {
	seconds := d.Seconds()
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.0fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1fmin", seconds/60)
	default:
		return fmt.Sprintf("%.1fh", seconds/3600)
	}
}
