// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"github.com/hashicorp/smartwait/capture"
)

// DiffGate suppresses vision calls while a job's frames stay essentially
// unchanged. Its state is one downsampled copy of the previous frame. A gate
// belongs to a single job and is not safe for concurrent use; the engine
// guarantees one evaluation per job at a time.
type DiffGate struct {
	maxWidth  int
	threshold int
	ratio     float64

	prev  []byte
	prevW int
	prevH int
}

// NewDiffGate builds a gate. maxWidth bounds the downsampled width,
// threshold is the per-channel absolute difference (0-255) that counts a
// channel as changed, ratio is the changed fraction above which the frame is
// worth evaluating.
func NewDiffGate(maxWidth, threshold int, ratio float64) *DiffGate {
	return &DiffGate{
		maxWidth:  maxWidth,
		threshold: threshold,
		ratio:     ratio,
	}
}

// ShouldEvaluate reports whether frame differs enough from the previous one
// to justify a vision call. The first frame always does, as does any change
// in frame dimensions.
func (g *DiffGate) ShouldEvaluate(frame *capture.Frame) bool {
	ds, w, h := g.downsample(frame)

	prev, prevW, prevH := g.prev, g.prevW, g.prevH
	g.prev, g.prevW, g.prevH = ds, w, h

	if prev == nil || w != prevW || h != prevH {
		return true
	}

	changed := 0
	for i := range ds {
		d := int(ds[i]) - int(prev[i])
		if d < 0 {
			d = -d
		}
		if d > g.threshold {
			changed++
		}
	}
	return float64(changed)/float64(len(ds)) > g.ratio
}

// downsample picks every k-th pixel so the output is at most maxWidth wide,
// keeping only the RGB channels. The copy is the gate's only allocation.
func (g *DiffGate) downsample(f *capture.Frame) ([]byte, int, int) {
	k := 1
	if f.Width > g.maxWidth {
		k = (f.Width + g.maxWidth - 1) / g.maxWidth
	}
	w := (f.Width + k - 1) / k
	h := (f.Height + k - 1) / k

	out := make([]byte, 0, w*h*3)
	for y := 0; y < f.Height; y += k {
		row := y * f.Width * 4
		for x := 0; x < f.Width; x += k {
			p := row + x*4
			out = append(out, f.Pix[p], f.Pix[p+1], f.Pix[p+2])
		}
	}
	return out, w, h
}
