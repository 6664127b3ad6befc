/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import "math"

// quota paces discovery picks across a batch so the realised fraction tracks
// the configured ratio instead of clumping at either end.
type quota struct {
	batch int
	ratio float64
}

func discoveryQuota(batch int, ratio float64) quota {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return quota{batch: batch, ratio: ratio}
}

// slotsThrough returns how many discovery picks should have happened once
// slot (zero-based) is being filled. The running rounding spreads discovery
// slots evenly through the batch and makes the total come out to
// round(batch*ratio).
func (q quota) slotsThrough(slot int) int {
	if slot >= q.batch {
		slot = q.batch - 1
	}
	return int(math.Round(float64(slot+1) * q.ratio))
}

// total is the discovery target for the whole batch.
func (q quota) total() int {
	return int(math.Round(float64(q.batch) * q.ratio))
}
