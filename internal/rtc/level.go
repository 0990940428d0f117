// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package rtc

import (
	"math"
	"sync/atomic"

	"github.com/jobportal/videocall/internal/constants"
)

// levelMeter holds a peak-decaying audio level in [0, 1].
type levelMeter struct {
	bits atomic.Uint64
}

func (m *levelMeter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

func (m *levelMeter) update(samples []int16) {
	cur := rms(samples)
	prev := m.Level() * constants.AudioLevelDecay
	if prev > cur {
		cur = prev
	}
	m.bits.Store(math.Float64bits(cur))
}

func (m *levelMeter) reset() {
	m.bits.Store(0)
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples))))
}
