package dedupe

import (
	"math"
	"sync/atomic"
)

// tunable is a float64 that can be changed while matchers are in use.
type tunable struct{ bits atomic.Uint64 }

func (t *tunable) Load() float64   { return math.Float64frombits(t.bits.Load()) }
func (t *tunable) Store(v float64) { t.bits.Store(math.Float64bits(v)) }
