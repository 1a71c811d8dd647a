// Package poller drives the usage API poll cycle: credential lookup,
// fetch with a single auth-retry, watermark reconciliation, and snapshot
// persistence.
package poller

import "sync"

// Watermark tracks the last observed utilization per quota window and
// decides when a reading is worth persisting. A snapshot is warranted only
// when a window's utilization strictly increases over its previous
// observation; decreases (window resets) and repeats move the watermark
// without triggering.
type Watermark struct {
	mu       sync.Mutex
	fiveHour *float64
	sevenDay *float64
}

// NewWatermark returns a watermark with both slots unset. The first
// observation never triggers.
func NewWatermark() *Watermark {
	return &Watermark{}
}

// Prime seeds the previous-observation slots, typically from the latest
// stored snapshot on startup. Nil slots stay unset.
func (w *Watermark) Prime(fiveHour, sevenDay *float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fiveHour != nil {
		v := *fiveHour
		w.fiveHour = &v
	}
	if sevenDay != nil {
		v := *sevenDay
		w.sevenDay = &v
	}
}

// Observe records a new reading pair and reports whether it should be
// persisted: true iff either window had a previous value and the new
// reading strictly exceeds it. Both slots are always updated, trigger or
// not.
func (w *Watermark) Observe(fiveHour, sevenDay float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	trigger := (w.fiveHour != nil && fiveHour > *w.fiveHour) ||
		(w.sevenDay != nil && sevenDay > *w.sevenDay)

	w.fiveHour = &fiveHour
	w.sevenDay = &sevenDay
	return trigger
}
