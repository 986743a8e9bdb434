package device

import (
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// Debouncer suppresses a zone transition that arrives within window of the
// previous accepted transition of the same zone.
//
// Thread Safety:
//   - Not safe for concurrent use. Each session owns one, used only by its
//     read goroutine.
type Debouncer struct {
	window time.Duration
	last   map[zone.ID]time.Time
}

// NewDebouncer creates a debouncer. A window <= 0 accepts everything.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		last:   make(map[zone.ID]time.Time),
	}
}

// Window returns the debounce window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Accept reports whether a transition of id at time at passes the window,
// and records it if so.
func (d *Debouncer) Accept(id zone.ID, at time.Time) bool {
	if d.window <= 0 {
		return true
	}
	if prev, ok := d.last[id]; ok && at.Sub(prev) < d.window {
		return false
	}
	d.last[id] = at
	return true
}

// remaining returns how long until a transition of id would pass the window
// at time at.
func (d *Debouncer) remaining(id zone.ID, at time.Time) time.Duration {
	prev, ok := d.last[id]
	if !ok || d.window <= 0 {
		return 0
	}
	if left := d.window - at.Sub(prev); left > 0 {
		return left
	}
	return 0
}

// edgeFilter drops non-transitions and holds back transitions that arrive
// inside the debounce window. A held transition is not lost: the zone's
// latest level is kept and settle reports it once the window has passed,
// so a tap shorter than the window still ends at the device's final level.
type edgeFilter struct {
	accepted map[zone.ID]zone.InputState
	latest   map[zone.ID]zone.InputState
	debounce *Debouncer
}

func newEdgeFilter(window time.Duration) *edgeFilter {
	return &edgeFilter{
		accepted: make(map[zone.ID]zone.InputState),
		latest:   make(map[zone.ID]zone.InputState),
		debounce: NewDebouncer(window),
	}
}

// accept reports whether (id, state) is a reportable edge. The first report
// of a zone is always a transition. When a transition is held back, wait is
// how long until settle should be called for id.
func (f *edgeFilter) accept(id zone.ID, state zone.InputState, at time.Time) (ok bool, wait time.Duration) {
	f.latest[id] = state
	if prev, seen := f.accepted[id]; seen && prev == state {
		return false, 0
	}
	if !f.debounce.Accept(id, at) {
		return false, f.debounce.remaining(id, at)
	}
	f.accepted[id] = state
	return true, 0
}

// settle reports the held level of id if it still differs from the last
// accepted one, and accepts it.
func (f *edgeFilter) settle(id zone.ID, at time.Time) (zone.InputState, bool) {
	state, ok := f.latest[id]
	if !ok {
		return zone.Off, false
	}
	if prev, seen := f.accepted[id]; seen && prev == state {
		return zone.Off, false
	}
	f.debounce.last[id] = at
	f.accepted[id] = state
	return state, true
}
