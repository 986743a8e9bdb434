package diagnostic

import (
	"strings"
	"time"
)

// DefaultLogCapacity is the number of entries a Log keeps when none is given.
const DefaultLogCapacity = 1000

// Clock returns the application time.
type Clock func() time.Time

// Entry is one line of the log surface.
type Entry struct {
	// Timestamp is the application time at which the entry was appended.
	Timestamp time.Time `json:"timestamp"`

	// Raised is when the device layer raised the diagnostic. Zero for
	// entries that did not come from an Event.
	Raised time.Time `json:"raised,omitzero"`

	Kind        Kind   `json:"kind,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	Message     string `json:"message"`
}

// Text returns the formatted diagnostic text, or the bare message for
// entries without a kind.
func (e Entry) Text() string {
	if e.Kind == "" {
		return strings.TrimSpace(e.Message)
	}
	return Format(e.Kind, e.DeviceClass, e.Message)
}

// String renders the entry as "HH:MM:SS:mmm - text".
func (e Entry) String() string {
	return FormatTimestamp(e.Timestamp) + " - " + e.Text()
}

// Log is a bounded, append-only record of diagnostics.
// When full, the oldest entry is discarded.
//
// Thread Safety:
//   - Not safe for concurrent use. Only the consumer goroutine may touch it.
type Log struct {
	clock    Clock
	capacity int
	entries  []Entry
	start    int
	total    uint64
}

// NewLog creates a log surface. capacity <= 0 selects DefaultLogCapacity and
// a nil clock selects time.Now.
func NewLog(capacity int, clock Clock) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	if clock == nil {
		clock = time.Now
	}
	return &Log{
		clock:    clock,
		capacity: capacity,
		entries:  make([]Entry, 0, min(capacity, 64)),
	}
}

// AppendEvent records ev stamped with the current application time.
func (l *Log) AppendEvent(ev Event) Entry {
	return l.append(Entry{
		Raised:      ev.Timestamp,
		Kind:        ev.Kind,
		DeviceClass: ev.DeviceClass,
		Message:     ev.Message,
	})
}

// Append records a routed diagnostic.
func (l *Log) Append(kind Kind, deviceClass, message string) Entry {
	return l.append(Entry{
		Kind:        kind,
		DeviceClass: deviceClass,
		Message:     message,
	})
}

// AppendText records a free-form line.
func (l *Log) AppendText(message string) Entry {
	return l.append(Entry{Message: message})
}

func (l *Log) append(e Entry) Entry {
	e.Timestamp = l.clock()
	l.total++

	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, e)
		return e
	}
	l.entries[l.start] = e
	l.start = (l.start + 1) % l.capacity
	return e
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Total returns the number of entries ever appended.
func (l *Log) Total() uint64 {
	return l.total
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.start:]...)
	out = append(out, l.entries[:l.start]...)
	return out
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	i := l.start - 1
	if i < 0 {
		i = len(l.entries) - 1
	}
	return l.entries[i], true
}

// Text renders every retained entry on its own line, oldest first.
func (l *Log) Text() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		b.WriteString("\n")
		b.WriteString(e.String())
	}
	return b.String()
}
