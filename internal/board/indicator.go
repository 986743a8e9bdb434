package board

import "time"

// Indicator is the visual handle for one zone. It is owned by the consumer
// goroutine: SetActive and the accessors must only be called from queued
// actions or inside consumer.Loop.Query.
type Indicator struct {
	zone  string
	group string
	label string

	active  bool
	changed time.Time
	edges   uint64
	clock   func() time.Time
}

func newIndicator(group string, spec IndicatorSpec, clock func() time.Time) *Indicator {
	label := spec.Label
	if label == "" {
		label = spec.Name
	}
	return &Indicator{zone: spec.Name, group: group, label: label, clock: clock}
}

// Zone returns the zone name the indicator shows.
func (i *Indicator) Zone() string { return i.zone }

// SetActive lights or clears the indicator. Setting the current value again
// is a no-op.
func (i *Indicator) SetActive(active bool) {
	if i.active == active {
		return
	}
	i.active = active
	i.changed = i.clock()
	i.edges++
}

// Active reports whether the indicator is lit.
func (i *Indicator) Active() bool { return i.active }

// IndicatorState is a copy of an indicator safe to hand to other goroutines.
type IndicatorState struct {
	Zone    string    `json:"zone"`
	Group   string    `json:"group"`
	Label   string    `json:"label"`
	Active  bool      `json:"active"`
	Changed time.Time `json:"changed,omitzero"`
	Edges   uint64    `json:"edges"`
}

func (i *Indicator) state() IndicatorState {
	return IndicatorState{
		Zone:    i.zone,
		Group:   i.group,
		Label:   i.label,
		Active:  i.active,
		Changed: i.changed,
		Edges:   i.edges,
	}
}
