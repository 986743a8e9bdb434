package zone

import (
	"fmt"
	"strings"
)

// InputState is the last known level of a zone. Transitions between the two
// values are edge events.
type InputState int

// Input states.
const (
	Off InputState = iota
	On
)

// String returns "on" or "off".
func (s InputState) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// MarshalText implements encoding.TextMarshaler.
func (s InputState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *InputState) UnmarshalText(b []byte) error {
	v, err := ParseInputState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseInputState accepts on/off, 1/0, true/false, pressed/released
// (case-insensitive).
func ParseInputState(s string) (InputState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true", "pressed":
		return On, nil
	case "off", "0", "false", "released":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// ID identifies one zone within a namespace.
type ID struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// String returns "namespace/name".
func (id ID) String() string {
	return id.Namespace + "/" + id.Name
}

// Namespace is a named, ordered enumeration of zones.
// Namespaces are immutable after construction.
type Namespace struct {
	name  string
	zones []string
	index map[string]int
}

// NewNamespace builds a namespace from an ordered list of zone names.
// It panics on an empty name or a duplicate zone: namespaces are declared in
// code and a bad declaration is a programming error.
func NewNamespace(name string, zones ...string) *Namespace {
	if name == "" {
		panic("zone: namespace name is required")
	}
	ns := &Namespace{
		name:  name,
		zones: make([]string, 0, len(zones)),
		index: make(map[string]int, len(zones)),
	}
	for _, z := range zones {
		if _, dup := ns.index[z]; dup {
			panic(fmt.Sprintf("zone: duplicate zone %q in namespace %q", z, name))
		}
		ns.index[z] = len(ns.zones)
		ns.zones = append(ns.zones, z)
	}
	return ns
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Zones returns every zone of the namespace in enumeration order.
func (n *Namespace) Zones() []ID {
	ids := make([]ID, len(n.zones))
	for i, z := range n.zones {
		ids[i] = ID{Namespace: n.name, Name: z}
	}
	return ids
}

// Len returns the number of zones in the namespace.
func (n *Namespace) Len() int {
	return len(n.zones)
}

// Contains reports whether id belongs to this namespace.
func (n *Namespace) Contains(id ID) bool {
	if id.Namespace != n.name {
		return false
	}
	_, ok := n.index[id.Name]
	return ok
}

// ID returns the ID for a zone name without validating it.
// Use Parse when the name comes from outside the program.
func (n *Namespace) ID(name string) ID {
	return ID{Namespace: n.name, Name: name}
}

// Parse resolves a zone name (case-sensitive, surrounding space trimmed).
func (n *Namespace) Parse(name string) (ID, error) {
	id := ID{Namespace: n.name, Name: strings.TrimSpace(name)}
	if !n.Contains(id) {
		return ID{}, &UnknownZoneError{Zone: id}
	}
	return id, nil
}

// Built-in namespaces for the supported input surfaces.
var (
	// TouchPanel is the 34-cell touch surface.
	TouchPanel = NewNamespace("touch",
		"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8",
		"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8",
		"C1", "C2",
		"D1", "D2", "D3", "D4", "D5", "D6", "D7", "D8",
		"E1", "E2", "E3", "E4", "E5", "E6", "E7", "E8",
	)

	// ButtonRing is the eight-button ring plus cabinet buttons.
	ButtonRing = NewNamespace("button",
		"BA1", "BA2", "BA3", "BA4", "BA5", "BA6", "BA7", "BA8",
		"ArrowUp", "ArrowDown", "Select", "InsertCoin",
	)
)
