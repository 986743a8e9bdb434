// Package zone defines the logical input zones of the I/O bridge and the
// Zone Registry that binds every zone to a host-supplied handle.
//
// A zone is a named region of a physical input surface: a cell of a touch
// panel or a position on a button ring. Zones live in namespaces; each
// namespace is a fixed, ordered enumeration.
//
//	zone.TouchPanel   A1..A8, B1..B8, C1, C2, D1..D8, E1..E8
//	zone.ButtonRing   BA1..BA8, ArrowUp, ArrowDown, Select, InsertCoin
//
// # Registry
//
// Registration is total, not partial. Register fails with a
// *MissingMappingError naming the first zone (in enumeration order) that has
// no handle, and a failed call leaves the previous mapping untouched:
//
//	reg := zone.NewRegistry[*board.Indicator]()
//	if err := reg.Register(zone.TouchPanel, byName); err != nil {
//	    return err // programming error: scene is incomplete
//	}
//	ind, err := reg.Lookup(zone.TouchPanel.ID("A1"))
//
// The handle type is opaque to this package. Handles are owned by the host and
// must only be mutated from the consumer goroutine; the registry itself never
// touches them.
//
// Thread Safety: Registry methods are safe for concurrent use. Register is
// expected to run once at startup (or on a full re-initialisation).
package zone
