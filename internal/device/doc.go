// Package device provides the Device Orchestrator for the I/O bridge.
//
// The orchestrator owns the connection lifecycle of every device class
// (touch panel, button ring, LED device), the per-session subscription tables,
// and the dedicated read goroutine of each connected class. Raw edges read by
// a driver are filtered and handed to the caller's callbacks on that read
// goroutine; callbacks must only enqueue work for the consumer goroutine.
//
// With a DebounceTimeMs window, a transition arriving inside the window is
// held rather than dropped. When the window closes, the zone's latest level
// is delivered from a settle timer if it differs from the last delivered one.
// Delivery for a session is serialised, so callbacks for one class never run
// concurrently.
//
// # Architecture
//
//	┌──────────────┐  Connect / Reset   ┌──────────────────────────────────┐
//	│     Host     │ ─────────────────▶ │           Orchestrator           │
//	└──────────────┘                    │  • state machine per class       │
//	                                    │  • subscription validation       │
//	                                    │  • one read goroutine per class  │
//	                                    └───────┬─────────────────┬────────┘
//	                                 Open/Read  │                 │ Dispatch
//	                                            ▼                 ▼
//	                                    ┌──────────────┐  ┌──────────────────┐
//	                                    │    Driver    │  │   diagnostic.    │
//	                                    │   + Worker   │  │   Dispatcher     │
//	                                    └──────────────┘  └──────────────────┘
//
// # State Machine
//
//	Disconnected ──Connect──▶ Connecting ──open ok──▶ Connected
//	     ▲                        │                      │
//	     │                   open failed            fatal fault
//	     │                        │                      ▼
//	     └────────────────────────┴──── Reset ◀── ConnectionError
//
// # Error Model
//
// Configuration errors (unknown device, duplicate session, unregistered
// zones, incomplete subscriptions) are returned synchronously by Connect.
// Runtime faults (open failure, invalid property, malformed read, lost
// connection) are never returned; they are raised as diagnostics. Recovery
// from a runtime fault is Reset followed by Connect.
//
// # Usage
//
//	orch := device.NewOrchestrator(device.Config{Zones: registry})
//	orch.SetLogger(log)
//	orch.SubscribeToEvents(handlers)
//	if err := orch.Register(sim.New("panel", device.TouchPanel)); err != nil {
//	    return err
//	}
//	if err := orch.Connect(ctx, "panel", nil, subs); err != nil {
//	    return err // configuration error
//	}
//	defer orch.Destroy()
//
// # Thread Safety
//
// All Orchestrator methods are safe for concurrent use. Connect, Reset and
// SetLED serialise on a session mutex that read goroutines never take.
package device
