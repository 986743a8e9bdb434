// Package diagnostic classifies device lifecycle and error notifications and
// routes them to subscribed handlers.
//
// A diagnostic is distinct from an input edge: it reports what happened to a
// device (attached, detached, failed to read, rejected a property) rather
// than what a user did to it. Every Event carries one of seven Kinds whose
// string spelling is stable, because downstream consumers classify messages by
// it.
//
// # Routing
//
// Dispatcher holds a table Kind → Handler installed by Subscribe. Dispatch
// invokes the matching handler synchronously on the raising goroutine, which
// is usually a device worker. Handlers must therefore only enqueue work for
// the consumer goroutine; they must never mutate consumer-owned state
// directly. Kinds without a handler are dropped and counted; this lets a host
// wire only the kinds it cares about.
//
// # Log surface
//
// Log is the observable, timestamped record of applied diagnostics. It is
// owned by the consumer goroutine and is not safe for concurrent use.
package diagnostic
