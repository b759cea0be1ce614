// Package warden owns the reservation engine and its expiry sweeper.
//
// Ownership boundary:
// - the per-cell state machine AVAILABLE -> RESERVED -> AVAILABLE
//
// - the exclusive section around every decide-then-persist sequence
//
// - wiring catalog, store, allocator, provisioning, and audit into one process
//
// Invariants:
// - a cell has at most one reservation
//
// - a user holds at most one reservation
//
// - a committed record is never rolled back because provisioning failed
//
// Reads do not take the engine lock and may observe a mutation in flight.
package warden
