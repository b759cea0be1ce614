// Package reservation owns the reservation record and its durable encoding.
//
// Ownership boundary:
// - input grammar for user names, cell specs, and durations
//
// - the tab-delimited record codec used by every store backend
//
// A record is created, extended, and deleted only by the warden engine.
package reservation
