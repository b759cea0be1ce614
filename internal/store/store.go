// Package store persists active reservations, one record per reserved cell.
//
// Backends:
// - Memory: process-local map, used by tests and ephemeral labs
//
// - Dir: one file per cell under <root>/cells/reserved, replaced atomically
//
// - Bolt: a single bbolt bucket keyed by cell name
//
// Every backend guarantees that a single Put or Delete is crash-consistent.
// Serializing read-decide-write sequences is the caller's job.
package store

import (
	"context"
	"fmt"

	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/reservation"
)

// Store is the key->record mapping behind the warden engine.
type Store interface {
	// Get returns the reservation for a cell; ok is false when the cell is not reserved.
	Get(ctx context.Context, cell string) (r reservation.Reservation, ok bool, err error)
	// Put creates or replaces the record for r.CellName.
	Put(ctx context.Context, r reservation.Reservation) error
	// Delete removes the record for a cell and fails if there was none to remove.
	Delete(ctx context.Context, cell string) error
	// List returns the names of all reserved cells in sorted order.
	List(ctx context.Context) ([]string, error)
}

func validKey(cell string) error {
	if !catalog.ValidName(cell) {
		return fmt.Errorf("%w: store: invalid cell key %q", fault.ErrInvalidArgument, cell)
	}
	return nil
}

func missing(cell string) error {
	return fmt.Errorf("%w: store: unable to return cell %q: no record", fault.ErrIO, cell)
}
