package store

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/reservation"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("reservations")

// Bolt stores reservations in one bbolt bucket keyed by cell name.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: store: open %s: %v", fault.ErrIO, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: store: init bucket: %v", fault.ErrIO, err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(_ context.Context, cell string) (reservation.Reservation, bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(cell)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return reservation.Reservation{}, false, fmt.Errorf("%w: store: get %s: %v", fault.ErrIO, cell, err)
	}
	if raw == nil {
		return reservation.Reservation{}, false, nil
	}
	r, err := reservation.Decode(string(raw))
	if err != nil {
		return reservation.Reservation{}, false, err
	}
	return r, true, nil
}

func (b *Bolt) Put(_ context.Context, r reservation.Reservation) error {
	if err := validKey(r.CellName); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(r.CellName), []byte(r.Encode()))
	})
	if err != nil {
		return fmt.Errorf("%w: store: unable to reserve cell %s: %v", fault.ErrIO, r.CellName, err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, cell string) error {
	found := true
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get([]byte(cell)) == nil {
			found = false
			return nil
		}
		return bkt.Delete([]byte(cell))
	})
	if err != nil {
		return fmt.Errorf("%w: store: unable to return cell %s: %v", fault.ErrIO, cell, err)
	}
	if !found {
		return missing(cell)
	}
	return nil
}

// List relies on bbolt's byte-ordered keys for sorting.
func (b *Bolt) List(_ context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: store: list: %v", fault.ErrIO, err)
	}
	return keys, nil
}
