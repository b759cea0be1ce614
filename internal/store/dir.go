package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/reservation"
)

// ReservedDir is the reservation directory relative to the warden root.
var ReservedDir = filepath.Join("cells", "reserved")

// Dir keeps one encoded record file per reserved cell.
type Dir struct {
	root string
}

// NewDir prepares <root>/cells/reserved and returns a store over it.
func NewDir(root string) (*Dir, error) {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = "."
	}
	dir := filepath.Join(resolved, ReservedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: store: create %s: %v", fault.ErrIO, dir, err)
	}
	return &Dir{root: dir}, nil
}

// Path is the directory holding the record files.
func (d *Dir) Path() string {
	return d.root
}

func (d *Dir) Get(_ context.Context, cell string) (reservation.Reservation, bool, error) {
	if err := validKey(cell); err != nil {
		return reservation.Reservation{}, false, err
	}
	raw, err := os.ReadFile(filepath.Join(d.root, cell))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return reservation.Reservation{}, false, nil
		}
		return reservation.Reservation{}, false, fmt.Errorf("%w: store: read %s: %v", fault.ErrIO, cell, err)
	}
	r, err := reservation.Decode(string(raw))
	if err != nil {
		return reservation.Reservation{}, false, err
	}
	return r, true, nil
}

// Put writes to a temp file in the same directory and renames it over the record.
func (d *Dir) Put(_ context.Context, r reservation.Reservation) error {
	if err := validKey(r.CellName); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.root, "."+r.CellName+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: store: unable to reserve cell %s: %v", fault.ErrIO, r.CellName, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(r.Encode()); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: store: unable to reserve cell %s: %v", fault.ErrIO, r.CellName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: store: sync %s: %v", fault.ErrIO, r.CellName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: store: close %s: %v", fault.ErrIO, r.CellName, err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.root, r.CellName)); err != nil {
		cleanup()
		return fmt.Errorf("%w: store: unable to reserve cell %s: %v", fault.ErrIO, r.CellName, err)
	}
	if err := d.syncDir(); err != nil {
		return fmt.Errorf("%w: store: sync reserve of %s: %v", fault.ErrIO, r.CellName, err)
	}
	return nil
}

func (d *Dir) Delete(_ context.Context, cell string) error {
	if err := validKey(cell); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.root, cell)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missing(cell)
		}
		return fmt.Errorf("%w: store: unable to return cell %s: %v", fault.ErrIO, cell, err)
	}
	if err := d.syncDir(); err != nil {
		return fmt.Errorf("%w: store: sync return of %s: %v", fault.ErrIO, cell, err)
	}
	return nil
}

// syncDir flushes the directory entry so a finished rename or remove survives a crash.
func (d *Dir) syncDir() error {
	dir, err := os.Open(d.root)
	if err != nil {
		return err
	}
	if err := dir.Sync(); err != nil {
		dir.Close()
		return err
	}
	return dir.Close()
}

// List skips dot files, which covers in-flight temp files.
func (d *Dir) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: store: list %s: %v", fault.ErrIO, d.root, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}
