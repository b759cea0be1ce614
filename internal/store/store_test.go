package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/reservation"
	"github.com/danmuck/cellwarden/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("dir store: %v", err)
	}
	db, err := OpenBolt(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("bolt store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"dir":    dir,
		"bolt":   db,
	}
}

func sample(cell, user string) reservation.Reservation {
	return reservation.Reservation{
		CellName: cell,
		UserName: user,
		Start:    time.UnixMilli(1_700_000_000_000),
		Duration: 120,
		Spec:     "3+1",
	}
}

func TestStorePutGetListDelete(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "cell-a"); err != nil || ok {
				t.Fatalf("expected empty get, ok=%v err=%v", ok, err)
			}
			if err := s.Put(ctx, sample("cell-b", "bob")); err != nil {
				t.Fatalf("put b: %v", err)
			}
			if err := s.Put(ctx, sample("cell-a", "ann")); err != nil {
				t.Fatalf("put a: %v", err)
			}

			got, ok, err := s.Get(ctx, "cell-a")
			if err != nil || !ok {
				t.Fatalf("get a: ok=%v err=%v", ok, err)
			}
			if diff := cmp.Diff(sample("cell-a", "ann"), got); diff != "" {
				t.Fatalf("unexpected record (-want +got):\n%s", diff)
			}

			keys, err := s.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff([]string{"cell-a", "cell-b"}, keys); diff != "" {
				t.Fatalf("unexpected keys (-want +got):\n%s", diff)
			}

			if err := s.Delete(ctx, "cell-a"); err != nil {
				t.Fatalf("delete a: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "cell-a"); ok {
				t.Fatalf("expected cell-a gone after delete")
			}
			if err := s.Delete(ctx, "cell-a"); !errors.Is(err, fault.ErrIO) {
				t.Fatalf("expected io failure deleting missing record, got %v", err)
			}
		})
	}
}

func TestStorePutReplaces(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first := sample("cell-a", "ann")
			if err := s.Put(ctx, first); err != nil {
				t.Fatalf("put: %v", err)
			}
			second := first
			second.Duration = 30
			second.Start = first.Start.Add(time.Hour)
			if err := s.Put(ctx, second); err != nil {
				t.Fatalf("replace: %v", err)
			}
			got, _, err := s.Get(ctx, "cell-a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(second, got); diff != "" {
				t.Fatalf("unexpected record (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, cell := range []string{"", "../etc", ".hidden", "a/b"} {
				if err := s.Put(ctx, sample(cell, "ann")); !errors.Is(err, fault.ErrInvalidArgument) {
					t.Fatalf("expected %q rejected, got %v", cell, err)
				}
			}
		})
	}
}

func TestDirStoreUsesReservedLayoutAndSkipsTempFiles(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	root := t.TempDir()
	s, err := NewDir(root)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := s.Put(ctx, sample("cell-a", "ann")); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "cells", "reserved", "cell-a"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if string(raw) != sample("cell-a", "ann").Encode() {
		t.Fatalf("unexpected record body: %q", string(raw))
	}

	if err := os.WriteFile(filepath.Join(s.Path(), ".cell-z.tmp-123"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"cell-a"}, keys); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
}

func TestDirStoreCorruptRecordIsIOFailure(t *testing.T) {
	testlog.Start(t)

	s, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Path(), "cell-x"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "cell-x"); !errors.Is(err, fault.ErrIO) {
		t.Fatalf("expected io failure, got %v", err)
	}
}

func TestDirStoreSyncsDirectoryEntries(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	s, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := s.Put(ctx, sample("cell-a", "ann")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "cell-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := os.ReadDir(s.Path())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty reserved dir, found %d entries", len(entries))
	}
	if err := s.syncDir(); err != nil {
		t.Fatalf("sync live dir: %v", err)
	}

	if err := os.RemoveAll(s.Path()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.syncDir(); err == nil {
		t.Fatalf("expected sync of missing dir to fail")
	}
}
