package warden

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cellwarden/internal/allocator"
	"github.com/danmuck/cellwarden/internal/audit"
	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/provision"
	"github.com/danmuck/cellwarden/internal/remote"
	"github.com/danmuck/cellwarden/internal/reservation"
	"github.com/danmuck/cellwarden/internal/store"
	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// fakeRemote answers probes and scripts the way a healthy host would.
type fakeRemote struct {
	mu       sync.Mutex
	commands []string
	down     map[string]bool
	fail     map[string]error
	gates    map[string]*gate
}

// gate parks a script until released and reports whether the caller's
// context was still live when the script finished.
type gate struct {
	started  chan struct{}
	release  chan struct{}
	finished chan error
}

func newGate() *gate {
	return &gate{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		finished: make(chan error, 1),
	}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{down: map[string]bool{}, fail: map[string]error{}, gates: map[string]*gate{}}
}

func (f *fakeRemote) Execute(ctx context.Context, host, command string) (string, error) {
	f.mu.Lock()
	if f.down[host] {
		f.mu.Unlock()
		return "", fmt.Errorf("%w: host %s unreachable", fault.ErrExecution, host)
	}
	if nonce, ok := strings.CutPrefix(command, "echo "); ok {
		f.mu.Unlock()
		return nonce + "\n", nil
	}
	f.commands = append(f.commands, host+" "+command)
	fields := strings.Fields(strings.ReplaceAll(command, "'", ""))
	script := fields[0][strings.LastIndex(fields[0], "/")+1:]
	failure := f.fail[script]
	g := f.gates[script]
	f.mu.Unlock()

	if g != nil {
		close(g.started)
		<-g.release
		err := ctx.Err()
		g.finished <- err
		if err != nil {
			return "", fmt.Errorf("%w: %s interrupted: %v", fault.ErrExecution, script, err)
		}
	}
	if failure != nil {
		return "", failure
	}
	switch script {
	case "cell-def":
		return "definition of " + fields[1] + " on " + host, nil
	case "power-node":
		return "node " + fields[2] + " " + fields[3], nil
	}
	return "", nil
}

func (f *fakeRemote) hold(script string) *gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := newGate()
	f.gates[script] = g
	return g
}

func (f *fakeRemote) scripts(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, cmd := range f.commands {
		if strings.Contains(cmd, "/"+name+"'") {
			out = append(out, cmd)
		}
	}
	return out
}

// countingStore tracks mutations so tests can assert that a call wrote nothing.
type countingStore struct {
	store.Store
	mu        sync.Mutex
	puts      int
	deletes   int
	deleteErr map[string]error
}

func (s *countingStore) Put(ctx context.Context, r reservation.Reservation) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Store.Put(ctx, r)
}

func (s *countingStore) Delete(ctx context.Context, cell string) error {
	s.mu.Lock()
	s.deletes++
	err := s.deleteErr[cell]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, cell)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts + s.deletes
}

type harness struct {
	engine *Engine
	store  *countingStore
	remote *fakeRemote
	audit  *audit.Recorder
	clock  *testingclock.FakeClock
}

var defaultCells = []catalog.Cell{
	{Name: "c1", Host: "hostA", IPPrefix: "10.0.1"},
	{Name: "c2", Host: "hostA", IPPrefix: "10.0.2"},
	{Name: "c3", Host: "hostB", IPPrefix: "10.0.3"},
}

func newHarness(t *testing.T, cells []catalog.Cell) *harness {
	t.Helper()
	cat, err := catalog.FromEntries(cells)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h := &harness{
		store:  &countingStore{Store: store.NewMemory(), deleteErr: map[string]error{}},
		remote: newFakeRemote(),
		audit:  &audit.Recorder{},
		clock:  testingclock.NewFakeClock(epoch),
	}
	engine, err := NewEngine(Deps{
		Catalog:     cat,
		Store:       h.store,
		Allocator:   allocator.NewWithRand(allocator.EchoProber{Exec: h.remote}, func(int) int { return 0 }),
		Provisioner: provision.New(h.remote, ""),
		Audit:       h.audit,
		Clock:       h.clock,
	}, DefaultEngineConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) borrow(t *testing.T, user string, minutes int) string {
	t.Helper()
	def, err := h.engine.BorrowCell(context.Background(), BorrowRequest{
		User:       user,
		Credential: "ssh-ed25519 AAAA " + user,
		Minutes:    minutes,
	})
	if err != nil {
		t.Fatalf("borrow %s: %v", user, err)
	}
	return def
}

func (h *harness) held(t *testing.T, user string) reservation.Reservation {
	t.Helper()
	r, err := h.engine.CurrentUserReservation(context.Background(), user)
	if err != nil {
		t.Fatalf("current reservation %s: %v", user, err)
	}
	if r == nil {
		t.Fatalf("expected %s to hold a reservation", user)
	}
	return *r
}

func (h *harness) actions() []string {
	entries := h.audit.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.User+" "+e.Cell+" "+e.Action)
	}
	return out
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

var _ remote.Executor = (*fakeRemote)(nil)
