// Package audit appends one line per state-changing warden action.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
)

// TimeFormat is the timestamp layout of every entry.
const TimeFormat = "2006-01-02 15:04:05"

// Entry is one audited action.
type Entry struct {
	Time   time.Time
	User   string
	Cell   string
	Spec   string
	Action string
}

// Line renders "timestamp\tuser\tcell-spec\taction".
func (e Entry) Line() string {
	return fmt.Sprintf("%s\t%s\t%s-%s\t%s", e.Time.Format(TimeFormat), e.User, e.Cell, e.Spec, e.Action)
}

// Log is an append-only audit sink.
type Log interface {
	Append(e Entry) error
}

// File appends entries to a file, creating it on first use.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a file-backed audit log at path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Append(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: audit: %v", fault.ErrIO, err)
		}
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: audit: unable to log reservation action: %v", fault.ErrIO, err)
	}
	if _, err := fh.WriteString(e.Line() + "\n"); err != nil {
		fh.Close()
		return fmt.Errorf("%w: audit: unable to log reservation action: %v", fault.ErrIO, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("%w: audit: %v", fault.ErrIO, err)
	}
	return nil
}

// Recorder keeps entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Append(e Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

// Entries returns a copy of everything appended so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
