package allocator

import (
	"context"
	"strings"

	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/danmuck/cellwarden/internal/remote"
	"github.com/google/uuid"
)

// Prober reports whether a hosting server is reachable right now.
type Prober interface {
	Probe(ctx context.Context, host string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, host string) bool

func (f ProberFunc) Probe(ctx context.Context, host string) bool {
	return f(ctx, host)
}

// EchoProber echoes a fresh nonce on the host and requires it back,
// so a stale or cached answer never counts as alive.
type EchoProber struct {
	Exec remote.Executor
}

func (p EchoProber) Probe(ctx context.Context, host string) bool {
	nonce := uuid.NewString()
	out, err := p.Exec.Execute(context.WithoutCancel(ctx), host, "echo "+nonce)
	reachable := err == nil && strings.Contains(out, nonce)
	observability.RecordProbe(reachable)
	return reachable
}
