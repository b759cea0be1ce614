package warden

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/cellwarden/internal/allocator"
	"github.com/danmuck/cellwarden/internal/audit"
	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/danmuck/cellwarden/internal/provision"
	"github.com/danmuck/cellwarden/internal/reservation"
	"github.com/danmuck/cellwarden/internal/store"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"k8s.io/utils/clock"
)

var ErrMissingDependency = errors.New("warden: missing engine dependency")

// Deps are the collaborators an Engine drives.
type Deps struct {
	Catalog     *catalog.Catalog
	Store       store.Store
	Allocator   *allocator.Allocator
	Provisioner *provision.Provisioner
	Audit       audit.Log
	Clock       clock.PassiveClock
}

// EngineConfig holds the defaults applied to borrow requests.
type EngineConfig struct {
	DefaultMinutes int
	DefaultSpec    string
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMinutes: reservation.DefaultMinutes,
		DefaultSpec:    reservation.DefaultSpec,
	}
}

// BorrowRequest asks for a cell, or for changes to the cell the user already holds.
type BorrowRequest struct {
	User       string
	Credential string
	Minutes    int
	Spec       string
	Hint       string
}

func (r BorrowRequest) validate() error {
	if err := reservation.ValidateUser(r.User); err != nil {
		return err
	}
	if strings.TrimSpace(r.Credential) == "" || strings.ContainsAny(r.Credential, "\r\n") {
		return fmt.Errorf("%w: user key must be a single non-empty line", fault.ErrInvalidArgument)
	}
	if err := reservation.ValidateMinutes(r.Minutes); err != nil {
		return err
	}
	if r.Spec != "" {
		if err := reservation.ValidateSpec(r.Spec); err != nil {
			return err
		}
	}
	return nil
}

// Engine arbitrates cell reservations.
type Engine struct {
	mu sync.Mutex

	catalog *catalog.Catalog
	store   store.Store
	alloc   *allocator.Allocator
	prov    *provision.Provisioner
	audit   audit.Log
	clock   clock.PassiveClock
	cfg     EngineConfig
}

// NewEngine validates deps and cfg and returns a ready engine.
func NewEngine(deps Deps, cfg EngineConfig) (*Engine, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("%w: catalog", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Allocator == nil:
		return nil, fmt.Errorf("%w: allocator", ErrMissingDependency)
	case deps.Provisioner == nil:
		return nil, fmt.Errorf("%w: provisioner", ErrMissingDependency)
	case deps.Audit == nil:
		return nil, fmt.Errorf("%w: audit log", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if cfg.DefaultMinutes == 0 {
		cfg.DefaultMinutes = reservation.DefaultMinutes
	}
	if cfg.DefaultSpec == "" {
		cfg.DefaultSpec = reservation.DefaultSpec
	}
	if cfg.DefaultMinutes < 0 || cfg.DefaultMinutes > reservation.MaxMinutes {
		return nil, fmt.Errorf("%w: default minutes %d out of range", fault.ErrInvalidArgument, cfg.DefaultMinutes)
	}
	if err := reservation.ValidateSpec(cfg.DefaultSpec); err != nil {
		return nil, err
	}
	return &Engine{
		catalog: deps.Catalog,
		store:   deps.Store,
		alloc:   deps.Allocator,
		prov:    deps.Provisioner,
		audit:   deps.Audit,
		clock:   deps.Clock,
		cfg:     cfg,
	}, nil
}

// ListCells returns every cataloged cell.
func (e *Engine) ListCells() []string {
	return e.catalog.Cells()
}

// ListReserved returns the cells that currently hold a reservation.
func (e *Engine) ListReserved(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// ListAvailable returns cataloged cells without a reservation, in catalog order.
func (e *Engine) ListAvailable(ctx context.Context) ([]string, error) {
	cells, err := e.availableCells(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cells))
	for _, cell := range cells {
		names = append(names, cell.Name)
	}
	return names, nil
}

func (e *Engine) availableCells(ctx context.Context) ([]catalog.Cell, error) {
	reserved, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		taken[name] = struct{}{}
	}
	out := make([]catalog.Cell, 0)
	for _, name := range e.catalog.Cells() {
		if _, ok := taken[name]; ok {
			continue
		}
		cell, err := e.catalog.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}

// CurrentUserReservation scans reserved cells for the user's hold; nil means none.
func (e *Engine) CurrentUserReservation(ctx context.Context, user string) (*reservation.Reservation, error) {
	if err := reservation.ValidateUser(user); err != nil {
		return nil, err
	}
	cells, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, cell := range cells {
		r, ok, err := e.store.Get(ctx, cell)
		if err != nil {
			return nil, err
		}
		if ok && r.UserName == user {
			return &r, nil
		}
	}
	return nil, nil
}

// CurrentCellReservation returns the cell's reservation; nil means the cell is free.
func (e *Engine) CurrentCellReservation(ctx context.Context, cell string) (*reservation.Reservation, error) {
	if strings.TrimSpace(cell) == "" {
		return nil, fmt.Errorf("%w: cell name cannot be empty", fault.ErrInvalidArgument)
	}
	r, ok, err := e.store.Get(ctx, cell)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// Snapshot returns every active reservation ordered by cell name.
func (e *Engine) Snapshot(ctx context.Context) ([]reservation.Reservation, error) {
	cells, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reservation.Reservation, 0, len(cells))
	for _, cell := range cells {
		r, ok, err := e.store.Get(ctx, cell)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// BorrowCell reserves a cell for the user, or extends or re-reads the one they hold,
// and returns the cell definition.
//
// Only a user without a reservation gets a newly allocated and provisioned cell.
// With an existing hold, zero minutes is a pure read and a positive value restarts
// the window with the new duration.
func (e *Engine) BorrowCell(ctx context.Context, req BorrowRequest) (string, error) {
	ctx, span := observability.StartSpan(ctx, "warden.Engine.BorrowCell",
		attribute.String("user", req.User),
		attribute.Int("minutes", req.Minutes),
	)
	defer span.End()

	def, err := e.borrow(ctx, req)
	observability.RecordAction("borrow", outcome(err))
	if err != nil {
		span.RecordError(err)
		log.Warn().Str("user", req.User).Err(err).Msg("warden.Engine.BorrowCell failed")
	}
	return def, err
}

func (e *Engine) borrow(ctx context.Context, req BorrowRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.CurrentUserReservation(ctx, req.User)
	if err != nil {
		return "", err
	}
	if current != nil && req.Minutes == 0 {
		return e.definition(ctx, current.CellName)
	}

	now := e.now()
	var r reservation.Reservation
	if current == nil {
		available, err := e.availableCells(ctx)
		if err != nil {
			return "", err
		}
		cellName, err := e.alloc.Select(ctx, available, req.Hint)
		if err != nil {
			return "", err
		}
		r = reservation.Reservation{
			CellName: cellName,
			UserName: req.User,
			Start:    now,
			Duration: req.Minutes,
			Spec:     req.Spec,
		}
		if r.Duration == 0 {
			r.Duration = e.cfg.DefaultMinutes
		}
		if r.Spec == "" {
			r.Spec = e.cfg.DefaultSpec
		}
	} else {
		r = *current
		r.Start = now
		r.Duration = req.Minutes
	}

	if err := r.Validate(); err != nil {
		return "", err
	}
	cell, err := e.catalog.Lookup(r.CellName)
	if err != nil {
		return "", err
	}
	if err := e.store.Put(ctx, r); err != nil {
		return "", err
	}
	e.refreshReservedGauge(ctx)
	log.Info().
		Str("user", r.UserName).
		Str("cell", r.CellName).
		Str("spec", r.Spec).
		Int("minutes", r.Duration).
		Bool("extended", current != nil).
		Msg("warden.Engine.BorrowCell reserved")

	var provisionErr error
	if current == nil {
		provisionErr = e.prov.Create(ctx, cell, r.Spec, req.Credential)
	}
	if err := e.record(r, fmt.Sprintf("borrowed for %d minutes", r.Duration)); err != nil {
		return "", err
	}
	if provisionErr != nil {
		return "", fmt.Errorf("warden: cell %s reserved but not provisioned: %w", r.CellName, provisionErr)
	}
	return e.prov.Definition(ctx, cell)
}

// ReturnCell releases the user's reservation and tears the cell down.
func (e *Engine) ReturnCell(ctx context.Context, user string) error {
	ctx, span := observability.StartSpan(ctx, "warden.Engine.ReturnCell", attribute.String("user", user))
	defer span.End()

	err := e.returnCell(ctx, user)
	observability.RecordAction("return", outcome(err))
	if err != nil {
		span.RecordError(err)
		log.Warn().Str("user", user).Err(err).Msg("warden.Engine.ReturnCell failed")
	}
	return err
}

func (e *Engine) returnCell(ctx context.Context, user string) error {
	if err := reservation.ValidateUser(user); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.CurrentUserReservation(ctx, user)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: user %s has no cell reservations", fault.ErrNotFound, user)
	}
	return e.returnLocked(ctx, *r, "returned")
}

// Reclaim returns a cell whose reservation is past its deadline and reports
// whether it did. The record is re-read under the lock, so a reservation
// extended or returned since the caller looked is left alone.
func (e *Engine) Reclaim(ctx context.Context, cellName string) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "warden.Engine.Reclaim", attribute.String("cell", cellName))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok, err := e.store.Get(ctx, cellName)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !ok || !r.Expired(e.clock.Now()) {
		return false, nil
	}
	err = e.returnLocked(ctx, r, "reclaimed")
	observability.RecordAction("reclaim", outcome(err))
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return true, nil
}

// returnLocked is the single reclamation path; callers hold e.mu.
func (e *Engine) returnLocked(ctx context.Context, r reservation.Reservation, action string) error {
	if err := e.store.Delete(ctx, r.CellName); err != nil {
		return err
	}
	e.refreshReservedGauge(ctx)
	log.Info().
		Str("user", r.UserName).
		Str("cell", r.CellName).
		Str("action", action).
		Msg("warden.Engine.returnLocked released")

	var destroyErr error
	cell, err := e.catalog.Lookup(r.CellName)
	if err != nil {
		destroyErr = err
	} else {
		destroyErr = e.prov.Destroy(ctx, cell, r.Spec)
	}
	if err := e.record(r, action); err != nil {
		return err
	}
	if destroyErr != nil {
		return fmt.Errorf("warden: cell %s released but not destroyed: %w", r.CellName, destroyErr)
	}
	return nil
}

// PowerControl switches one node of the user's cell on or off and returns the
// command output. Reservation state is not touched.
func (e *Engine) PowerControl(ctx context.Context, user, nodeIP string, on bool) (string, error) {
	ctx, span := observability.StartSpan(ctx, "warden.Engine.PowerControl",
		attribute.String("user", user),
		attribute.String("node_ip", nodeIP),
		attribute.Bool("on", on),
	)
	defer span.End()

	out, err := e.powerControl(ctx, user, nodeIP, on)
	observability.RecordAction("power", outcome(err))
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (e *Engine) powerControl(ctx context.Context, user, nodeIP string, on bool) (string, error) {
	if err := reservation.ValidateUser(user); err != nil {
		return "", err
	}
	if net.ParseIP(strings.TrimSpace(nodeIP)) == nil {
		return "", fmt.Errorf("%w: invalid node ip %q", fault.ErrInvalidArgument, nodeIP)
	}
	r, err := e.CurrentUserReservation(ctx, user)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", fmt.Errorf("%w: user %s has no cell reservations", fault.ErrNotFound, user)
	}
	cell, err := e.catalog.Lookup(r.CellName)
	if err != nil {
		return "", err
	}
	state := "off"
	if on {
		state = "on"
	}
	if err := e.record(*r, fmt.Sprintf("%s powered %s", nodeIP, state)); err != nil {
		return "", err
	}
	return e.prov.Power(ctx, cell, strings.TrimSpace(nodeIP), on)
}

func (e *Engine) definition(ctx context.Context, cellName string) (string, error) {
	cell, err := e.catalog.Lookup(cellName)
	if err != nil {
		return "", err
	}
	return e.prov.Definition(ctx, cell)
}

func (e *Engine) record(r reservation.Reservation, action string) error {
	return e.audit.Append(audit.Entry{
		Time:   e.clock.Now(),
		User:   r.UserName,
		Cell:   r.CellName,
		Spec:   r.Spec,
		Action: action,
	})
}

// now truncates to the millisecond precision of the record encoding.
func (e *Engine) now() time.Time {
	return time.UnixMilli(e.clock.Now().UnixMilli())
}

func (e *Engine) refreshReservedGauge(ctx context.Context) {
	cells, err := e.store.List(ctx)
	if err != nil {
		return
	}
	observability.SetReservedCells(len(cells))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, fault.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, fault.ErrNotFound):
		return "not_found"
	case errors.Is(err, fault.ErrExhausted):
		return "exhausted"
	case errors.Is(err, fault.ErrExecution):
		return "execution_failure"
	case errors.Is(err, fault.ErrIO):
		return "io_failure"
	default:
		return "error"
	}
}
