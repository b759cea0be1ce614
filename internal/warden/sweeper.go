package warden

import (
	"context"
	"time"

	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
)

const (
	DefaultSweepInitialDelay = 15 * time.Second
	DefaultSweepInterval     = 30 * time.Second
)

type SweeperConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		InitialDelay: DefaultSweepInitialDelay,
		Interval:     DefaultSweepInterval,
	}
}

// Sweeper periodically reclaims expired reservations.
type Sweeper struct {
	engine *Engine
	clock  clock.WithTicker
	cfg    SweeperConfig
}

func NewSweeper(engine *Engine, clk clock.WithTicker, cfg SweeperConfig) *Sweeper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	return &Sweeper{engine: engine, clock: clk, cfg: cfg}
}

// Run sweeps once after the initial delay and then on every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Dur("initial_delay", s.cfg.InitialDelay).
		Dur("interval", s.cfg.Interval).
		Msg("warden.Sweeper.Run started")

	timer := s.clock.NewTimer(s.cfg.InitialDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		log.Info().Msg("warden.Sweeper.Run stopped")
		return nil
	case <-timer.C():
	}
	s.tick(ctx)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("warden.Sweeper.Run stopped")
			return nil
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("warden.Sweeper.tick sweep incomplete")
	}
}

// Sweep reclaims every reservation past its deadline. A failure on one cell
// does not stop the others; all failures are combined in the returned error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "warden.Sweeper.Sweep")
	defer span.End()

	cells, err := s.engine.ListReserved(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	now := s.clock.Now()
	var errs error
	for _, cell := range cells {
		r, err := s.engine.CurrentCellReservation(ctx, cell)
		if err != nil {
			errs = multierr.Append(errs, err)
			log.Warn().Str("cell", cell).Err(err).Msg("warden.Sweeper.Sweep read failed")
			continue
		}
		if r == nil || !r.Expired(now) {
			continue
		}
		reclaimed, err := s.engine.Reclaim(ctx, cell)
		if err != nil {
			observability.RecordReclaim(false)
			errs = multierr.Append(errs, err)
			log.Warn().Str("cell", cell).Str("user", r.UserName).Err(err).Msg("warden.Sweeper.Sweep reclaim failed")
			continue
		}
		if !reclaimed {
			continue
		}
		observability.RecordReclaim(true)
		log.Info().
			Str("cell", cell).
			Str("user", r.UserName).
			Time("deadline", r.Deadline()).
			Msg("warden.Sweeper.Sweep reclaimed")
	}
	if errs != nil {
		span.RecordError(errs)
	}
	return errs
}
