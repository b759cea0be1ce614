package wardend

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/cellwarden/internal/allocator"
	"github.com/danmuck/cellwarden/internal/api"
	"github.com/danmuck/cellwarden/internal/audit"
	"github.com/danmuck/cellwarden/internal/auth"
	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/danmuck/cellwarden/internal/provision"
	"github.com/danmuck/cellwarden/internal/remote"
	"github.com/danmuck/cellwarden/internal/store"
	"github.com/danmuck/cellwarden/internal/warden"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

var (
	ErrUnknownStore             = errors.New("wardend: unknown store backend")
	ErrUnknownExecutor          = errors.New("wardend: unknown executor")
	ErrInvalidHeartbeatInterval = errors.New("wardend: invalid heartbeat interval")
)

type StoreKind string

const (
	StoreDir    StoreKind = "dir"
	StoreBolt   StoreKind = "bolt"
	StoreMemory StoreKind = "memory"
)

type ExecutorKind string

const (
	ExecutorCommand ExecutorKind = "command"
	ExecutorSSH     ExecutorKind = "ssh"
	ExecutorLocal   ExecutorKind = "local"
)

// SSHConfig configures the in-process SSH executor.
type SSHConfig struct {
	User       string
	KeyPath    string
	KnownHosts string
	Insecure   bool
	Port       string
}

// ServiceConfig configures the wardend runtime.
type ServiceConfig struct {
	Root              string
	ListenAddr        string
	CORSOrigins       []string
	OperatorTokens    []string
	Store             StoreKind
	BoltPath          string
	AuditLog          string
	Executor          ExecutorKind
	CommandPrefix     string
	BinDir            string
	ExecTimeout       time.Duration
	HeartbeatInterval time.Duration
	SSH               SSHConfig
	Engine            warden.EngineConfig
	Sweeper           warden.SweeperConfig
	Tracing           observability.TracingConfig
	// Cells replaces the directory catalog when non-empty.
	Cells []catalog.Cell
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Root:              ".",
		ListenAddr:        "127.0.0.1:8080",
		Store:             StoreDir,
		Executor:          ExecutorCommand,
		BinDir:            provision.DefaultBinDir,
		ExecTimeout:       remote.DefaultTimeout,
		HeartbeatInterval: time.Minute,
		SSH:               SSHConfig{Port: "22"},
		Engine:            warden.DefaultEngineConfig(),
		Sweeper:           warden.DefaultSweeperConfig(),
		Tracing:           observability.DefaultTracingConfig(),
	}
}

// Service runs the warden lifecycle as a standalone process.
type Service struct {
	cfg ServiceConfig

	engine  *warden.Engine
	sweeper *warden.Sweeper
	api     *api.Server
	closers []func() error
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "."
	}
	if cfg.Store == "" {
		cfg.Store = StoreDir
	}
	if cfg.Executor == "" {
		cfg.Executor = ExecutorCommand
	}
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, s.cfg.Tracing)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing)

	if err := s.bootstrap(); err != nil {
		s.close()
		return err
	}
	defer s.close()
	return s.serve(ctx)
}

// Engine is nil until the service has bootstrapped.
func (s *Service) Engine() *warden.Engine {
	return s.engine
}

func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	cat, err := s.buildCatalog()
	if err != nil {
		return err
	}
	st, err := s.buildStore()
	if err != nil {
		return err
	}
	exec, err := s.buildExecutor()
	if err != nil {
		return err
	}

	engine, err := warden.NewEngine(warden.Deps{
		Catalog:     cat,
		Store:       st,
		Allocator:   allocator.New(allocator.EchoProber{Exec: exec}),
		Provisioner: provision.New(exec, s.cfg.BinDir),
		Audit:       audit.NewFile(s.auditPath()),
		Clock:       clock.RealClock{},
	}, s.cfg.Engine)
	if err != nil {
		return err
	}
	s.engine = engine
	s.sweeper = warden.NewSweeper(engine, clock.RealClock{}, s.cfg.Sweeper)
	if strings.TrimSpace(s.cfg.ListenAddr) != "" {
		s.api = api.New(s.cfg.ListenAddr, engine, api.Options{
			CORSOrigins: s.cfg.CORSOrigins,
			Auth:        auth.ForTokens(s.cfg.OperatorTokens),
		})
	}

	log.Info().
		Str("root", s.cfg.Root).
		Str("store", string(s.cfg.Store)).
		Str("executor", string(s.cfg.Executor)).
		Int("cells", cat.Len()).
		Str("listen", s.cfg.ListenAddr).
		Msg("wardend.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sweeper.Run(ctx)
	})
	if s.api != nil {
		g.Go(func() error {
			return s.api.Serve(ctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("wardend.Service.serve shutdown")
				return nil
			case <-ticker.C:
				s.heartbeat(ctx)
			}
		}
	})
	return g.Wait()
}

func (s *Service) heartbeat(ctx context.Context) {
	reserved, err := s.engine.ListReserved(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("wardend.Service.heartbeat store unreadable")
		return
	}
	observability.SetReservedCells(len(reserved))
	log.Info().
		Int("cells", len(s.engine.ListCells())).
		Int("reserved", len(reserved)).
		Msg("wardend.Service.heartbeat")
}

func (s *Service) buildCatalog() (*catalog.Catalog, error) {
	if len(s.cfg.Cells) > 0 {
		return catalog.FromEntries(s.cfg.Cells)
	}
	return catalog.LoadDir(s.cfg.Root)
}

func (s *Service) buildStore() (store.Store, error) {
	switch s.cfg.Store {
	case StoreDir:
		return store.NewDir(s.cfg.Root)
	case StoreBolt:
		path := strings.TrimSpace(s.cfg.BoltPath)
		if path == "" {
			path = filepath.Join(s.cfg.Root, "cells", "reservations.db")
		}
		b, err := store.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close)
		return b, nil
	case StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, s.cfg.Store)
	}
}

func (s *Service) buildExecutor() (remote.Executor, error) {
	switch s.cfg.Executor {
	case ExecutorCommand:
		return remote.CommandExecutor{
			Prefix:  s.cfg.CommandPrefix,
			Timeout: s.cfg.ExecTimeout,
		}, nil
	case ExecutorSSH:
		return remote.NewSSHExecutor(remote.SSHOptions{
			Port:                        s.cfg.SSH.Port,
			User:                        s.cfg.SSH.User,
			KeyPath:                     s.cfg.SSH.KeyPath,
			KnownHostsPath:              s.cfg.SSH.KnownHosts,
			InsecureSkipHostKeyChecking: s.cfg.SSH.Insecure,
			Timeout:                     s.cfg.ExecTimeout,
		})
	case ExecutorLocal:
		return remote.LocalExecutor{Timeout: s.cfg.ExecTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, s.cfg.Executor)
	}
}

func (s *Service) auditPath() string {
	if path := strings.TrimSpace(s.cfg.AuditLog); path != "" {
		return path
	}
	return filepath.Join(s.cfg.Root, "warden.log")
}

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("wardend.Service.close")
		}
	}
	s.closers = nil
}
