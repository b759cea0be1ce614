package config

import (
	"fmt"
	"os"

	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/wardend"
	"github.com/pelletier/go-toml/v2"
)

// FromService renders cfg in its on-disk form.
func FromService(cfg wardend.ServiceConfig) File {
	doc := File{
		Root:              cfg.Root,
		ListenAddr:        cfg.ListenAddr,
		CORSOrigins:       nonNil(cfg.CORSOrigins),
		OperatorTokens:    nonNil(cfg.OperatorTokens),
		Store:             string(cfg.Store),
		BoltPath:          cfg.BoltPath,
		AuditLog:          cfg.AuditLog,
		Executor:          string(cfg.Executor),
		CommandPrefix:     cfg.CommandPrefix,
		BinDir:            cfg.BinDir,
		ExecTimeout:       cfg.ExecTimeout.String(),
		HeartbeatInterval: cfg.HeartbeatInterval.String(),
		SweepInterval:     cfg.Sweeper.Interval.String(),
		SweepInitialDelay: cfg.Sweeper.InitialDelay.String(),
		DefaultMinutes:    cfg.Engine.DefaultMinutes,
		DefaultSpec:       cfg.Engine.DefaultSpec,
		SSH: SSH{
			User:       cfg.SSH.User,
			KeyPath:    cfg.SSH.KeyPath,
			KnownHosts: cfg.SSH.KnownHosts,
			Insecure:   cfg.SSH.Insecure,
			Port:       cfg.SSH.Port,
		},
		Tracing: Tracing{
			Enabled:     cfg.Tracing.Enabled,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		},
	}
	for _, cell := range cfg.Cells {
		doc.Cells = append(doc.Cells, Cell{Name: cell.Name, Host: cell.Host, Prefix: cell.IPPrefix})
	}
	return doc
}

// Template renders the default configuration for a warden root, inlining the
// cells found in its directory catalog.
func Template(root string) ([]byte, error) {
	cfg := wardend.DefaultServiceConfig()
	cfg.Root = root
	cat, err := catalog.LoadDir(root)
	if err != nil {
		return nil, err
	}
	for _, name := range cat.Cells() {
		cell, err := cat.Lookup(name)
		if err != nil {
			return nil, err
		}
		cfg.Cells = append(cfg.Cells, cell)
	}
	out, err := toml.Marshal(FromService(cfg))
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

func WriteTemplate(path string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
