package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/config"
	"github.com/danmuck/cellwarden/internal/wardend"
)

func loadServiceConfig(path string) (wardend.ServiceConfig, error) {
	cfg := wardend.DefaultServiceConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return wardend.ServiceConfig{}, fmt.Errorf("load wardend config: %w", err)
	}

	if meta.IsDefined("root") {
		if root := strings.TrimSpace(raw.Root); root != "" {
			cfg.Root = root
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("operator_tokens") {
		cfg.OperatorTokens = normalizeList(raw.OperatorTokens)
	}
	if meta.IsDefined("store") {
		cfg.Store = wardend.StoreKind(strings.ToLower(strings.TrimSpace(raw.Store)))
	}
	if meta.IsDefined("bolt_path") {
		cfg.BoltPath = strings.TrimSpace(raw.BoltPath)
	}
	if meta.IsDefined("audit_log") {
		cfg.AuditLog = strings.TrimSpace(raw.AuditLog)
	}
	if meta.IsDefined("executor") {
		cfg.Executor = wardend.ExecutorKind(strings.ToLower(strings.TrimSpace(raw.Executor)))
	}
	if meta.IsDefined("command_prefix") {
		cfg.CommandPrefix = strings.TrimSpace(raw.CommandPrefix)
	}
	if meta.IsDefined("bin_dir") {
		cfg.BinDir = strings.TrimSpace(raw.BinDir)
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"exec_timeout", raw.ExecTimeout, &cfg.ExecTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"sweep_interval", raw.SweepInterval, &cfg.Sweeper.Interval},
		{"sweep_initial_delay", raw.SweepInitialDelay, &cfg.Sweeper.InitialDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return wardend.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if meta.IsDefined("default_minutes") {
		cfg.Engine.DefaultMinutes = raw.DefaultMinutes
	}
	if meta.IsDefined("default_spec") {
		cfg.Engine.DefaultSpec = strings.TrimSpace(raw.DefaultSpec)
	}

	if meta.IsDefined("ssh", "user") {
		cfg.SSH.User = strings.TrimSpace(raw.SSH.User)
	}
	if meta.IsDefined("ssh", "key_path") {
		cfg.SSH.KeyPath = strings.TrimSpace(raw.SSH.KeyPath)
	}
	if meta.IsDefined("ssh", "known_hosts") {
		cfg.SSH.KnownHosts = strings.TrimSpace(raw.SSH.KnownHosts)
	}
	if meta.IsDefined("ssh", "insecure") {
		cfg.SSH.Insecure = raw.SSH.Insecure
	}
	if meta.IsDefined("ssh", "port") {
		cfg.SSH.Port = strings.TrimSpace(raw.SSH.Port)
	}

	if meta.IsDefined("tracing", "enabled") {
		cfg.Tracing.Enabled = raw.Tracing.Enabled
	}
	if meta.IsDefined("tracing", "exporter") {
		cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(raw.Tracing.Exporter))
	}
	if meta.IsDefined("tracing", "endpoint") {
		cfg.Tracing.Endpoint = strings.TrimSpace(raw.Tracing.Endpoint)
	}
	if meta.IsDefined("tracing", "service_name") {
		cfg.Tracing.ServiceName = strings.TrimSpace(raw.Tracing.ServiceName)
	}
	if meta.IsDefined("tracing", "sample_ratio") {
		if raw.Tracing.SampleRatio < 0 || raw.Tracing.SampleRatio > 1 {
			return wardend.ServiceConfig{}, fmt.Errorf("tracing.sample_ratio %v outside [0,1]", raw.Tracing.SampleRatio)
		}
		cfg.Tracing.SampleRatio = raw.Tracing.SampleRatio
	}

	if meta.IsDefined("cells") {
		cells, err := parseCells(raw.Cells)
		if err != nil {
			return wardend.ServiceConfig{}, err
		}
		cfg.Cells = cells
	}

	return cfg, nil
}

func parseCells(in []config.Cell) ([]catalog.Cell, error) {
	out := make([]catalog.Cell, 0, len(in))
	for i, c := range in {
		name := strings.TrimSpace(c.Name)
		host := strings.TrimSpace(c.Host)
		prefix := strings.TrimSpace(c.Prefix)
		if name == "" || host == "" || prefix == "" {
			return nil, fmt.Errorf("cells[%d]: name, host, and prefix are required", i)
		}
		out = append(out, catalog.Cell{Name: name, Host: host, IPPrefix: prefix})
	}
	if _, err := catalog.FromEntries(out); err != nil {
		return nil, fmt.Errorf("cells: %w", err)
	}
	return out, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
