package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrUnknownKey = errors.New("config: unknown key")

// File is the on-disk wardend configuration.
type File struct {
	Root              string   `toml:"root"`
	ListenAddr        string   `toml:"listen_addr"`
	CORSOrigins       []string `toml:"cors_origins"`
	OperatorTokens    []string `toml:"operator_tokens"`
	Store             string   `toml:"store"`
	BoltPath          string   `toml:"bolt_path,omitempty"`
	AuditLog          string   `toml:"audit_log,omitempty"`
	Executor          string   `toml:"executor"`
	CommandPrefix     string   `toml:"command_prefix"`
	BinDir            string   `toml:"bin_dir"`
	ExecTimeout       string   `toml:"exec_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	SweepInterval     string   `toml:"sweep_interval"`
	SweepInitialDelay string   `toml:"sweep_initial_delay"`
	DefaultMinutes    int      `toml:"default_minutes"`
	DefaultSpec       string   `toml:"default_spec"`
	SSH               SSH      `toml:"ssh"`
	Tracing           Tracing  `toml:"tracing"`
	Cells             []Cell   `toml:"cells"`
}

type SSH struct {
	User       string `toml:"user"`
	KeyPath    string `toml:"key_path"`
	KnownHosts string `toml:"known_hosts"`
	Insecure   bool   `toml:"insecure"`
	Port       string `toml:"port"`
}

type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint,omitempty"`
	ServiceName string  `toml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type Cell struct {
	Name   string `toml:"name"`
	Host   string `toml:"host"`
	Prefix string `toml:"prefix"`
}

// Validate decodes path strictly, rejecting keys File does not declare, and
// checks the enumerated fields.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	var doc File
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&doc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w (%s):\n%s", ErrUnknownKey, path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return ValidateFile(doc)
}

func ValidateFile(doc File) error {
	switch strings.ToLower(strings.TrimSpace(doc.Store)) {
	case "", "dir", "bolt", "memory":
	default:
		return fmt.Errorf("config store %q must be dir, bolt, or memory", doc.Store)
	}
	switch strings.ToLower(strings.TrimSpace(doc.Executor)) {
	case "", "command", "ssh", "local":
	default:
		return fmt.Errorf("config executor %q must be command, ssh, or local", doc.Executor)
	}
	switch strings.ToLower(strings.TrimSpace(doc.Tracing.Exporter)) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("config tracing.exporter %q must be stdout or otlp", doc.Tracing.Exporter)
	}
	seen := make(map[string]struct{}, len(doc.Cells))
	for i, cell := range doc.Cells {
		if strings.TrimSpace(cell.Name) == "" {
			return fmt.Errorf("cells[%d] missing name", i)
		}
		if strings.TrimSpace(cell.Host) == "" || strings.TrimSpace(cell.Prefix) == "" {
			return fmt.Errorf("cells[%d] %s requires host and prefix", i, cell.Name)
		}
		if _, dup := seen[cell.Name]; dup {
			return fmt.Errorf("cells[%d] duplicates %s", i, cell.Name)
		}
		seen[cell.Name] = struct{}{}
	}
	return nil
}
