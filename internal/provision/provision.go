// Package provision drives the per-host cell scripts: create-cell, destroy-cell,
// cell-def, and power-node. The scripts themselves live on the hosting servers.
package provision

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/danmuck/cellwarden/internal/remote"
	"github.com/rs/zerolog/log"
)

// DefaultBinDir is where the scripts live on each host, relative to the login directory.
const DefaultBinDir = "warden/bin"

// Commands renders script invocations with every argument shell-quoted.
type Commands struct {
	BinDir string
}

func (c Commands) Create(cell catalog.Cell, spec, key string) string {
	return joinCommand(c.script("create-cell"), []string{cell.Name, cell.IPPrefix, spec, key})
}

func (c Commands) Destroy(cell catalog.Cell, spec string) string {
	return joinCommand(c.script("destroy-cell"), []string{cell.Name, spec})
}

func (c Commands) Definition(cell catalog.Cell) string {
	return joinCommand(c.script("cell-def"), []string{cell.Name})
}

func (c Commands) Power(cell catalog.Cell, nodeIP string, on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return joinCommand(c.script("power-node"), []string{cell.Name, nodeIP, state})
}

func (c Commands) script(name string) string {
	dir := strings.TrimSpace(c.BinDir)
	if dir == "" {
		dir = DefaultBinDir
	}
	return path.Join(dir, name)
}

// Provisioner runs the scripts on a cell's hosting server.
type Provisioner struct {
	exec remote.Executor
	cmds Commands
}

// New builds a provisioner over exec; an empty binDir selects DefaultBinDir.
func New(exec remote.Executor, binDir string) *Provisioner {
	return &Provisioner{exec: exec, cmds: Commands{BinDir: binDir}}
}

// Create sets up the cell for the user's public key.
func (p *Provisioner) Create(ctx context.Context, cell catalog.Cell, spec, key string) error {
	_, err := p.run(ctx, "create", cell, p.cmds.Create(cell, spec, key))
	return err
}

// Destroy tears the cell down.
func (p *Provisioner) Destroy(ctx context.Context, cell catalog.Cell, spec string) error {
	_, err := p.run(ctx, "destroy", cell, p.cmds.Destroy(cell, spec))
	return err
}

// Definition fetches the cell's environment definition text.
func (p *Provisioner) Definition(ctx context.Context, cell catalog.Cell) (string, error) {
	return p.run(ctx, "definition", cell, p.cmds.Definition(cell))
}

// Power switches one node of the cell and returns the script output.
func (p *Provisioner) Power(ctx context.Context, cell catalog.Cell, nodeIP string, on bool) (string, error) {
	return p.run(ctx, "power", cell, p.cmds.Power(cell, nodeIP, on))
}

func (p *Provisioner) run(ctx context.Context, op string, cell catalog.Cell, command string) (string, error) {
	// Scripts run to completion or to the executor timeout; a caller that
	// goes away must not leave a cell half created or half destroyed.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	out, err := p.exec.Execute(ctx, cell.Host, command)
	elapsed := time.Since(start)
	observability.RecordRemoteExec(op, elapsed, err == nil)
	if err != nil {
		log.Warn().
			Str("op", op).
			Str("cell", cell.Name).
			Str("host", cell.Host).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("provision.Provisioner.run failed")
		return "", err
	}
	log.Debug().
		Str("op", op).
		Str("cell", cell.Name).
		Str("host", cell.Host).
		Dur("elapsed", elapsed).
		Msg("provision.Provisioner.run ok")
	return out, nil
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
