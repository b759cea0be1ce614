package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/mattn/go-shellwords"
)

// DefaultTimeout bounds every remote invocation.
const DefaultTimeout = 10 * time.Second

// DefaultSSHCommand is the client invocation CommandExecutor puts in front of the host.
const DefaultSSHCommand = "ssh -o ConnectTimeout=5"

// Executor runs one shell command on a target host and returns its stdout.
// A timed-out or non-zero-exit command yields an error wrapping fault.ErrExecution.
type Executor interface {
	Execute(ctx context.Context, host, command string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, host, command string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, host, command string) (string, error) {
	return f(ctx, host, command)
}

// CommandExecutor runs "<prefix> <ssh command> <host> <command>" as a local process.
// The remote command travels as a single argument so its quoting reaches the remote shell intact.
type CommandExecutor struct {
	Prefix     string
	SSHCommand string
	Timeout    time.Duration
}

func (e CommandExecutor) Execute(ctx context.Context, host, command string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: remote: host is required", fault.ErrInvalidArgument)
	}
	sshCommand := e.SSHCommand
	if strings.TrimSpace(sshCommand) == "" {
		sshCommand = DefaultSSHCommand
	}
	argv, err := shellwords.Parse(strings.TrimSpace(e.Prefix + " " + sshCommand))
	if err != nil {
		return "", fmt.Errorf("%w: remote: parse command prefix: %v", fault.ErrInvalidArgument, err)
	}
	argv = append(argv, host, command)
	return runBounded(ctx, timeoutOrDefault(e.Timeout), argv[0], argv[1:]...)
}

// LocalExecutor runs the command through "sh -c" on this machine.
type LocalExecutor struct {
	Shell   string
	Timeout time.Duration
}

func (e LocalExecutor) Execute(ctx context.Context, _ string, command string) (string, error) {
	shell := strings.TrimSpace(e.Shell)
	if shell == "" {
		shell = "/bin/sh"
	}
	return runBounded(ctx, timeoutOrDefault(e.Timeout), shell, "-c", command)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func runBounded(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := run(ctx, name, args...)
	if err == nil {
		return string(stdout), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: remote: %s timed out after %s", fault.ErrExecution, name, timeout)
	}
	return "", fmt.Errorf(
		"%w: remote: %s exit=%d stderr=%q: %v",
		fault.ErrExecution,
		name,
		exitCode,
		strings.TrimSpace(string(stderr)),
		err,
	)
}

// run executes a local process and reports its exit status the way a shell would.
func run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
