package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
)

func TestLocalExecutorReturnsStdout(t *testing.T) {
	testlog.Start(t)

	out, err := LocalExecutor{}.Execute(context.Background(), "ignored", "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLocalExecutorNonZeroExitIsExecutionFailure(t *testing.T) {
	testlog.Start(t)

	out, err := LocalExecutor{}.Execute(context.Background(), "", "echo partial; exit 3")
	if !errors.Is(err, fault.ErrExecution) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if out != "" {
		t.Fatalf("failed command must not return output, got %q", out)
	}
	if !strings.Contains(err.Error(), "exit=3") {
		t.Fatalf("expected exit code in error: %v", err)
	}
}

func TestLocalExecutorTimeout(t *testing.T) {
	testlog.Start(t)

	start := time.Now()
	_, err := LocalExecutor{Timeout: 100 * time.Millisecond}.Execute(context.Background(), "", "sleep 5")
	if !errors.Is(err, fault.ErrExecution) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestCommandExecutorPassesRemoteCommandAsOneArgument(t *testing.T) {
	testlog.Start(t)

	exec := CommandExecutor{SSHCommand: "printf '%s|'"}
	out, err := exec.Execute(context.Background(), "host-1", "warden/bin/cell-def 'cell a'")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "host-1|warden/bin/cell-def 'cell a'|" {
		t.Fatalf("unexpected argv: %q", out)
	}
}

func TestCommandExecutorPrefix(t *testing.T) {
	testlog.Start(t)

	exec := CommandExecutor{Prefix: "env WARDEN=1", SSHCommand: "printf '%s|'"}
	out, err := exec.Execute(context.Background(), "h", "echo hi")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "h|echo hi|" {
		t.Fatalf("unexpected argv: %q", out)
	}
}

func TestCommandExecutorRejectsBadInput(t *testing.T) {
	testlog.Start(t)

	if _, err := (CommandExecutor{}).Execute(context.Background(), " ", "echo"); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("expected missing host rejected, got %v", err)
	}
	if _, err := (CommandExecutor{Prefix: `"unterminated`}).Execute(context.Background(), "h", "echo"); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("expected bad prefix rejected, got %v", err)
	}
}

func TestSSHAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := sshAddress(" ", "22"); err == nil {
		t.Fatalf("expected empty host rejected")
	}
	cases := map[string]string{
		"lab-1":      "lab-1:2222",
		"lab-1:2022": "lab-1:2022",
		"10.0.0.7":   "10.0.0.7:2222",
	}
	for host, want := range cases {
		addr, err := sshAddress(host, "2222")
		if err != nil || addr != want {
			t.Fatalf("%s: got %q err=%v, want %q", host, addr, err, want)
		}
	}
}

func TestNewSSHExecutorConfigErrors(t *testing.T) {
	testlog.Start(t)

	if _, err := NewSSHExecutor(SSHOptions{}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("expected missing user rejected, got %v", err)
	}
	if _, err := NewSSHExecutor(SSHOptions{User: "warden"}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("expected missing key rejected, got %v", err)
	}
	missing := filepath.Join(t.TempDir(), "absent")
	if _, err := NewSSHExecutor(SSHOptions{User: "warden", KeyPath: missing}); !errors.Is(err, fault.ErrIO) {
		t.Fatalf("expected unreadable key to be io failure, got %v", err)
	}
	garbage := filepath.Join(t.TempDir(), "id_garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := NewSSHExecutor(SSHOptions{User: "warden", KeyPath: garbage}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("expected unparsable key rejected, got %v", err)
	}
}

func TestSSHExecutorUnreachableHostIsExecutionFailure(t *testing.T) {
	testlog.Start(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	exec, err := NewSSHExecutor(SSHOptions{
		User:                        "warden",
		KeyPath:                     keyPath,
		Port:                        "1",
		InsecureSkipHostKeyChecking: true,
		Timeout:                     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new ssh executor: %v", err)
	}
	if _, err := exec.Execute(context.Background(), "127.0.0.1", "echo hi"); !errors.Is(err, fault.ErrExecution) {
		t.Fatalf("expected execution failure, got %v", err)
	}
}
