package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions names the credentials and host trust for an SSHExecutor.
type SSHOptions struct {
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// SSHExecutor runs commands over an in-process SSH client with public key auth.
// The key and known_hosts are loaded once, when the executor is built.
type SSHExecutor struct {
	port    string
	timeout time.Duration
	config  *ssh.ClientConfig
}

// NewSSHExecutor loads the private key and host key policy named by opts.
func NewSSHExecutor(opts SSHOptions) (*SSHExecutor, error) {
	user := strings.TrimSpace(opts.User)
	if user == "" {
		return nil, fmt.Errorf("%w: remote: ssh user is required", fault.ErrInvalidArgument)
	}
	if strings.TrimSpace(opts.KeyPath) == "" {
		return nil, fmt.Errorf("%w: remote: ssh key path is required", fault.ErrInvalidArgument)
	}
	raw, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: remote: read key %s: %v", fault.ErrIO, opts.KeyPath, err)
	}
	var signer ssh.Signer
	if len(opts.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, opts.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: remote: parse key %s: %v", fault.ErrInvalidArgument, opts.KeyPath, err)
	}
	hostKeys, err := hostKeyPolicy(opts)
	if err != nil {
		return nil, err
	}

	port := strings.TrimSpace(opts.Port)
	if port == "" {
		port = "22"
	}
	timeout := timeoutOrDefault(opts.Timeout)
	return &SSHExecutor{
		port:    port,
		timeout: timeout,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         timeout,
		},
	}, nil
}

func hostKeyPolicy(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureSkipHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := strings.TrimSpace(opts.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: remote: known_hosts unset and no home dir", fault.ErrInvalidArgument)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: remote: known_hosts %s: %v", fault.ErrIO, path, err)
	}
	return callback, nil
}

func (e *SSHExecutor) Execute(ctx context.Context, host, command string) (string, error) {
	timeout := e.timeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.dial(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: remote: dial %s: %v", fault.ErrExecution, host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: remote: session %s: %v", fault.ErrExecution, host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the client unblocks session.Run.
		_ = client.Close()
		<-done
		return "", fmt.Errorf("%w: remote: %s on %s timed out after %s", fault.ErrExecution, firstWord(command), host, timeout)
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		exitCode := -1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		}
		return "", fmt.Errorf(
			"%w: remote: %s on %s exit=%d stderr=%q: %v",
			fault.ErrExecution,
			firstWord(command),
			host,
			exitCode,
			strings.TrimSpace(stderr.String()),
			err,
		)
	}
}

func (e *SSHExecutor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	address, err := sshAddress(host, e.port)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, e.config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// sshAddress keeps a host that already names its port.
func sshAddress(host, port string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, port), nil
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
