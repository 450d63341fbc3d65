package proxmox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Executor runs a shell command on a Proxmox node.
type Executor interface {
	Run(ctx context.Context, addr, command string) (ExecResult, error)
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecuteInContainer runs command inside the container through `pct exec`
// on the node hosting it. A non-zero exit is a *CommandError unless
// tolerateNonZero is set, in which case stdout is returned as usual.
func (c *Client) ExecuteInContainer(ctx context.Context, node string, vmid int, command string, timeout time.Duration, tolerateNonZero bool) (string, error) {
	op := fmt.Sprintf("exec in container %d on %s", vmid, node)
	if c.exec == nil {
		return "", &Error{Kind: KindRemote, Op: op, Message: "no command executor configured"}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(c.NodeAddress(ctx, node), strconv.Itoa(c.cfg.SSHPort))
	full := fmt.Sprintf("pct exec %d -- sh -c %s", vmid, ShellQuote(command))

	res, err := c.exec.Run(ctx, addr, full)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, Op: op, Message: fmt.Sprintf("timeout after %s", timeout), Err: err}
		}
		return "", transportError(op, err)
	}
	if res.ExitCode != 0 && !tolerateNonZero {
		return res.Stdout, &CommandError{Command: command, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SSHExecutor runs commands over SSH with public key or password auth.
type SSHExecutor struct {
	config      *ssh.ClientConfig
	dialTimeout time.Duration
}

// NewSSHExecutor loads the private key at keyPath. When keyPath is empty,
// password auth is used.
func NewSSHExecutor(user, keyPath, password string) (*SSHExecutor, error) {
	var auth []ssh.AuthMethod
	if keyPath != "" {
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh executor needs a key or a password")
	}

	return &SSHExecutor{
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
		dialTimeout: 10 * time.Second,
	}, nil
}

func (e *SSHExecutor) Run(ctx context.Context, addr, command string) (ExecResult, error) {
	d := net.Dialer{Timeout: e.dialTimeout}
	tcpConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ExecResult{}, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, e.config)
	if err != nil {
		tcpConn.Close()
		return ExecResult{}, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		<-done
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err := <-done:
		res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("ssh run: %w", err)
		}
		return res, nil
	}
}
