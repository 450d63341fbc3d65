package proxmox

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	addr    string
	command string
	result  ExecResult
	err     error
	block   bool
}

func (f *fakeExecutor) Run(ctx context.Context, addr, command string) (ExecResult, error) {
	f.addr, f.command = addr, command
	if f.block {
		<-ctx.Done()
		return ExecResult{}, ctx.Err()
	}
	return f.result, f.err
}

func newExecClient(t *testing.T, exec Executor) *Client {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api2/json/cluster/status", r.URL.Path)
		w.Write([]byte(`{"data":[{"type":"cluster","name":"lab"},{"type":"node","name":"pve","ip":"10.0.0.2","online":1}]}`))
	})
	return NewClient(Config{
		Host:     "pve.test",
		User:     "root@pam",
		Password: "secret",
		BaseURL:  srv.URL + "/api2/json",
	}, exec, zerolog.Nop())
}

func TestExecuteInContainer(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{Stdout: "Docker version 27.3.1\n"}}
	c := newExecClient(t, exec)

	out, err := c.ExecuteInContainer(context.Background(), "pve", 200, "docker --version", time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, "Docker version 27.3.1\n", out)
	assert.Equal(t, "10.0.0.2:22", exec.addr)
	assert.Equal(t, "pct exec 200 -- sh -c 'docker --version'", exec.command)
}

func TestExecuteInContainer_UnknownNodeFallsBackToHost(t *testing.T) {
	exec := &fakeExecutor{}
	c := newExecClient(t, exec)

	_, err := c.ExecuteInContainer(context.Background(), "opti2", 201, "true", time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, "pve.test:22", exec.addr)
}

func TestExecuteInContainer_NonZeroExit(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{ExitCode: 100, Stderr: "E: Unable to locate package curl\n"}}
	c := newExecClient(t, exec)

	_, err := c.ExecuteInContainer(context.Background(), "pve", 200, "apt-get install -y curl", time.Minute, false)
	require.Error(t, err)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 100, ce.ExitCode)
	assert.Equal(t, "command exited with status 100: E: Unable to locate package curl", err.Error())
}

func TestExecuteInContainer_TolerateNonZero(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{ExitCode: 1, Stdout: "partial"}}
	c := newExecClient(t, exec)

	out, err := c.ExecuteInContainer(context.Background(), "pve", 200, "grep x /etc/hosts", time.Minute, true)
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
}

func TestExecuteInContainer_Timeout(t *testing.T) {
	exec := &fakeExecutor{block: true}
	c := newExecClient(t, exec)

	_, err := c.ExecuteInContainer(context.Background(), "pve", 200, "sleep 60", 20*time.Millisecond, false)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, IsTransient(err))
}

func TestExecuteInContainer_DialFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("dial 10.0.0.2:22: connection refused")}
	c := newExecClient(t, exec)

	_, err := c.ExecuteInContainer(context.Background(), "pve", 200, "true", time.Minute, false)
	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))
}

func TestExecuteInContainer_NoExecutor(t *testing.T) {
	c := NewClient(Config{Host: "pve.test"}, nil, zerolog.Nop())
	_, err := c.ExecuteInContainer(context.Background(), "pve", 200, "true", time.Minute, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command executor configured")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "'echo hi'", ShellQuote("echo hi"))
	assert.Equal(t, `'echo '\''quoted'\'''`, ShellQuote("echo 'quoted'"))
}
