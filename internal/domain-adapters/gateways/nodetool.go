package gateways

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
)

// TagPrefix prefixes generated snapshot tags
const TagPrefix = "csp-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTag returns a sortable, unique snapshot tag such as csp-01HQ3...
func NewTag(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return TagPrefix + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// CommandConfig describes a single command invocation
type CommandConfig struct {
	Path    string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// ExecuteResult contains the result of command execution
type ExecuteResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// NodetoolError reports a failed nodetool invocation
type NodetoolError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *NodetoolError) Error() string {
	msg := fmt.Sprintf("nodetool %s failed (exit %d)", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NodetoolError) Unwrap() error {
	return e.Err
}

// Nodetool drives snapshot creation through the nodetool binary
type Nodetool struct {
	path           string
	args           []string
	defaultTimeout time.Duration
	logger         interfaces.Logger
}

// NewNodetool creates a nodetool gateway; args are prepended to every
// command (e.g. "-h", "127.0.0.1", "-p", "7199")
func NewNodetool(path string, args []string, timeout time.Duration, logger interfaces.Logger) *Nodetool {
	if path == "" {
		path = "nodetool"
	}
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Nodetool{path: path, args: args, defaultTimeout: timeout, logger: logger}
}

// ExecuteCommand runs a binary directly, without a shell
func ExecuteCommand(ctx context.Context, config CommandConfig) *ExecuteResult {
	startTime := time.Now()
	result := &ExecuteResult{}

	execCtx := ctx
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	//nolint:gosec // G204: command and arguments come from operator configuration
	cmd := exec.CommandContext(execCtx, config.Path, config.Args...)

	env := os.Environ()
	for key, value := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		result.ExitCode = -1

		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Error = fmt.Errorf("command timeout after %v", config.Timeout)
		case ctx.Err() != nil:
			result.Error = ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		}
		return result
	}

	result.Success = true
	return result
}

func (n *Nodetool) run(ctx context.Context, args ...string) error {
	full := append(append([]string{}, n.args...), args...)

	n.logger.Debug("running nodetool", interfaces.F("args", full))
	result := ExecuteCommand(ctx, CommandConfig{
		Path:    n.path,
		Args:    full,
		Timeout: n.defaultTimeout,
	})

	if !result.Success {
		return &NodetoolError{
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      result.Error,
		}
	}

	n.logger.Debug("nodetool finished",
		interfaces.F("command", args[0]),
		interfaces.F("duration", result.Duration),
	)
	return nil
}

// Snapshot runs nodetool snapshot -t <tag> [-sf] [-cf table] [keyspace...]
func (n *Nodetool) Snapshot(ctx context.Context, tag string, keyspaces []string, table string, skipFlush bool) error {
	if err := entities.ValidateTag(tag); err != nil {
		return err
	}
	if table != "" && len(keyspaces) != 1 {
		return fmt.Errorf("a table snapshot needs exactly one keyspace, got %d", len(keyspaces))
	}

	args := []string{"snapshot", "-t", tag}
	if skipFlush {
		args = append(args, "-sf")
	}
	if table != "" {
		args = append(args, "-cf", table)
	}
	args = append(args, keyspaces...)

	return n.run(ctx, args...)
}

// ClearSnapshot runs nodetool clearsnapshot -t <tag> [keyspace...]
func (n *Nodetool) ClearSnapshot(ctx context.Context, tag string, keyspaces []string) error {
	if err := entities.ValidateTag(tag); err != nil {
		return err
	}

	args := append([]string{"clearsnapshot", "-t", tag}, keyspaces...)
	return n.run(ctx, args...)
}
