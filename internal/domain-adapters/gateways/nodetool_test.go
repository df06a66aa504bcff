package gateways

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
)

// fakeNodetool writes a script that records its arguments and exits with code
func fakeNodetool(t *testing.T, exitCode int) (path, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	path = filepath.Join(dir, "nodetool")

	script := "#!/bin/sh\n" +
		"echo \"$@\" >> " + argsFile + "\n" +
		"echo 'nodetool: simulated failure' >&2\n" +
		"exit " + strconv.Itoa(exitCode) + "\n"
	//nolint:gosec // G306: test script must be executable
	if err := os.WriteFile(path, []byte(script), 0700); err != nil {
		t.Fatalf("Failed to write fake nodetool: %v", err)
	}
	return path, argsFile
}

func readArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("Failed to read args: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestExecuteCommand_Success(t *testing.T) {
	result := ExecuteCommand(context.Background(), CommandConfig{
		Path:    "echo",
		Args:    []string{"Hello, World!"},
		Timeout: time.Minute,
	})

	if !result.Success {
		t.Errorf("ExecuteCommand() failed: %v", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExecuteCommand() exit code = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "Hello, World!\n" {
		t.Errorf("ExecuteCommand() stdout = %q, want %q", result.Stdout, "Hello, World!\n")
	}
}

func TestExecuteCommand_NoShellExpansion(t *testing.T) {
	result := ExecuteCommand(context.Background(), CommandConfig{
		Path:    "echo",
		Args:    []string{"$HOME", "; rm -rf /"},
		Timeout: time.Minute,
	})

	if result.Stdout != "$HOME ; rm -rf /\n" {
		t.Errorf("ExecuteCommand() stdout = %q, arguments must not be interpreted", result.Stdout)
	}
}

func TestExecuteCommand_WithEnvironment(t *testing.T) {
	result := ExecuteCommand(context.Background(), CommandConfig{
		Path:    "sh",
		Args:    []string{"-c", "echo $TEST_VAR"},
		Env:     map[string]string{"TEST_VAR": "test_value"},
		Timeout: time.Minute,
	})

	if result.Stdout != "test_value\n" {
		t.Errorf("ExecuteCommand() stdout = %q, want %q", result.Stdout, "test_value\n")
	}
}

func TestExecuteCommand_Timeout(t *testing.T) {
	result := ExecuteCommand(context.Background(), CommandConfig{
		Path:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})

	if result.Success {
		t.Error("ExecuteCommand() should have timed out")
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "timeout") {
		t.Errorf("ExecuteCommand() error = %v, want timeout", result.Error)
	}
}

func TestNodetool_Snapshot(t *testing.T) {
	path, argsFile := fakeNodetool(t, 0)
	nt := NewNodetool(path, []string{"-h", "127.0.0.1"}, time.Minute, nil)
	ctx := context.Background()

	if err := nt.Snapshot(ctx, "daily", nil, "", false); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := nt.Snapshot(ctx, "daily", []string{"shop"}, "users", true); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := nt.ClearSnapshot(ctx, "daily", []string{"shop", "billing"}); err != nil {
		t.Fatalf("ClearSnapshot failed: %v", err)
	}

	want := []string{
		"-h 127.0.0.1 snapshot -t daily",
		"-h 127.0.0.1 snapshot -t daily -sf -cf users shop",
		"-h 127.0.0.1 clearsnapshot -t daily shop billing",
	}
	got := readArgs(t, argsFile)
	if len(got) != len(want) {
		t.Fatalf("invocations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invocation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNodetool_Snapshot_Failure(t *testing.T) {
	path, _ := fakeNodetool(t, 2)
	nt := NewNodetool(path, nil, time.Minute, nil)

	err := nt.Snapshot(context.Background(), "daily", nil, "", false)

	var ntErr *NodetoolError
	if !errors.As(err, &ntErr) {
		t.Fatalf("expected NodetoolError, got %v", err)
	}
	if ntErr.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", ntErr.ExitCode)
	}
	if !strings.Contains(ntErr.Error(), "simulated failure") {
		t.Errorf("error should include stderr, got %q", ntErr.Error())
	}
}

func TestNodetool_RejectsInvalidInput(t *testing.T) {
	path, argsFile := fakeNodetool(t, 0)
	nt := NewNodetool(path, nil, time.Minute, nil)
	ctx := context.Background()

	if err := nt.Snapshot(ctx, "bad tag; rm", nil, "", false); !errors.Is(err, entities.ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag, got %v", err)
	}
	if err := nt.ClearSnapshot(ctx, "", nil); !errors.Is(err, entities.ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag, got %v", err)
	}
	if err := nt.Snapshot(ctx, "daily", nil, "users", false); err == nil {
		t.Error("expected error for table without keyspace")
	}
	if _, err := os.Stat(argsFile); !os.IsNotExist(err) {
		t.Error("nodetool must not run for invalid input")
	}
}

func TestNewTag(t *testing.T) {
	now := time.Now()
	a := NewTag(now)
	b := NewTag(now)

	if a == b {
		t.Errorf("tags should be unique, both %q", a)
	}
	if a >= b {
		t.Errorf("tags should be monotonic: %q >= %q", a, b)
	}
	for _, tag := range []string{a, b} {
		if !strings.HasPrefix(tag, TagPrefix) {
			t.Errorf("tag %q missing prefix", tag)
		}
		if err := entities.ValidateTag(tag); err != nil {
			t.Errorf("generated tag %q is invalid: %v", tag, err)
		}
	}
}
