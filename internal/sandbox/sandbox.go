// Package sandbox implements the User-Code Sandbox (spec §4.2): a bounded
// subprocess that receives a user's policy code on stdin and runs it,
// capturing its stdout/stderr, capped on wall time, memory, and
// captured-output size per
// SANDBOX_DEFAULT_TIMEOUT_MS/SANDBOX_GRACE_MS/SANDBOX_STDOUT_CAP_BYTES.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cosimio/cosim/internal/logger"
)

// truncatedMarker is appended to stdout/stderr that hit the configured cap,
// spec §4.2 guarantee (a): "truncated to the cap with a trailing …truncated
// marker rather than aborted".
const truncatedMarker = "…truncated"

// SupportedLanguages are the language tags Execute accepts in-core, spec
// §4.2 "python is the only supported tag in-core; others reserved".
var SupportedLanguages = map[string]bool{"python": true}

// ErrorKind classifies a failed sandboxed run into the typed categories spec
// §4.2/§7 "Sandbox" require.
type ErrorKind string

const (
	Timeout             ErrorKind = "Timeout"
	MemoryExceeded      ErrorKind = "MemoryExceeded"
	RuntimeFault        ErrorKind = "RuntimeFault"
	SyntaxError         ErrorKind = "SyntaxError"
	UnsupportedLanguage ErrorKind = "UnsupportedLanguage"
)

// Limits bounds one sandboxed run.
type Limits struct {
	Timeout       time.Duration
	Grace         time.Duration
	StdoutCap     int64
	MemLimitBytes int64
}

// Runner executes user-supplied code in a subprocess under Limits.
type Runner struct {
	binary string
	args   []string
	limits Limits
}

// New constructs a Runner that execs binary (a per-language launcher that
// loads the user's code and drives one episode) under limits.
func New(binary string, limits Limits, args ...string) *Runner {
	return &Runner{binary: binary, args: args, limits: limits}
}

// NewForLanguage resolves the in-core launcher for a requested language tag,
// failing fast with UnsupportedLanguage rather than spawning a subprocess
// that can never succeed (spec §4.2).
func NewForLanguage(language, launcherBinary string, limits Limits, args ...string) (*Runner, error) {
	if !SupportedLanguages[language] {
		return nil, &Fault{Kind: UnsupportedLanguage, Message: fmt.Sprintf("language %q is not supported", language)}
	}
	return New(launcherBinary, limits, args...), nil
}

// Fault reports a sandbox-classified failure ahead of any subprocess run
// (e.g. an unsupported language tag).
type Fault struct {
	Kind    ErrorKind
	Message string
}

func (f *Fault) Error() string { return fmt.Sprintf("sandbox fault (%s): %s", f.Kind, f.Message) }

// Result is the outcome of one sandboxed run, spec §4.2
// "{status: ok|error, stdout, stderr, error_kind?, final_state?}".
type Result struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	TimedOut  bool
	ErrorKind ErrorKind // empty when the run succeeded
}

// Run executes the sandboxed subprocess with input piped to stdin, enforcing
// the wall-time timeout plus grace window, a memory cap, and size-capped
// stdout/stderr.
func (r *Runner) Run(ctx context.Context, input []byte) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	cmd := r.buildCommand(runCtx)
	cmd.Stdin = bytes.NewReader(input)

	// spec §5 "Sandbox enforces timeout + grace; exceeding grace marks the
	// Agent instance faulted": SIGTERM at the timeout deadline, SIGKILL if the
	// process hasn't exited after Grace more — the stdlib's documented
	// Cancel/WaitDelay hook for context-bound subprocesses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.limits.Grace

	var stdout, stderr capBuffer
	stdout.cap = r.limits.StdoutCap
	stderr.cap = r.limits.StdoutCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if timedOut {
		logger.Agent().Warn().Str("binary", r.binary).Msg("sandbox run exceeded timeout")
	}

	result := &Result{
		Stdout:   appendTruncationMarker(stdout.buf, stdout.cap, stdout.truncated),
		Stderr:   appendTruncationMarker(stderr.buf, stderr.cap, stderr.truncated),
		TimedOut: timedOut,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil && !timedOut {
		return result, fmt.Errorf("run sandboxed subprocess: %w", err)
	}

	result.ErrorKind = classify(result, r.limits, exitErr)
	return result, nil
}

// buildCommand wraps the launcher with prlimit(1) to enforce MemLimitBytes —
// Go's os/exec has no per-child rlimit hook, and wrapping with the
// standard-issue util-linux binary is the conventional way to bound a
// subprocess's address space without a container runtime per invocation.
func (r *Runner) buildCommand(runCtx context.Context) *exec.Cmd {
	if r.limits.MemLimitBytes <= 0 {
		return exec.CommandContext(runCtx, r.binary, r.args...)
	}
	args := append([]string{"--as=" + strconv.FormatInt(r.limits.MemLimitBytes, 10), "--", r.binary}, r.args...)
	return exec.CommandContext(runCtx, "prlimit", args...)
}

// classify maps a completed run onto the spec §4.2 error_kind taxonomy. A
// nonzero ErrorKind means the run failed; the zero value means it succeeded.
func classify(result *Result, limits Limits, exitErr *exec.ExitError) ErrorKind {
	if result.TimedOut {
		return Timeout
	}
	if result.ExitCode == 0 {
		return ""
	}
	if limits.MemLimitBytes > 0 && killedBySignal(exitErr, syscall.SIGSEGV, syscall.SIGKILL, syscall.SIGBUS) {
		return MemoryExceeded
	}
	if strings.Contains(string(result.Stderr), "SyntaxError") {
		return SyntaxError
	}
	return RuntimeFault
}

func killedBySignal(exitErr *exec.ExitError, sigs ...syscall.Signal) bool {
	if exitErr == nil {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return false
	}
	for _, s := range sigs {
		if status.Signal() == s {
			return true
		}
	}
	return false
}

// appendTruncationMarker replaces the tail of a capped buffer with
// truncatedMarker so the cap is never exceeded by the marker itself.
func appendTruncationMarker(buf []byte, cap int64, truncated bool) []byte {
	if !truncated {
		return buf
	}
	marker := []byte(truncatedMarker)
	if int64(len(marker)) >= cap {
		return marker[:cap]
	}
	keep := cap - int64(len(marker))
	if int64(len(buf)) > keep {
		buf = buf[:keep]
	}
	return append(buf, marker...)
}

// capBuffer is an io.Writer that stops accepting bytes past cap, recording
// truncation instead of growing unbounded — guards against a misbehaving
// user program filling memory via stdout/stderr.
type capBuffer struct {
	buf       []byte
	cap       int64
	truncated bool
}

func (c *capBuffer) Write(p []byte) (int, error) {
	if int64(len(c.buf)) >= c.cap {
		c.truncated = true
		return len(p), nil
	}
	remaining := c.cap - int64(len(c.buf))
	if int64(len(p)) > remaining {
		c.buf = append(c.buf, p[:remaining]...)
		c.truncated = true
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}
