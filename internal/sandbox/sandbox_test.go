package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerCapturesStdout(t *testing.T) {
	r := New("/bin/echo", Limits{Timeout: time.Second, Grace: 100 * time.Millisecond, StdoutCap: 1024}, "hello")

	result, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.Equal(t, "hello\n", string(result.Stdout))
}

func TestRunnerTimesOutLongRunningProcess(t *testing.T) {
	r := New("/bin/sleep", Limits{Timeout: 20 * time.Millisecond, Grace: 10 * time.Millisecond, StdoutCap: 1024}, "1")

	result, err := r.Run(context.Background(), nil)
	assert.True(t, result.TimedOut, "a process exceeding Timeout should be reported as timed out")
	assert.Equal(t, Timeout, result.ErrorKind)
	_ = err
}

func TestRunnerReportsRuntimeFaultOnNonzeroExit(t *testing.T) {
	r := New("/bin/sh", Limits{Timeout: time.Second, Grace: 100 * time.Millisecond, StdoutCap: 1024}, "-c", "exit 1")

	result, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RuntimeFault, result.ErrorKind)
	assert.Equal(t, 1, result.ExitCode)
}

func TestRunnerMarksSyntaxErrorFromStderr(t *testing.T) {
	r := New("/bin/sh", Limits{Timeout: time.Second, Grace: 100 * time.Millisecond, StdoutCap: 1024}, "-c", "echo SyntaxError: bad token 1>&2; exit 1")

	result, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, SyntaxError, result.ErrorKind)
}

func TestNewForLanguageRejectsUnsupportedLanguage(t *testing.T) {
	_, err := NewForLanguage("javascript", "/bin/echo", Limits{Timeout: time.Second, Grace: time.Millisecond, StdoutCap: 1024})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnsupportedLanguage, fault.Kind)
}

func TestAppendTruncationMarkerFitsWithinCap(t *testing.T) {
	out := appendTruncationMarker([]byte("0123456789"), 8, true)
	assert.LessOrEqual(t, int64(len(out)), int64(8))
	assert.Contains(t, string(out), truncatedMarker)
}

func TestCapBufferTruncatesPastLimit(t *testing.T) {
	buf := &capBuffer{cap: 4}

	n, err := buf.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n, "Write must report the full length even when truncating")
	assert.Equal(t, []byte("hell"), buf.buf)
	assert.True(t, buf.truncated)
}

func TestCapBufferAcceptsWithinLimit(t *testing.T) {
	buf := &capBuffer{cap: 100}

	_, err := buf.Write([]byte("ok"))
	require.NoError(t, err)
	assert.False(t, buf.truncated)
	assert.Equal(t, "ok", string(buf.buf))
}
