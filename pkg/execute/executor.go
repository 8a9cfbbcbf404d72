// Package execute is the Remote Executor (spec §4.B): a uniform way to run
// shell commands, move files, and exec into a running container on a host,
// whether that host is this process's own machine or a peer reached over
// SSH. Callers never branch on "local vs remote" themselves — Executor
// hides it behind the host argument.
package execute

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// LocalHost is the sentinel host name that routes a call to the in-process
// executor instead of dialing SSH.
const LocalHost = "local"

// Result is the outcome of a Run or ExecInContainer call.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Executor is the contract every caller in this system programs against.
// host == LocalHost runs in-process; any other value is dialed over SSH.
// All operations are suspension points with a hard timeout; transport-level
// failures (not command failures — a non-zero exit is not a transport
// failure) are retried up to 3 times with exponential backoff capped at 8s.
type Executor interface {
	// Run executes cmd on host as user, optionally piping stdin, and
	// returns its exit code and captured output. Commands must be
	// idempotent; Run does not interpret or retry non-zero exits.
	Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*Result, error)

	// Upload writes data to path on host, creating parent directories
	// as needed, with the given file mode.
	Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error

	// Download reads path from host and returns its contents.
	Download(ctx context.Context, host, user, path string) ([]byte, error)

	// ExecInContainer runs cmd inside the named running container on
	// host and returns its exit code and captured output.
	ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*Result, error)
}

// retryConfig bounds the transport-level retry policy shared by local and
// SSH executors (spec §4.B: "retries only on transport-level errors, up to
// 3, exponential backoff ≤ 8s").
var retryConfig = struct {
	attempts int
	maxDelay time.Duration
}{attempts: 3, maxDelay: 8 * time.Second}

// withTransportRetry runs fn up to retryConfig.attempts times, backing off
// exponentially (1s, 2s, 4s, capped at maxDelay) between attempts. fn must
// return a *forgeerr.Error of kind TransportError for the failure to be
// considered retryable; any other error (or nil) stops the loop immediately.
func withTransportRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := time.Second
	for attempt := 0; attempt < retryConfig.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > retryConfig.maxDelay {
				delay = retryConfig.maxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		fe, ok := err.(*forgeerr.Error)
		if !ok || fe.Kind != forgeerr.TransportError {
			return err
		}
	}
	return lastErr
}
