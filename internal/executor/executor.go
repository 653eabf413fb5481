package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/breeze-rmm/os-patching/internal/logging"
)

var log = logging.L("executor")

const (
	// MaxOutputSize caps each captured stream.
	MaxOutputSize = 8 * 1024 * 1024 // 8MB

	// LaunchFailedExitCode is reported when a command never started,
	// matching the shell's "command not found" status.
	LaunchFailedExitCode = 127

	defaultKillGrace = 10 * time.Second
)

// State is where a command ended up.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateLaunchFailed:
		return "launch_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Command describes one child process.
type Command struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
	// Timeout bounds the run; zero leaves only the caller's context.
	Timeout time.Duration
}

// String renders the command for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)
	parts = append(parts, c.Env...)
	parts = append(parts, c.Path)
	parts = append(parts, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command. Stdout and Stderr hold
// whatever was captured, including partial output of a timed out run.
type Result struct {
	State    State
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command completed with status zero.
func (r *Result) Success() bool {
	return r != nil && r.State == StateCompleted && r.ExitCode == 0
}

// ExitError describes a command that did not complete with status zero.
type ExitError struct {
	Command string
	State   State
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %s with exit code %d", e.Command, e.State, e.Code)
	}
	return fmt.Sprintf("%s: %s with exit code %d: %s", e.Command, e.State, e.Code, msg)
}

// AsError converts the return values of Run into nil on success or an
// *ExitError otherwise.
func AsError(c Command, result *Result, runErr error) error {
	if runErr == nil && result.Success() {
		return nil
	}
	exitErr := &ExitError{Command: c.String(), State: StateLaunchFailed, Code: LaunchFailedExitCode}
	if result != nil {
		exitErr.State = result.State
		exitErr.Code = result.ExitCode
		exitErr.Stderr = result.Stderr
	}
	if exitErr.Stderr == "" && runErr != nil {
		exitErr.Stderr = runErr.Error()
	}
	return exitErr
}

// Runner executes commands in their own process group. On timeout the whole
// group receives SIGTERM; pipes are force-closed after the kill grace period.
type Runner struct {
	progressInterval time.Duration
	killGrace        time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgressInterval makes the runner log a debug line at this interval
// while a command is running. Zero disables it.
func WithProgressInterval(d time.Duration) Option {
	return func(r *Runner) { r.progressInterval = d }
}

// WithKillGrace sets how long Wait may block on pipes after the process
// group was signalled.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{killGrace: defaultKillGrace}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the command and blocks until it exits, times out, or fails to
// launch. A run is timed out only when the process group was still alive
// when the deadline fired. An error is returned only when the command could not be started;
// a nonzero exit or a timeout is reported through the Result.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	result := &Result{State: StateNotStarted}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)

	stdout := &limitedWriter{limit: MaxOutputSize}
	stderr := &limitedWriter{limit: MaxOutputSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// terminated is set only when the deadline signal reached a live group. A
	// child that already exited while a forked helper still holds its pipes
	// is not a timeout; WaitDelay bounds the wait for those pipes.
	var terminated atomic.Bool
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		err := terminateProcessGroup(cmd)
		if err == nil {
			terminated.Store(true)
		}
		return err
	}
	cmd.WaitDelay = r.killGrace

	started := time.Now()
	if err := cmd.Start(); err != nil {
		result.State = StateLaunchFailed
		result.ExitCode = LaunchFailedExitCode
		result.Stderr = err.Error()
		log.Error("command failed to start", logging.KeyCommand, c.String(), logging.KeyError, err)
		return result, fmt.Errorf("start %s: %w", c.Path, err)
	}
	result.State = StateRunning

	pid := cmd.Process.Pid
	log.Debug("command started", logging.KeyCommand, c.String(), "pid", pid, "timeout", c.Timeout)

	done := make(chan struct{})
	go r.reportProgress(done, c, pid, started)

	waitErr := cmd.Wait()
	close(done)

	result.Duration = time.Since(started)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.ExitCode = exitCode(cmd.ProcessState)

	if terminated.Load() {
		result.State = StateTimedOut
		log.Warn("command timed out, process group terminated",
			logging.KeyCommand, c.String(), "pid", pid, "timeout", c.Timeout, "exitCode", result.ExitCode)
		return result, nil
	}

	result.State = StateCompleted
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Pipes held open by an orphaned grandchild past the grace period.
		log.Warn("command output not fully drained", logging.KeyCommand, c.String(), logging.KeyError, waitErr)
	}

	log.Debug("command completed", logging.KeyCommand, c.String(), "exitCode", result.ExitCode,
		logging.KeyDurationMs, result.Duration.Milliseconds())
	return result, nil
}

func (r *Runner) reportProgress(done <-chan struct{}, c Command, pid int, started time.Time) {
	if r.progressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			log.Debug("process still running but within timeout threshold",
				logging.KeyCommand, c.String(), "pid", pid, "elapsed", time.Since(started).Round(time.Second))
		}
	}
}

// exitCode follows the shell convention of 128+signal for killed processes.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// limitedWriter is a size-capped buffer shared with the exec copy goroutine.
type limitedWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	written int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written >= w.limit {
		return len(p), nil
	}

	chunk := p
	if remaining := w.limit - w.written; len(chunk) > remaining {
		chunk = chunk[:remaining]
	}

	n, err := w.buf.Write(chunk)
	w.written += n
	return len(p), err // report the full length so exec does not see a short write
}

func (w *limitedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
