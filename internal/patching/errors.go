package patching

import (
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/os-patching/internal/executor"
)

// Kind classifies a task failure. The value is what callers see in the
// "kind" field of the error output.
type Kind string

const (
	KindFactRefresh    Kind = "os_patching/fact_refresh"
	KindFacter         Kind = "os_patching/facter"
	KindParams         Kind = "os_patching/params"
	KindRebootOverride Kind = "os_patching/reboot_override"
	KindTimeout        Kind = "os_patching/timeout"
	KindBlocked        Kind = "os_patching/blocked"
	KindUnsupportedOS  Kind = "os_patching/unsupported_os"
	KindYum            Kind = "os_patching/yum"
	KindApt            Kind = "os_patching/apt"
	KindSecurityOnly   Kind = "os_patching/security_only"
	KindFact           Kind = "os_patching/fact"
	KindReboot         Kind = "os_patching/reboot"
)

// Fixed exit codes. Subprocess failures use the subprocess's own status.
const (
	CodeMalformedParams = 1
	CodeBlocked         = 100
	CodeSecurityOnly    = 101
	CodeRebootOverride  = 105
	CodeRebootParam     = 108
	CodeSecurityParam   = 109
	CodeInvalidTimeout  = 121
	CodeUnsupportedOS   = 200
)

// TaskError is a classified failure that ends the run.
type TaskError struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s (exit %d): %s", e.Kind, e.Code, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Fail builds a TaskError with a formatted message.
func Fail(kind Kind, code int, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// commandFailure classifies a failed external command. The exit status and
// stderr of the command become the code and message.
func commandFailure(kind Kind, err error) *TaskError {
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		return &TaskError{Kind: kind, Code: failureCode(exitErr.Code), Message: exitErr.Stderr, Err: err}
	}
	return &TaskError{Kind: kind, Code: 1, Message: err.Error(), Err: err}
}

// timeoutFailure reports a patch command killed at its deadline. The child may
// have handled SIGTERM and exited 0; the run still fails.
func timeoutFailure(tool string, timeout time.Duration, result *executor.Result) *TaskError {
	return Fail(KindTimeout, failureCode(result.ExitCode), "%s timeout after %d seconds : %s", tool, int(timeout.Seconds()), result.Stdout)
}

// failureCode keeps a failed run from exiting 0.
func failureCode(code int) int {
	if code <= 0 {
		return 1
	}
	return code
}

// asTaskError returns err as a TaskError, classifying unknown errors as kind.
func asTaskError(kind Kind, err error) *TaskError {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	return commandFailure(kind, err)
}
