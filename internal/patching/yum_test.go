package patching

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/os-patching/internal/executor"
)

func TestParseYumHistory(t *testing.T) {
	if got := parseYumJobID(yumHistoryOutput); got != "12" {
		t.Fatalf("job id = %q, want 12", got)
	}
	if got := parseYumJobID("Loaded plugins: fastestmirror\nNo transactions\n"); got != "" {
		t.Fatalf("job id = %q, want empty", got)
	}
	if got := parseYumReturnCode(yumHistoryInfoOutput); got != "Success" {
		t.Fatalf("return code = %q", got)
	}
	want := []string{"bash-4.2.46-34.el7.x86_64", "openssl-1:1.0.2k-19.el7.x86_64"}
	if got := parseYumUpdatedPackages(yumHistoryInfoOutput); !reflect.DeepEqual(got, want) {
		t.Fatalf("updated = %v, want %v", got, want)
	}
}

func newYum(commands *fakeCommands) *yumUpgrader {
	return &yumUpgrader{runner: commands, tools: testTools, log: discard}
}

func TestYumUpgradeSuccess(t *testing.T) {
	commands := &fakeCommands{respond: redHatManager}

	result, err := newYum(commands).Upgrade(context.Background(), RunParameters{YumParams: "--nogpgcheck"}, Decision{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.JobID != "12" || result.ReturnCode != "Success" {
		t.Fatalf("result = %+v", result)
	}
	if result.Stdout != "Complete!\n" {
		t.Fatalf("stdout = %q", result.Stdout)
	}
	if len(result.UpdatedPackages) != 2 {
		t.Fatalf("updated = %v", result.UpdatedPackages)
	}

	want := []string{
		"/bin/sh -c /bin/yum --nogpgcheck upgrade -y",
		"/bin/yum history",
		"/bin/yum history info 12",
	}
	if got := commands.lines(); !reflect.DeepEqual(got, want) {
		t.Fatalf("commands = %q, want %q", got, want)
	}
	if commands.calls[0].Timeout != time.Minute {
		t.Fatalf("upgrade timeout = %v", commands.calls[0].Timeout)
	}
}

func TestYumReportsTransactionReturnCode(t *testing.T) {
	commands := &fakeCommands{respond: func(c executor.Command) (*executor.Result, error) {
		if strings.Contains(c.String(), "history info") {
			return completed(0, "Return-Code    : Failure: 2\n", ""), nil
		}
		return redHatManager(c)
	}}

	result, err := newYum(commands).Upgrade(context.Background(), RunParameters{}, Decision{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReturnCode != "Failure:" {
		t.Fatalf("return code = %q", result.ReturnCode)
	}
}

func TestYumUpgradeFailures(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(c executor.Command) (*executor.Result, error)
		wantKind Kind
		wantCode int
		wantMsg  string
	}{
		{
			name: "upgrade exits nonzero",
			respond: func(c executor.Command) (*executor.Result, error) {
				return completed(1, "", "Error: Cannot find a valid baseurl for repo: base\n"), nil
			},
			wantKind: KindYum,
			wantCode: 1,
			wantMsg:  "Cannot find a valid baseurl",
		},
		{
			name: "upgrade times out",
			respond: func(c executor.Command) (*executor.Result, error) {
				return &executor.Result{State: executor.StateTimedOut, ExitCode: 143, Stdout: "Downloading packages:\n"}, nil
			},
			wantKind: KindTimeout,
			wantCode: 143,
			wantMsg:  "yum timeout after 60 seconds : Downloading packages:",
		},
		{
			name: "upgrade handles SIGTERM and exits 0",
			respond: func(c executor.Command) (*executor.Result, error) {
				return &executor.Result{State: executor.StateTimedOut, ExitCode: 0, Stdout: "Downloading packages:\n"}, nil
			},
			wantKind: KindTimeout,
			wantCode: 1,
			wantMsg:  "yum timeout after 60 seconds",
		},
		{
			name: "yum missing",
			respond: func(c executor.Command) (*executor.Result, error) {
				return &executor.Result{State: executor.StateLaunchFailed, ExitCode: executor.LaunchFailedExitCode, Stderr: "no such file"}, context.Canceled
			},
			wantKind: KindYum,
			wantCode: executor.LaunchFailedExitCode,
			wantMsg:  "no such file",
		},
		{
			name: "history query fails",
			respond: func(c executor.Command) (*executor.Result, error) {
				if strings.HasSuffix(c.String(), "history") {
					return completed(3, "", "history database locked"), nil
				}
				return redHatManager(c)
			},
			wantKind: KindYum,
			wantCode: 3,
			wantMsg:  "history database locked",
		},
		{
			name: "history info query fails",
			respond: func(c executor.Command) (*executor.Result, error) {
				if strings.Contains(c.String(), "history info") {
					return completed(4, "", "bad transaction"), nil
				}
				return redHatManager(c)
			},
			wantKind: KindYum,
			wantCode: 4,
			wantMsg:  "bad transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := &fakeCommands{respond: tt.respond}
			_, err := newYum(commands).Upgrade(context.Background(), RunParameters{}, Decision{Timeout: time.Minute})
			taskErr := wantTaskError(t, err, tt.wantKind, tt.wantCode)
			if !strings.Contains(taskErr.Message, tt.wantMsg) {
				t.Fatalf("message = %q, want it to contain %q", taskErr.Message, tt.wantMsg)
			}
		})
	}
}
