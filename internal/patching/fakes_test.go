package patching

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/history"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCommands records every command and answers through respond.
type fakeCommands struct {
	calls   []executor.Command
	respond func(c executor.Command) (*executor.Result, error)
}

func (f *fakeCommands) Run(_ context.Context, c executor.Command) (*executor.Result, error) {
	f.calls = append(f.calls, c)
	if f.respond == nil {
		return completed(0, "", ""), nil
	}
	return f.respond(c)
}

func (f *fakeCommands) lines() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeCommands) ran(substr string) bool {
	for _, l := range f.lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func completed(code int, stdout, stderr string) *executor.Result {
	return &executor.Result{State: executor.StateCompleted, ExitCode: code, Stdout: stdout, Stderr: stderr}
}

// fakeFacts serves a fixed snapshot. refreshErrs is consumed one per Refresh.
type fakeFacts struct {
	facts       HostFacts
	gatherErr   error
	refreshErrs []error
	refreshes   int
}

func (f *fakeFacts) Refresh(context.Context) error {
	f.refreshes++
	if len(f.refreshErrs) == 0 {
		return nil
	}
	err := f.refreshErrs[0]
	f.refreshErrs = f.refreshErrs[1:]
	return err
}

func (f *fakeFacts) Gather(context.Context) (HostFacts, error) {
	return f.facts, f.gatherErr
}

type memHistory struct {
	records []history.Record
}

func (m *memHistory) Append(r history.Record) error {
	m.records = append(m.records, r)
	return nil
}

var fixedStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("", -4*3600))

func fixedClock() func() time.Time {
	return func() time.Time { return fixedStart }
}

var testTools = Tools{
	Yum:         "/bin/yum",
	AptGet:      "apt-get",
	Shutdown:    "/sbin/shutdown",
	RebootDelay: "+1",
}

const yumHistoryOutput = `Loaded plugins: fastestmirror
ID     | Login user               | Date and time    | Action(s)      | Altered
-------------------------------------------------------------------------------
    12 | root <root>              | 2024-05-01 10:00 | Update         |    3
    11 | root <root>              | 2024-04-01 09:00 | Install        |    1
history list
`

const yumHistoryInfoOutput = `Loaded plugins: fastestmirror
Transaction ID : 12
Begin time     : Wed May  1 10:00:00 2024
Return-Code    : Success
Command Line   : upgrade -y
Transaction performed with:
    Installed     rpm-4.11.3-45.el7.x86_64 @base
Packages Altered:
    Updated bash-4.2.46-34.el7.x86_64         @base
    Update       4.2.46-35.el7_9.x86_64       @updates
    Updated openssl-1:1.0.2k-19.el7.x86_64    @base
    Update       1:1.0.2k-26.el7_9.x86_64     @updates
history info
`

const aptSimulationOutput = `Reading package lists...
Building dependency tree...
The following packages will be upgraded:
  curl libcurl4
Inst libcurl4 [7.68.0-1ubuntu2.18] (7.68.0-1ubuntu2.19 Ubuntu:20.04/focal-updates [amd64])
Inst curl [7.68.0-1ubuntu2.18] (7.68.0-1ubuntu2.19 Ubuntu:20.04/focal-updates [amd64])
Conf libcurl4 (7.68.0-1ubuntu2.19 Ubuntu:20.04/focal-updates [amd64])
Conf curl (7.68.0-1ubuntu2.19 Ubuntu:20.04/focal-updates [amd64])
`

// redHatManager answers yum commands the way a healthy host would.
func redHatManager(c executor.Command) (*executor.Result, error) {
	line := c.String()
	switch {
	case strings.Contains(line, "history info"):
		return completed(0, yumHistoryInfoOutput, ""), nil
	case strings.HasSuffix(line, "history"):
		return completed(0, yumHistoryOutput, ""), nil
	case strings.Contains(line, "upgrade -y"):
		return completed(0, "Complete!\n", ""), nil
	default:
		return completed(0, "", ""), nil
	}
}
