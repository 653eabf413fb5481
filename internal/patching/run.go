package patching

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/logging"
)

var log = logging.L("patching")

const defaultTimeout = time.Hour

// CommandRunner executes one external command. *executor.Runner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, c executor.Command) (*executor.Result, error)
}

// FactSource refreshes and reads the host facts.
type FactSource interface {
	// Refresh regenerates the cached facts.
	Refresh(ctx context.Context) error
	// Gather returns the current snapshot.
	Gather(ctx context.Context) (HostFacts, error)
}

// Upgrader applies updates for one OS family.
type Upgrader interface {
	Upgrade(ctx context.Context, params RunParameters, decision Decision) (*ExecutionResult, error)
}

// Options configures a Runner.
type Options struct {
	Commands       CommandRunner
	Facts          FactSource
	History        HistoryWriter
	Tools          Tools
	DefaultTimeout time.Duration
	// Out receives the task result. Defaults to os.Stdout.
	Out io.Writer
	// Now is swapped in tests.
	Now func() time.Time
}

// Runner drives one patch run from payload to exit code.
type Runner struct {
	commands       CommandRunner
	facts          FactSource
	tools          Tools
	defaultTimeout time.Duration
	reporter       *Reporter
	now            func() time.Time
}

// NewRunner creates a Runner from opts.
func NewRunner(opts Options) *Runner {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	return &Runner{
		commands:       opts.Commands,
		facts:          opts.Facts,
		tools:          opts.Tools,
		defaultTimeout: opts.DefaultTimeout,
		reporter:       &Reporter{out: opts.Out, history: opts.History, log: log, now: opts.Now},
		now:            opts.Now,
	}
}

// Run performs a full patch run and returns the process exit code. Exactly
// one outcome is printed and recorded no matter where the run stops.
func (r *Runner) Run(ctx context.Context, payload []byte) int {
	started := r.now()
	runLog := logging.WithRun(log, uuid.NewString())
	ctx = logging.NewContext(ctx, runLog)
	r.reporter.log = runLog

	runLog.Info("os_patching run started")

	report, err := r.run(ctx, payload)
	if err != nil {
		return r.reporter.Emit(Outcome{Failure: asTaskError(KindParams, err)}, started)
	}

	code := r.reporter.Emit(Outcome{Success: report}, started)
	runLog.Info("os_patching run finished", "message", report.Message, logging.KeyDurationMs, r.now().Sub(started).Milliseconds())
	return code
}

// Reject reports a run that failed before its payload could be handed to
// Run, such as unreadable parameters. It prints and records exactly one
// failure outcome, classified as params unless err already is a TaskError.
func (r *Runner) Reject(err error) int {
	return r.reporter.Emit(Outcome{Failure: asTaskError(KindParams, err)}, r.now())
}

func (r *Runner) run(ctx context.Context, payload []byte) (*SuccessReport, error) {
	log := logging.FromContext(ctx)

	p, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}

	log.Debug("running os_patching fact refresh")
	if err := r.facts.Refresh(ctx); err != nil {
		return nil, asTaskError(KindFactRefresh, err)
	}

	log.Debug("gathering facts")
	facts, err := r.facts.Gather(ctx)
	if err != nil {
		return nil, asTaskError(KindFacter, err)
	}

	params, decision, err := Resolve(p, facts, r.defaultTimeout, log)
	if err != nil {
		return nil, err
	}
	log.Info("patch run resolved",
		"osFamily", facts.OSFamily,
		"reboot", decision.Reboot,
		"securityOnly", decision.SecurityOnly,
		"timeoutSeconds", int(decision.Timeout.Seconds()),
		"updateCount", facts.UpdateCount,
		"securityUpdateCount", facts.SecurityUpdateCount,
	)

	report := &SuccessReport{
		Return:         ReturnSuccess,
		Reboot:         decision.Reboot,
		Security:       decision.SecurityOnly,
		PinnedPackages: facts.PinnedPackages,
	}
	if report.PinnedPackages == nil {
		report.PinnedPackages = []string{}
	}

	eligible, err := Eligible(facts, decision)
	if err != nil {
		return nil, err
	}
	if !eligible {
		log.Info(MessageNoPatches)
		if err := r.postRefresh(ctx); err != nil {
			return nil, err
		}
		report.Message = MessageNoPatches
		return report, nil
	}

	upgrader, err := r.upgrader(facts.OSFamily, log)
	if err != nil {
		return nil, err
	}
	result, err := upgrader.Upgrade(ctx, params, decision)
	if err != nil {
		return nil, err
	}
	log.Info("patching complete", "returnCode", result.ReturnCode, "jobId", result.JobID, "packages", len(result.UpdatedPackages))

	if err := r.postRefresh(ctx); err != nil {
		return nil, err
	}
	if decision.Reboot {
		if err := r.reboot(ctx, log); err != nil {
			return nil, err
		}
	}

	report.Return = result.ReturnCode
	report.Message = MessagePatchingComplete
	report.PackagesUpdated = PackageList(result.UpdatedPackages)
	if report.PackagesUpdated == nil {
		report.PackagesUpdated = PackageList{}
	}
	report.Debug = result.Stdout
	report.JobID = result.JobID
	return report, nil
}

func (r *Runner) upgrader(family OSFamily, log *slog.Logger) (Upgrader, error) {
	switch family {
	case FamilyRedHat:
		return &yumUpgrader{runner: r.commands, tools: r.tools, log: log}, nil
	case FamilyDebian:
		return &aptUpgrader{runner: r.commands, tools: r.tools, log: log}, nil
	default:
		return nil, Fail(KindUnsupportedOS, CodeUnsupportedOS, "Unsupported OS")
	}
}

func (r *Runner) postRefresh(ctx context.Context) error {
	logging.FromContext(ctx).Debug("running os_patching fact refresh")
	if err := r.facts.Refresh(ctx); err != nil {
		return asTaskError(KindFact, err)
	}
	return nil
}

func (r *Runner) reboot(ctx context.Context, log *slog.Logger) error {
	cmd := rebootCommand(r.tools)
	log.Info("scheduling reboot", logging.KeyCommand, cmd.String())
	result, err := r.commands.Run(ctx, cmd)
	if err := executor.AsError(cmd, result, err); err != nil {
		return commandFailure(KindReboot, err)
	}
	return nil
}
