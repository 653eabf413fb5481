package patching

import (
	"bufio"
	"context"
	"log/slog"
	"strings"

	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/logging"
)

// yumUpgrader patches RedHat-family hosts and recovers the outcome from the
// yum transaction history.
type yumUpgrader struct {
	runner CommandRunner
	tools  Tools
	log    *slog.Logger
}

func (y *yumUpgrader) Upgrade(ctx context.Context, params RunParameters, decision Decision) (*ExecutionResult, error) {
	cmd := yumUpgradeCommand(y.tools, params.YumParams, decision.SecurityOnly, decision.Timeout)
	y.log.Info("running yum upgrade", logging.KeyCommand, cmd.String(), "timeoutSeconds", int(decision.Timeout.Seconds()))

	result, err := y.runner.Run(ctx, cmd)
	if err != nil {
		return nil, commandFailure(KindYum, executor.AsError(cmd, result, err))
	}
	if result.State == executor.StateTimedOut {
		return nil, timeoutFailure("yum", decision.Timeout, result)
	}
	if !result.Success() {
		return nil, commandFailure(KindYum, executor.AsError(cmd, result, nil))
	}

	y.log.Debug("getting yum job ID")
	jobID, err := y.query(ctx, yumHistoryCommand(y.tools), parseYumJobID)
	if err != nil {
		return nil, err
	}

	y.log.Debug("getting yum return code and updated packages", "jobId", jobID)
	info, err := y.query(ctx, yumHistoryInfoCommand(y.tools, jobID), func(s string) string { return s })
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		ReturnCode:      parseYumReturnCode(info),
		Stdout:          result.Stdout,
		UpdatedPackages: parseYumUpdatedPackages(info),
		JobID:           jobID,
	}, nil
}

// query runs a history command. A failing query fails the run with the
// query's own exit status, even though the upgrade itself succeeded.
func (y *yumUpgrader) query(ctx context.Context, cmd executor.Command, parse func(string) string) (string, error) {
	result, err := y.runner.Run(ctx, cmd)
	if err := executor.AsError(cmd, result, err); err != nil {
		return "", commandFailure(KindYum, err)
	}
	return parse(result.Stdout), nil
}

// parseYumJobID returns the first field of the first indented line of
// `yum history`, which is the newest transaction.
func parseYumJobID(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || (line[0] != ' ' && line[0] != '\t') {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// parseYumReturnCode reads "Return-Code    : Success" from `yum history info`.
func parseYumReturnCode(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Return-Code") {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 3 {
			return fields[2]
		}
	}
	return ""
}

// parseYumUpdatedPackages collects the package column of every "Updated"
// line in `yum history info`.
func parseYumUpdatedPackages(output string) []string {
	packages := []string{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Updated") {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 2 {
			packages = append(packages, fields[1])
		}
	}
	return packages
}
