package patching

import (
	"bufio"
	"context"
	"log/slog"
	"strings"

	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/logging"
)

// aptUpgrader patches Debian-family hosts with a non-interactive
// dist-upgrade. There is no transaction id on this path.
type aptUpgrader struct {
	runner CommandRunner
	tools  Tools
	log    *slog.Logger
}

func (a *aptUpgrader) Upgrade(ctx context.Context, params RunParameters, decision Decision) (*ExecutionResult, error) {
	if decision.SecurityOnly {
		a.log.Debug("Debian upgrades, security only not currently supported")
		return nil, Fail(KindSecurityOnly, CodeSecurityOnly, "Security only not supported on Debian at this point")
	}

	a.log.Debug("getting package update list")
	sim := aptSimulateCommand(a.tools, params.DpkgParams)
	simResult, err := a.runner.Run(ctx, sim)
	if err := executor.AsError(sim, simResult, err); err != nil {
		return nil, commandFailure(KindApt, err)
	}
	packages := parseAptSimulation(simResult.Stdout)

	cmd := aptUpgradeCommand(a.tools, params.DpkgParams, decision.Timeout)
	a.log.Info("running apt dist-upgrade", logging.KeyCommand, cmd.String(), "packages", len(packages))

	result, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return nil, commandFailure(KindApt, executor.AsError(cmd, result, err))
	}
	if result.State == executor.StateTimedOut {
		return nil, timeoutFailure("apt", decision.Timeout, result)
	}
	if !result.Success() {
		return nil, commandFailure(KindApt, executor.AsError(cmd, result, nil))
	}

	return &ExecutionResult{
		ReturnCode:      ReturnSuccess,
		Stdout:          result.Stdout,
		UpdatedPackages: packages,
	}, nil
}

// parseAptSimulation returns the package name of every "Inst" line printed
// by `apt-get dist-upgrade -s`.
func parseAptSimulation(output string) []string {
	packages := []string{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Inst") {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 2 {
			packages = append(packages, fields[1])
		}
	}
	return packages
}
