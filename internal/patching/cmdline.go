package patching

import (
	"strings"
	"time"

	"github.com/breeze-rmm/os-patching/internal/executor"
)

// Every command line the task runs is built here. yum_params and dpkg_params
// come from the task payload and are pasted into a shell line unescaped;
// callers of the task are trusted. Hardening that belongs in this file only.

const shellPath = "/bin/sh"

// aptSafetyOptions keep configs, never purge and skip recommends.
var aptSafetyOptions = []string{
	"-o", "Apt::Get::Purge=false",
	"-o", "Dpkg::Options::=--force-confold",
	"-o", "Dpkg::Options::=--force-confdef",
	"--no-install-recommends",
}

// Tools names the binaries the task drives.
type Tools struct {
	Yum         string
	AptGet      string
	Shutdown    string
	RebootDelay string
}

func shellCommand(line string, timeout time.Duration, env ...string) executor.Command {
	return executor.Command{
		Path:    shellPath,
		Args:    []string{"-c", line},
		Env:     env,
		Timeout: timeout,
	}
}

func joinLine(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func yumUpgradeCommand(t Tools, extra string, securityOnly bool, timeout time.Duration) executor.Command {
	security := ""
	if securityOnly {
		security = "--security"
	}
	return shellCommand(joinLine(t.Yum, extra, security, "upgrade", "-y"), timeout)
}

func yumHistoryCommand(t Tools) executor.Command {
	return executor.Command{Path: t.Yum, Args: []string{"history"}}
}

func yumHistoryInfoCommand(t Tools, jobID string) executor.Command {
	args := []string{"history", "info"}
	if jobID != "" {
		args = append(args, jobID)
	}
	return executor.Command{Path: t.Yum, Args: args}
}

func aptSimulateCommand(t Tools, extra string) executor.Command {
	return shellCommand(joinLine(t.AptGet, "dist-upgrade", "-s", extra), 0)
}

func aptUpgradeCommand(t Tools, extra string, timeout time.Duration) executor.Command {
	line := joinLine(t.AptGet, extra, "-y", strings.Join(aptSafetyOptions, " "), "dist-upgrade")
	return shellCommand(line, timeout, "DEBIAN_FRONTEND=noninteractive")
}

func rebootCommand(t Tools) executor.Command {
	return executor.Command{Path: t.Shutdown, Args: []string{"-r", t.RebootDelay}}
}
