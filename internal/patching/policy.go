package patching

import (
	"log/slog"
	"math"
	"strings"
	"time"
)

// maxTimeoutSeconds is the largest timeout that still fits a time.Duration.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Resolve merges the task payload with the host facts. Checks run in a fixed
// order: reboot, reboot_override, security_only, timeout. The first failure
// wins. A defined reboot override always beats the requested reboot.
//
// Debian security-only runs are rejected later, at dispatch.
func Resolve(p Payload, facts HostFacts, defaultTimeout time.Duration, log *slog.Logger) (RunParameters, Decision, error) {
	params := RunParameters{
		YumParams:  p.YumParams,
		DpkgParams: p.DpkgParams,
	}

	reboot, err := parseBoolParam(p.Reboot)
	if err != nil {
		return params, Decision{}, Fail(KindParams, CodeRebootParam, "Invalid boolean to reboot parameter")
	}
	params.Reboot = reboot
	decision := Decision{Reboot: reboot.Or(false)}

	if facts.RebootOverrideInvalid {
		return params, Decision{}, Fail(KindRebootOverride, CodeRebootOverride, "Fact reboot_override invalid")
	}
	switch {
	case facts.RebootOverride == True && !decision.Reboot:
		log.Warn("Reboot override set to true but task said no.  Will reboot")
		decision.Reboot = true
	case facts.RebootOverride == False && decision.Reboot:
		log.Warn("Reboot override set to false but task said yes.  Will not reboot")
		decision.Reboot = false
	}
	log.Debug("reboot after patching resolved", "reboot", decision.Reboot)

	security, err := parseBoolParam(p.SecurityOnly)
	if err != nil {
		return params, Decision{}, Fail(KindParams, CodeSecurityParam, "Invalid boolean to security_only parameter")
	}
	params.SecurityOnly = security
	decision.SecurityOnly = security.Or(false)
	log.Debug("apply only security patches resolved", "securityOnly", decision.SecurityOnly)

	timeout, ok := parseTimeoutParam(p.Timeout)
	if !ok || (timeout != nil && (*timeout <= 0 || int64(*timeout) > maxTimeoutSeconds)) {
		return params, Decision{}, Fail(KindTimeout, CodeInvalidTimeout, "timeout set to %s seconds - invalid", strings.TrimSpace(string(p.Timeout)))
	}
	params.Timeout = timeout
	if timeout != nil {
		decision.Timeout = time.Duration(*timeout) * time.Second
	} else {
		decision.Timeout = defaultTimeout
	}

	return params, decision, nil
}
