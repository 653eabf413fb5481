package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogTargets = map[string]bool{
	"journal": true,
	"stderr":  true,
	"file":    true,
}

// shutdown(8) accepts "now", "+m" or "hh:mm".
var rebootDelayRegex = regexp.MustCompile(`^(now|\+\d+|\d{1,2}:\d{2})$`)

// ValidationResult separates problems that must stop the run from ones that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether the config cannot be used.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Err joins the fatal problems, or returns nil.
func (r ValidationResult) Err() error {
	return errors.Join(r.Fatals...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; empty paths and bad enums are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	required := map[string]string{
		"history_file":           c.HistoryFile,
		"fact_generation_script": c.FactGenerationScript,
		"facter_bin":             c.FacterBin,
		"yum_bin":                c.YumBin,
		"apt_get_bin":            c.AptGetBin,
		"shutdown_bin":           c.ShutdownBin,
	}
	for _, key := range []string{"history_file", "fact_generation_script", "facter_bin", "yum_bin", "apt_get_bin", "shutdown_bin"} {
		if strings.TrimSpace(required[key]) == "" {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s must not be empty", key))
		}
	}

	if !rebootDelayRegex.MatchString(c.RebootDelay) {
		result.Fatals = append(result.Fatals, fmt.Errorf("reboot_delay %q is not a valid shutdown time", c.RebootDelay))
	}

	if c.DefaultTimeoutSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("default_timeout_seconds %d is below minimum 1, using 3600", c.DefaultTimeoutSeconds))
		c.DefaultTimeoutSeconds = 3600
	}

	if c.ProgressIntervalSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("progress_interval_seconds %d is below minimum 1, clamping", c.ProgressIntervalSeconds))
		c.ProgressIntervalSeconds = 1
	}

	if c.KillGraceSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("kill_grace_seconds %d is below minimum 1, clamping", c.KillGraceSeconds))
		c.KillGraceSeconds = 1
	} else if c.KillGraceSeconds > 300 {
		result.Warnings = append(result.Warnings, fmt.Errorf("kill_grace_seconds %d exceeds maximum 300, clamping", c.KillGraceSeconds))
		c.KillGraceSeconds = 300
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogTarget != "" && !validLogTargets[strings.ToLower(c.LogTarget)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_target %q is not valid (use journal, stderr or file)", c.LogTarget))
	}

	if strings.EqualFold(c.LogTarget, "file") && c.LogFile == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_file is required when log_target is file"))
	}

	return result
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
