package patching

import (
	"fmt"
	"time"
)

// TriState is a boolean that may also be unset.
type TriState int

const (
	Unset TriState = iota
	True
	False
)

// ParseTriState accepts exactly "true" and "false". The empty string is Unset;
// anything else is an error.
func ParseTriState(s string) (TriState, error) {
	switch s {
	case "":
		return Unset, nil
	case "true":
		return True, nil
	case "false":
		return False, nil
	default:
		return Unset, fmt.Errorf("invalid boolean %q", s)
	}
}

// TriStateOf converts a defined boolean.
func TriStateOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

// Or returns the boolean value, or def when unset.
func (t TriState) Or(def bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return def
	}
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unset"
	}
}

// OSFamily is the family reported by the os.family fact.
type OSFamily string

const (
	FamilyRedHat OSFamily = "RedHat"
	FamilyDebian OSFamily = "Debian"
	FamilyOther  OSFamily = "Other"
)

// ParseOSFamily maps the fact value; unknown and empty values become Other.
func ParseOSFamily(s string) OSFamily {
	switch OSFamily(s) {
	case FamilyRedHat:
		return FamilyRedHat
	case FamilyDebian:
		return FamilyDebian
	default:
		return FamilyOther
	}
}

// RunParameters are the resolved task inputs.
type RunParameters struct {
	Reboot       TriState
	SecurityOnly TriState
	YumParams    string
	DpkgParams   string
	// Timeout is nil when the payload did not set one.
	Timeout *int
}

// HostFacts is the point-in-time snapshot from the fact provider.
type HostFacts struct {
	OSFamily       OSFamily
	Blocked        bool
	BlockerReasons []string
	PinnedPackages []string
	RebootOverride TriState
	// RebootOverrideInvalid is set when the fact carries the "Invalid Entry" sentinel.
	RebootOverrideInvalid bool
	UpdateCount           int
	SecurityUpdateCount   int
}

// Decision is computed once from parameters and facts.
type Decision struct {
	Reboot       bool
	SecurityOnly bool
	Timeout      time.Duration
}

// ReturnSuccess is the return code reported for a clean transaction.
const ReturnSuccess = "Success"

// ExecutionResult is what a successful patch step produced.
type ExecutionResult struct {
	// ReturnCode is the transaction's own status on RedHat, "Success" on Debian.
	ReturnCode      string
	Stdout          string
	UpdatedPackages []string
	// JobID is the yum transaction id; empty on Debian.
	JobID string
}
