// Package facts refreshes and reads the os_patching facts that describe the
// host's pending updates and patching policy.
package facts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/logging"
	"github.com/breeze-rmm/os-patching/internal/patching"
)

var log = logging.L("facts")

// InvalidEntry is what the fact generator writes for an unparseable
// reboot_override setting.
const InvalidEntry = "Invalid Entry"

// hostInfo is swapped in tests.
var hostInfo = host.InfoWithContext

// ErrNoPatchingFacts is returned when facter has no os_patching fact.
var ErrNoPatchingFacts = errors.New("os_patching fact not found in facter output")

// Provider runs the fact generation script and facter.
type Provider struct {
	runner patching.CommandRunner
	script string
	facter string
}

// NewProvider returns a Provider that runs script to refresh the cached
// facts and facterBin to read them.
func NewProvider(runner patching.CommandRunner, script, facterBin string) *Provider {
	return &Provider{runner: runner, script: script, facter: facterBin}
}

// Refresh regenerates the cached os_patching facts. A failing script is
// returned as *executor.ExitError.
func (p *Provider) Refresh(ctx context.Context) error {
	cmd := executor.Command{Path: p.script}
	result, err := p.runner.Run(ctx, cmd)
	if err := executor.AsError(cmd, result, err); err != nil {
		return err
	}
	logging.FromContext(ctx).Debug("fact refresh complete", logging.KeyDurationMs, result.Duration.Milliseconds())
	return nil
}

// Gather runs `facter -p -j` and decodes the snapshot.
func (p *Provider) Gather(ctx context.Context) (patching.HostFacts, error) {
	cmd := executor.Command{Path: p.facter, Args: []string{"-p", "-j"}}
	result, err := p.runner.Run(ctx, cmd)
	if err := executor.AsError(cmd, result, err); err != nil {
		return patching.HostFacts{}, err
	}

	facts, family, err := Decode([]byte(result.Stdout))
	if err != nil {
		return patching.HostFacts{}, err
	}
	facts.OSFamily = p.family(ctx, family)
	return facts, nil
}

// family falls back to the platform family reported by the kernel and
// os-release when facter has no os.family.
func (p *Provider) family(ctx context.Context, fact string) patching.OSFamily {
	if fact != "" {
		return patching.ParseOSFamily(fact)
	}
	info, err := hostInfo(ctx)
	if err != nil {
		log.Warn("os.family fact missing and host info unavailable", logging.KeyError, err)
		return patching.FamilyOther
	}
	family := FamilyFromPlatform(info.PlatformFamily)
	logging.FromContext(ctx).Debug("os.family fact missing, using platform family",
		"platform", info.Platform, "platformFamily", info.PlatformFamily, "osFamily", family)
	return family
}

// FamilyFromPlatform maps a gopsutil platform family.
func FamilyFromPlatform(platformFamily string) patching.OSFamily {
	switch strings.ToLower(platformFamily) {
	case "rhel", "fedora", "amazon", "centos":
		return patching.FamilyRedHat
	case "debian", "ubuntu":
		return patching.FamilyDebian
	default:
		return patching.FamilyOther
	}
}

type facterOutput struct {
	OS struct {
		Family string `json:"family"`
	} `json:"os"`
	OSPatching *patchingFacts `json:"os_patching"`
}

type patchingFacts struct {
	PinnedPackages      stringList      `json:"pinned_packages"`
	RebootOverride      json.RawMessage `json:"reboot_override"`
	Blocked             flexBool        `json:"blocked"`
	BlockerReasons      stringList      `json:"blocker_reasons"`
	SecurityUpdateCount flexInt         `json:"security_package_update_count"`
	UpdateCount         flexInt         `json:"package_update_count"`
}

// Decode parses facter JSON. It returns the facts without OSFamily set and
// the raw os.family value.
func Decode(data []byte) (patching.HostFacts, string, error) {
	var out facterOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return patching.HostFacts{}, "", fmt.Errorf("decode facter output: %w", err)
	}
	if out.OSPatching == nil {
		return patching.HostFacts{}, "", ErrNoPatchingFacts
	}

	pf := out.OSPatching
	facts := patching.HostFacts{
		Blocked:             bool(pf.Blocked),
		BlockerReasons:      []string(pf.BlockerReasons),
		PinnedPackages:      []string(pf.PinnedPackages),
		UpdateCount:         int(pf.UpdateCount),
		SecurityUpdateCount: int(pf.SecurityUpdateCount),
	}
	facts.RebootOverride, facts.RebootOverrideInvalid = parseRebootOverride(pf.RebootOverride)
	return facts, out.OS.Family, nil
}

// parseRebootOverride accepts a JSON boolean or the strings "true" and
// "false". The generator's "Invalid Entry" marks the fact invalid; any other
// value leaves the task's choice alone.
func parseRebootOverride(raw json.RawMessage) (patching.TriState, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return patching.Unset, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return patching.TriStateOf(b), false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return patching.Unset, false
	}
	if s == InvalidEntry {
		return patching.Unset, true
	}
	if v, err := patching.ParseTriState(strings.TrimSpace(s)); err == nil {
		return v, false
	}
	return patching.Unset, false
}

// flexBool accepts true, "true" and their negatives.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var native bool
	if err := json.Unmarshal(data, &native); err == nil {
		*b = flexBool(native)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid boolean fact %s", data)
	}
	*b = flexBool(strings.TrimSpace(s) == "true")
	return nil
}

// flexInt accepts a number or a numeric string. Empty values are zero.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid count fact %q", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid count fact %s", data)
	}
	*n = flexInt(v)
	return nil
}

// stringList accepts an array of strings or a single string. A string is
// split into one entry per non-empty line.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid list fact %s", data)
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	*l = out
	return nil
}
