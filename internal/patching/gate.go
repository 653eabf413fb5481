package patching

import "strings"

// MessageNoPatches is reported when there is nothing to install.
const MessageNoPatches = "No patches to apply"

// Eligible decides whether a patch attempt is made. A blocked host is an
// error even when nothing is pending: invoking the task on a blocked host is
// a workflow mistake worth surfacing. It returns false, nil when the relevant
// update count is zero.
func Eligible(facts HostFacts, decision Decision) (bool, error) {
	if facts.Blocked {
		return false, Fail(KindBlocked, CodeBlocked, "Patching blocked %s", strings.Join(facts.BlockerReasons, ", "))
	}
	return relevantCount(facts, decision) > 0, nil
}

func relevantCount(facts HostFacts, decision Decision) int {
	if decision.SecurityOnly {
		return facts.SecurityUpdateCount
	}
	return facts.UpdateCount
}
