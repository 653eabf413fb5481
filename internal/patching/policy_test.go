package patching

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func payload(t *testing.T, doc string) Payload {
	t.Helper()
	p, err := DecodePayload([]byte(doc))
	if err != nil {
		t.Fatalf("DecodePayload(%s): %v", doc, err)
	}
	return p
}

func wantTaskError(t *testing.T, err error, kind Kind, code int) *TaskError {
	t.Helper()
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected *TaskError, got %T %v", err, err)
	}
	if taskErr.Kind != kind || taskErr.Code != code {
		t.Fatalf("got %s/%d, want %s/%d (%s)", taskErr.Kind, taskErr.Code, kind, code, taskErr.Message)
	}
	return taskErr
}

func TestParseTriState(t *testing.T) {
	tests := []struct {
		in      string
		want    TriState
		wantErr bool
	}{
		{"true", True, false},
		{"false", False, false},
		{"", Unset, false},
		{"True", Unset, true},
		{"yes", Unset, true},
		{"maybe", Unset, true},
	}
	for _, tt := range tests {
		got, err := ParseTriState(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTriState(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseTriState(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTriStateOr(t *testing.T) {
	if !Unset.Or(true) || Unset.Or(false) {
		t.Fatal("Unset must return the default")
	}
	if !True.Or(false) || False.Or(true) {
		t.Fatal("defined values must ignore the default")
	}
	if TriStateOf(true) != True || TriStateOf(false) != False {
		t.Fatal("TriStateOf mismatch")
	}
}

func TestDecodePayload(t *testing.T) {
	if _, err := DecodePayload(nil); err != nil {
		t.Fatalf("empty payload: %v", err)
	}
	_, err := DecodePayload([]byte(`{"reboot":`))
	wantTaskError(t, err, KindParams, CodeMalformedParams)
}

func TestResolveParameters(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantKind Kind
		wantCode int
		want     Decision
	}{
		{name: "empty", doc: `{}`, want: Decision{Timeout: time.Hour}},
		{name: "reboot true", doc: `{"reboot":"true"}`, want: Decision{Reboot: true, Timeout: time.Hour}},
		{name: "reboot false", doc: `{"reboot":"false"}`, want: Decision{Timeout: time.Hour}},
		{name: "reboot empty string", doc: `{"reboot":""}`, want: Decision{Timeout: time.Hour}},
		{name: "reboot invalid", doc: `{"reboot":"maybe"}`, wantKind: KindParams, wantCode: CodeRebootParam},
		{name: "reboot native bool", doc: `{"reboot":true}`, wantKind: KindParams, wantCode: CodeRebootParam},
		{name: "security true", doc: `{"security_only":"true"}`, want: Decision{SecurityOnly: true, Timeout: time.Hour}},
		{name: "security invalid", doc: `{"security_only":"1"}`, wantKind: KindParams, wantCode: CodeSecurityParam},
		{name: "reboot checked before security", doc: `{"reboot":"x","security_only":"y"}`, wantKind: KindParams, wantCode: CodeRebootParam},
		{name: "timeout positive", doc: `{"timeout":90}`, want: Decision{Timeout: 90 * time.Second}},
		{name: "timeout zero", doc: `{"timeout":0}`, wantKind: KindTimeout, wantCode: CodeInvalidTimeout},
		{name: "timeout negative", doc: `{"timeout":-5}`, wantKind: KindTimeout, wantCode: CodeInvalidTimeout},
		{name: "timeout not a number", doc: `{"timeout":"soon"}`, wantKind: KindTimeout, wantCode: CodeInvalidTimeout},
		{name: "timeout at duration limit", doc: `{"timeout":9223372036}`, want: Decision{Timeout: 9223372036 * time.Second}},
		{name: "timeout overflows duration", doc: `{"timeout":10000000000}`, wantKind: KindTimeout, wantCode: CodeInvalidTimeout},
		{name: "timeout overflows int64", doc: `{"timeout":99999999999999999999}`, wantKind: KindTimeout, wantCode: CodeInvalidTimeout},
		{name: "security checked before timeout", doc: `{"security_only":"no","timeout":0}`, wantKind: KindParams, wantCode: CodeSecurityParam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := Resolve(payload(t, tt.doc), HostFacts{}, time.Hour, discard)
			if tt.wantKind != "" {
				wantTaskError(t, err, tt.wantKind, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("decision = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveTimeoutMessageEchoesValue(t *testing.T) {
	_, _, err := Resolve(payload(t, `{"timeout":-5}`), HostFacts{}, time.Hour, discard)
	taskErr := wantTaskError(t, err, KindTimeout, CodeInvalidTimeout)
	if taskErr.Message != "timeout set to -5 seconds - invalid" {
		t.Fatalf("message = %q", taskErr.Message)
	}
}

func TestResolveKeepsRawParameters(t *testing.T) {
	params, _, err := Resolve(payload(t, `{"reboot":"true","yum_params":"--disablerepo=epel","dpkg_params":"-q","timeout":30}`), HostFacts{}, time.Hour, discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Reboot != True || params.SecurityOnly != Unset {
		t.Fatalf("tri-states = %v/%v", params.Reboot, params.SecurityOnly)
	}
	if params.YumParams != "--disablerepo=epel" || params.DpkgParams != "-q" {
		t.Fatalf("extra params lost: %+v", params)
	}
	if params.Timeout == nil || *params.Timeout != 30 {
		t.Fatalf("timeout = %v", params.Timeout)
	}
}

func TestRebootOverrideAlwaysWins(t *testing.T) {
	tests := []struct {
		requested string
		override  TriState
		want      bool
	}{
		{`{}`, Unset, false},
		{`{"reboot":"true"}`, Unset, true},
		{`{"reboot":"false"}`, True, true},
		{`{}`, True, true},
		{`{"reboot":"true"}`, True, true},
		{`{"reboot":"true"}`, False, false},
		{`{"reboot":"false"}`, False, false},
		{`{}`, False, false},
	}
	for _, tt := range tests {
		_, decision, err := Resolve(payload(t, tt.requested), HostFacts{RebootOverride: tt.override}, time.Hour, discard)
		if err != nil {
			t.Fatalf("%s override=%v: %v", tt.requested, tt.override, err)
		}
		if decision.Reboot != tt.want {
			t.Fatalf("%s override=%v: reboot = %v, want %v", tt.requested, tt.override, decision.Reboot, tt.want)
		}
	}
}

func TestRebootOverrideInvalidEntry(t *testing.T) {
	facts := HostFacts{RebootOverrideInvalid: true}
	_, _, err := Resolve(payload(t, `{"reboot":"true"}`), facts, time.Hour, discard)
	wantTaskError(t, err, KindRebootOverride, CodeRebootOverride)

	// The reboot parameter is validated first.
	_, _, err = Resolve(payload(t, `{"reboot":"nope"}`), facts, time.Hour, discard)
	wantTaskError(t, err, KindParams, CodeRebootParam)
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name     string
		facts    HostFacts
		decision Decision
		want     bool
		wantCode int
	}{
		{name: "updates pending", facts: HostFacts{UpdateCount: 3}, want: true},
		{name: "nothing pending", facts: HostFacts{}, want: false},
		{name: "security only counts security updates", facts: HostFacts{UpdateCount: 3}, decision: Decision{SecurityOnly: true}, want: false},
		{name: "security updates pending", facts: HostFacts{SecurityUpdateCount: 1}, decision: Decision{SecurityOnly: true}, want: true},
		{name: "blocked with updates", facts: HostFacts{Blocked: true, UpdateCount: 3}, wantCode: CodeBlocked},
		{name: "blocked without updates", facts: HostFacts{Blocked: true}, wantCode: CodeBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eligible(tt.facts, tt.decision)
			if tt.wantCode != 0 {
				wantTaskError(t, err, KindBlocked, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEligibleBlockedMessageListsReasons(t *testing.T) {
	_, err := Eligible(HostFacts{Blocked: true, BlockerReasons: []string{"Patch window closed", "Change freeze"}}, Decision{})
	taskErr := wantTaskError(t, err, KindBlocked, CodeBlocked)
	if taskErr.Message != "Patching blocked Patch window closed, Change freeze" {
		t.Fatalf("message = %q", taskErr.Message)
	}
}

func TestPackageListEncoding(t *testing.T) {
	tests := []struct {
		list PackageList
		want string
	}{
		{nil, `""`},
		{PackageList{}, `[]`},
		{PackageList{"bash", "curl"}, `["bash","curl"]`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.list)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(data) != tt.want {
			t.Fatalf("Marshal(%#v) = %s, want %s", tt.list, data, tt.want)
		}
	}
}
