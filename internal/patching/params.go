package patching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the task input exactly as received. Fields are kept raw so the
// resolver can validate them in order and report the matching code.
type Payload struct {
	Reboot       json.RawMessage `json:"reboot"`
	SecurityOnly json.RawMessage `json:"security_only"`
	YumParams    string          `json:"yum_params"`
	DpkgParams   string          `json:"dpkg_params"`
	Timeout      json.RawMessage `json:"timeout"`
}

// DecodePayload parses the JSON object read from stdin. An empty document is
// treated as {}.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, Fail(KindParams, CodeMalformedParams, "Invalid task parameters: %v", err)
	}
	return p, nil
}

// parseBoolParam reads a string-encoded boolean. Absent, null and "" are Unset.
func parseBoolParam(raw json.RawMessage) (TriState, error) {
	if isAbsent(raw) {
		return Unset, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Unset, fmt.Errorf("invalid boolean %s", raw)
	}
	return ParseTriState(s)
}

// parseTimeoutParam returns nil when absent, otherwise the integer value.
// ok is false when the value is not an integer.
func parseTimeoutParam(raw json.RawMessage) (value *int, ok bool) {
	if isAbsent(raw) {
		return nil, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false
	}
	i, err := n.Int64()
	if err != nil {
		return nil, false
	}
	v := int(i)
	return &v, true
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
