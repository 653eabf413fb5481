package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/os-patching/internal/history"
)

var sampleRecords = []history.Record{
	{StartTime: "2024-05-01T10:00:00-04:00", Message: "Patching complete", Code: "Success", Reboot: "true", SecurityOnly: "false", JobID: "12"},
	{StartTime: "2024-05-02T10:00:00-04:00", Message: "Patching blocked Change freeze", Code: "100"},
}

func TestPrintHistoryTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, sampleRecords, "table"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "START"))
	assert.Contains(t, lines[1], "Patching complete")
	assert.Contains(t, lines[2], "Patching blocked Change freeze")
}

func TestPrintHistoryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, sampleRecords, "json"))

	var got []history.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sampleRecords, got)
}

func TestPrintHistoryYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, sampleRecords, "yaml"))
	assert.Contains(t, buf.String(), "job_id: \"12\"")

	var got []history.Record
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sampleRecords, got)
}

func TestPrintHistoryEmptyAndUnknown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, nil, "json"))
	assert.Equal(t, "[]\n", buf.String())

	require.Error(t, printHistory(&buf, sampleRecords, "xml"))
}
