// Package history appends and reads the pipe-delimited run history that
// records one line per patch run.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/os-patching/internal/logging"
)

var log = logging.L("history")

const fieldSeparator = "|"

// Record is one line of the run history:
// startTime|message|code|reboot|securityOnly|jobId
type Record struct {
	StartTime    string `json:"start_time" yaml:"start_time"`
	Message      string `json:"message" yaml:"message"`
	Code         string `json:"code" yaml:"code"`
	Reboot       string `json:"reboot" yaml:"reboot"`
	SecurityOnly string `json:"security_only" yaml:"security_only"`
	JobID        string `json:"job_id" yaml:"job_id"`
}

// Line renders the record without a trailing newline.
func (r Record) Line() string {
	return strings.Join([]string{r.StartTime, r.Message, r.Code, r.Reboot, r.SecurityOnly, r.JobID}, fieldSeparator)
}

// ParseLine is the inverse of Line. Messages may contain the separator; the
// first field and the last four are fixed, everything between is the message.
func ParseLine(line string) (Record, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < 6 {
		return Record{}, fmt.Errorf("history line has %d fields, want 6", len(fields))
	}
	n := len(fields)
	return Record{
		StartTime:    fields[0],
		Message:      strings.Join(fields[1:n-4], fieldSeparator),
		Code:         fields[n-4],
		Reboot:       fields[n-3],
		SecurityOnly: fields[n-2],
		JobID:        fields[n-1],
	}, nil
}

// File is the on-disk history. Each Append opens the file with O_APPEND,
// writes a single line and closes it again.
type File struct {
	path string
}

// NewFile returns a history file rooted at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Append writes one record. Newlines inside the message are flattened so a
// record always stays on one line.
func (f *File) Append(r Record) (err error) {
	r.Message = flatten(r.Message)

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close history: %w", closeErr)
		}
	}()

	if _, err := file.WriteString(r.Line() + "\n"); err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	log.Debug("history record appended", "path", f.path, "code", r.Code)
	return nil
}

// Read returns every parseable record, oldest first. Malformed lines are
// skipped with a warning. A missing file yields no records.
func (f *File) Read() ([]Record, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := ParseLine(line)
		if err != nil {
			log.Warn("skipping malformed history line", "path", f.path, "line", lineNo, logging.KeyError, err)
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read history: %w", err)
	}

	return records, nil
}

// Last returns at most n of the newest records, oldest first. n <= 0 means all.
func Last(records []Record, n int) []Record {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[len(records)-n:]
}

func flatten(message string) string {
	message = strings.ReplaceAll(message, "\r\n", " ")
	return strings.ReplaceAll(message, "\n", " ")
}
