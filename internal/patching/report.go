package patching

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/breeze-rmm/os-patching/internal/history"
)

// TimeLayout is ISO 8601 with a numeric UTC offset.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// MessagePatchingComplete is reported after a successful patch step.
const MessagePatchingComplete = "Patching complete"

// PackageList encodes as "" when nil, meaning no patch step ran, and as a
// JSON array otherwise.
type PackageList []string

func (p PackageList) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte(`""`), nil
	}
	return json.Marshal([]string(p))
}

// SuccessReport is the task result of a successful run.
type SuccessReport struct {
	Return          string      `json:"return"`
	Reboot          bool        `json:"reboot"`
	Security        bool        `json:"security"`
	Message         string      `json:"message"`
	PackagesUpdated PackageList `json:"packages_updated"`
	Debug           string      `json:"debug"`
	JobID           string      `json:"job_id"`
	PinnedPackages  []string    `json:"pinned_packages"`
	StartTime       string      `json:"start_time"`
	EndTime         string      `json:"end_time"`
}

// ErrorReport is the task result of a failed run.
type ErrorReport struct {
	Error ErrorBody `json:"_error"`
}

type ErrorBody struct {
	Msg       string       `json:"msg"`
	Kind      Kind         `json:"kind"`
	Details   ErrorDetails `json:"details"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
}

type ErrorDetails struct {
	ExitCode string `json:"exitcode"`
}

// Outcome is the single result of a run. Exactly one of Success and Failure
// is set.
type Outcome struct {
	Success *SuccessReport
	Failure *TaskError
}

// HistoryWriter persists one record per run.
type HistoryWriter interface {
	Append(history.Record) error
}

// Reporter turns an Outcome into stdout JSON, a history line and an exit
// code.
type Reporter struct {
	out     io.Writer
	history HistoryWriter
	log     *slog.Logger
	now     func() time.Time
}

// Emit prints the outcome and appends its history record. It returns the
// process exit code.
func (r *Reporter) Emit(o Outcome, started time.Time) int {
	start := started.Format(TimeLayout)
	end := r.now().Format(TimeLayout)

	var (
		doc    any
		record history.Record
		code   int
	)
	if o.Failure != nil {
		f := o.Failure
		code = f.Code
		exitCode := strconv.Itoa(f.Code)
		doc = ErrorReport{Error: ErrorBody{
			Msg:       fmt.Sprintf("Task exited : %s\n%s", exitCode, f.Message),
			Kind:      f.Kind,
			Details:   ErrorDetails{ExitCode: exitCode},
			StartTime: start,
			EndTime:   end,
		}}
		record = history.Record{StartTime: start, Message: firstLine(f.Message), Code: exitCode}
	} else {
		s := *o.Success
		s.StartTime = start
		s.EndTime = end
		doc = s
		record = history.Record{
			StartTime:    start,
			Message:      s.Message,
			Code:         s.Return,
			Reboot:       strconv.FormatBool(s.Reboot),
			SecurityOnly: strconv.FormatBool(s.Security),
			JobID:        s.JobID,
		}
	}

	if err := r.print(doc); err != nil {
		r.log.Error("failed to write task result", "error", err)
	}
	if err := r.history.Append(record); err != nil {
		r.log.Error("failed to append run history", "error", err)
	}
	if o.Failure != nil {
		r.log.Error(fmt.Sprintf("ERROR : %s : %d : %s", o.Failure.Kind, o.Failure.Code, o.Failure.Message))
	}
	return code
}

func (r *Reporter) print(doc any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
