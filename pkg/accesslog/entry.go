package accesslog

import (
	"time"

	"github.com/vango-dev/servermanager/pkg/dispatch"
)

// Entry is one access-log record.
type Entry struct {
	Time       time.Time     `json:"timestamp"`
	Protocol   string        `json:"protocol"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration"`
	Action     string        `json:"action,omitempty"`
	Method     string        `json:"method,omitempty"`
	RemoteAddr string        `json:"ip,omitempty"`
	Input      int           `json:"input,omitempty"`
	Output     int           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// FromOutcome converts a finished dispatch into an entry.
func FromOutcome(o dispatch.Outcome) Entry {
	e := Entry{
		Protocol:   o.Protocol,
		Status:     o.Status,
		Duration:   o.Duration,
		Action:     o.Action,
		RemoteAddr: o.RemoteAddr,
		Input:      o.InputLength,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}
