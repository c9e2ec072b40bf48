package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity represents the severity tier of an alert or case.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a case-insensitive tier name to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, true
	case "MEDIUM":
		return SeverityMedium, true
	case "HIGH":
		return SeverityHigh, true
	default:
		return SeverityLow, false
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s, _ = ParseSeverity(str)
	return nil
}

// EventType is the log surface an event was observed on.
type EventType string

const (
	EventWeb      EventType = "web"
	EventFirewall EventType = "firewall"
	EventSSH      EventType = "ssh"
	EventWindows  EventType = "windows"
	EventEDR      EventType = "edr"
)

// Unknown is the sentinel used for identity fields that could not be extracted.
const Unknown = "unknown"

// Event is a normalized security event. Fields that do not apply to the
// event's type are left at their zero value.
type Event struct {
	Time time.Time `json:"timestamp"`
	Type EventType `json:"event_type"`

	IP   string `json:"ip,omitempty"`
	Host string `json:"host,omitempty"`
	User string `json:"user,omitempty"`

	// web
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Status    int    `json:"status,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// firewall
	Src    string `json:"src,omitempty"`
	Dst    string `json:"dst,omitempty"`
	Action string `json:"action,omitempty"`
	Port   int    `json:"dpt,omitempty"`
	Proto  string `json:"proto,omitempty"`
	Reason string `json:"reason,omitempty"`

	// windows
	EventCode int `json:"event_id,omitempty"`

	// ssh
	Outcome    string `json:"outcome,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`

	// edr
	EDRType string `json:"edr_type,omitempty"`
	Process string `json:"process,omitempty"`
	Parent  string `json:"parent,omitempty"`
	Detail  string `json:"detail,omitempty"`

	Raw string `json:"raw,omitempty"`
	// Source names the collector that delivered the event.
	Source string `json:"source,omitempty"`
}

// Windows logon failure event code.
const EventCodeLogonFailure = 4625
