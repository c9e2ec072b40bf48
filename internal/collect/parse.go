package collect

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

// Parser turns raw log lines into normalized events.
type Parser struct {
	// AssumedYear is used for syslog timestamps, which carry no year.
	AssumedYear int
}

// NewParser returns a Parser for the given collection settings.
func NewParser(cfg core.CollectConfig) Parser {
	year := cfg.AssumedYear
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	return Parser{AssumedYear: year}
}

// ParseLine recognizes one log line. The second return value is false when
// the line matches no known format or carries an invalid timestamp.
//
// Formats are tried in a fixed order: JSON events, web access, firewall
// key=value, Windows CSV, syslog (sshd, pfSense filterlog), EDR.
func (p Parser) ParseLine(line string) (core.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return core.Event{}, false
	}

	if strings.HasPrefix(line, "{") {
		return parseJSONEvent(line)
	}
	if m := webLogRe.FindStringSubmatch(line); m != nil {
		return parseWeb(line, m)
	}
	if m := nginxLogRe.FindStringSubmatch(line); m != nil {
		return parseNginx(line, m)
	}
	if isFirewallKV(line) {
		return parseFirewallKV(line)
	}
	if m := winLogRe.FindStringSubmatch(line); m != nil {
		return parseWindows(line, m)
	}
	if hdr, ok := p.splitSyslog(line); ok {
		switch {
		case strings.Contains(line, "sshd"):
			return parseSSH(line, hdr)
		case hdr.program == "filterlog":
			return parseFilterlog(line, hdr)
		}
	}
	if m := edrLogRe.FindStringSubmatch(line); m != nil {
		return parseEDR(line, m)
	}
	return core.Event{}, false
}

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISOTime accepts ISO-8601 timestamps with or without a trailing Z,
// fractional seconds or a numeric offset. Times without a zone are UTC.
func parseISOTime(s string) (time.Time, bool) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type syslogHeader struct {
	time    time.Time
	host    string
	program string
}

var (
	syslogTimeRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	programRe    = regexp.MustCompile(`^([^\[:]+)(?:\[\d+\])?:?$`)
)

// splitSyslog reads a BSD syslog prefix: "Mon DD HH:MM:SS host program[pid]: ...".
func (p Parser) splitSyslog(line string) (syslogHeader, bool) {
	parts := strings.Fields(line)
	if len(parts) < 5 || !syslogTimeRe.MatchString(parts[2]) {
		return syslogHeader{}, false
	}
	t, err := time.Parse("Jan 2 15:04:05 2006", parts[0]+" "+parts[1]+" "+parts[2]+" "+strconv.Itoa(p.AssumedYear))
	if err != nil {
		return syslogHeader{}, false
	}
	hdr := syslogHeader{time: t.UTC(), host: parts[3]}
	if m := programRe.FindStringSubmatch(parts[4]); m != nil {
		hdr.program = m[1]
	}
	return hdr, true
}
