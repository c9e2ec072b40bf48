package collect

import (
	"regexp"
	"strconv"

	"github.com/1sec-project/casewatch/internal/core"
)

// Windows security events exported as CSV:
// 2025-03-01T10:00:00Z,4625,DC01,administrator,10.0.0.50,An account failed to log on
var winLogRe = regexp.MustCompile(`^(\S+?),(\d+),([^,]+),([^,]+),([^,]+),(.*)$`)

func parseWindows(line string, m []string) (core.Event, bool) {
	t, ok := parseISOTime(m[1])
	if !ok {
		return core.Event{}, false
	}
	code, err := strconv.Atoi(m[2])
	if err != nil {
		return core.Event{}, false
	}
	ip := m[5]
	if ip == "-" {
		ip = ""
	}
	return core.Event{
		Time:      t,
		Type:      core.EventWindows,
		EventCode: code,
		Host:      m[3],
		User:      m[4],
		IP:        ip,
		Detail:    m[6],
		Raw:       line,
	}, true
}
