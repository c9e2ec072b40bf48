package collect

import (
	"regexp"
	"strconv"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

var (
	// 2025-03-01T10:00:00Z 203.0.113.5 POST /login 401 512 Mozilla/5.0
	webLogRe = regexp.MustCompile(
		`^(\S+)\s+(\d+\.\d+\.\d+\.\d+)\s+(GET|POST)\s+(/\S+)\s+(\d{3})\s+(\d+)\s+(.+)$`,
	)

	// nginx combined log format:
	// 1.2.3.4 - user [10/Oct/2000:13:55:36 -0700] "GET /path HTTP/1.1" 200 2326 "referer" "user-agent"
	nginxLogRe = regexp.MustCompile(
		`^(\S+)\s+\S+\s+(\S+)\s+\[([^\]]+)\]\s+"(\S+)\s+(\S+)\s+\S+"\s+(\d{3})\s+(\d+|-)(?:\s+"([^"]*)")?\s*(?:"([^"]*)")?`,
	)
)

func parseWeb(line string, m []string) (core.Event, bool) {
	t, ok := parseISOTime(m[1])
	if !ok {
		return core.Event{}, false
	}
	status, _ := strconv.Atoi(m[5])
	size, _ := strconv.Atoi(m[6])
	return core.Event{
		Time:      t,
		Type:      core.EventWeb,
		IP:        m[2],
		Method:    m[3],
		Path:      m[4],
		Status:    status,
		Bytes:     size,
		UserAgent: m[7],
		Raw:       line,
	}, true
}

func parseNginx(line string, m []string) (core.Event, bool) {
	t, err := time.Parse("02/Jan/2006:15:04:05 -0700", m[3])
	if err != nil {
		return core.Event{}, false
	}
	status, _ := strconv.Atoi(m[6])
	size, _ := strconv.Atoi(m[7])

	e := core.Event{
		Time:   t.UTC(),
		Type:   core.EventWeb,
		IP:     m[1],
		Method: m[4],
		Path:   m[5],
		Status: status,
		Bytes:  size,
		Raw:    line,
	}
	if m[2] != "-" {
		e.User = m[2]
	}
	if len(m) > 9 {
		e.UserAgent = m[9]
	}
	return e, true
}
