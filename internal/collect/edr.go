package collect

import (
	"regexp"

	"github.com/1sec-project/casewatch/internal/core"
)

// 2025-03-01T10:00:00Z WS-042 ProcessCreate powershell.exe winword.exe alice "-enc SQBFAFgA..."
var edrLogRe = regexp.MustCompile(
	`^(\S+)\s+(\S+)\s+(ProcessCreate|NetworkConnect|FileCreate|RegistrySet)\s+(\S+)\s+(\S+)\s+(\S+)\s+"(.*)"$`,
)

// parseEDR builds an edr event. EDR telemetry carries no source IP, so these
// events resolve to their host.
func parseEDR(line string, m []string) (core.Event, bool) {
	t, ok := parseISOTime(m[1])
	if !ok {
		return core.Event{}, false
	}
	return core.Event{
		Time:    t,
		Type:    core.EventEDR,
		Host:    m[2],
		EDRType: m[3],
		Process: m[4],
		Parent:  m[5],
		User:    m[6],
		Detail:  m[7],
		Raw:     line,
	}, true
}
