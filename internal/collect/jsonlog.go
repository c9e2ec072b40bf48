package collect

import (
	"encoding/json"

	"github.com/1sec-project/casewatch/internal/core"
)

// parseJSONEvent accepts an already-normalized event serialized as one JSON
// object per line, using the same field names casewatch emits.
func parseJSONEvent(line string) (core.Event, bool) {
	var e core.Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return core.Event{}, false
	}
	if e.Time.IsZero() {
		return core.Event{}, false
	}
	switch e.Type {
	case core.EventWeb, core.EventFirewall, core.EventSSH, core.EventWindows, core.EventEDR:
	default:
		return core.Event{}, false
	}
	e.Time = e.Time.UTC()
	if e.Raw == "" {
		e.Raw = line
	}
	return e, true
}
