package collect

import (
	"regexp"

	"github.com/1sec-project/casewatch/internal/core"
)

var (
	// sshd: Failed password for invalid user admin from 1.2.3.4 port 22 ssh2
	sshFailRe = regexp.MustCompile(`Failed\s+password\s+for\s+(?:invalid\s+user\s+)?(\S+)`)
	// sshd: Accepted publickey for deploy from 1.2.3.4 port 22 ssh2
	sshAcceptRe = regexp.MustCompile(`Accepted\s+(\w+)\s+for\s+(\S+)`)
	// Extract IP
	sshFromRe = regexp.MustCompile(`\bfrom\s+(\d+\.\d+\.\d+\.\d+)\b`)
)

// parseSSH builds an ssh event from an sshd syslog line. Lines that are
// neither a failure nor an acceptance still produce an event with no outcome.
func parseSSH(line string, hdr syslogHeader) (core.Event, bool) {
	e := core.Event{
		Time: hdr.time,
		Type: core.EventSSH,
		Host: hdr.host,
		Raw:  line,
	}
	if m := sshFromRe.FindStringSubmatch(line); m != nil {
		e.IP = m[1]
	}
	if m := sshAcceptRe.FindStringSubmatch(line); m != nil {
		e.Outcome = "success"
		e.AuthMethod = m[1]
		e.User = m[2]
	}
	if m := sshFailRe.FindStringSubmatch(line); m != nil {
		e.Outcome = "fail"
		e.User = m[1]
	}
	return e, true
}
