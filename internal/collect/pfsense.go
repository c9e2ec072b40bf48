package collect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/1sec-project/casewatch/internal/core"
)

// 2025-03-01T10:00:00Z action=deny src=203.0.113.5 dst=10.0.0.10 dpt=22 proto=tcp reason=policy
var fwKVRe = regexp.MustCompile(`(\w+)=(\S+)`)

func isFirewallKV(line string) bool {
	return strings.Contains(line, "action=") &&
		strings.Contains(line, "src=") &&
		strings.Contains(line, "dpt=")
}

func parseFirewallKV(line string) (core.Event, bool) {
	t, ok := parseISOTime(strings.Fields(line)[0])
	if !ok {
		return core.Event{}, false
	}

	kv := make(map[string]string)
	for _, m := range fwKVRe.FindAllStringSubmatch(line, -1) {
		kv[m[1]] = m[2]
	}
	port, err := strconv.Atoi(kv["dpt"])
	if err != nil {
		port = 0
	}
	return core.Event{
		Time:   t,
		Type:   core.EventFirewall,
		IP:     kv["src"],
		Src:    kv["src"],
		Dst:    kv["dst"],
		Action: kv["action"],
		Port:   port,
		Proto:  kv["proto"],
		Reason: kv["reason"],
		Raw:    line,
	}, true
}

// parseFilterlog reads a pfSense/OPNsense filterlog CSV record carried in a
// syslog line. block and reject are normalized to "deny", pass to "allow".
//
// filterlog format (comma-separated):
// rule,sub-rule,anchor,tracker,interface,reason,action,direction,ip-version,...
// For IPv4 (ip-version=4): ...tos,ecn,ttl,id,offset,flags,proto-id,proto,length,src,dst,...
// TCP/UDP: ...src-port,dst-port,...
func parseFilterlog(line string, hdr syslogHeader) (core.Event, bool) {
	i := strings.Index(line, "filterlog")
	if i < 0 {
		return core.Event{}, false
	}
	rest := line[i:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return core.Event{}, false
	}
	fields := strings.Split(strings.TrimSpace(rest[colon+1:]), ",")
	if len(fields) < 20 {
		return core.Event{}, false
	}

	var src, dst, proto, dport string
	switch fields[8] {
	case "4":
		proto, src, dst = fields[16], fields[18], fields[19]
		if len(fields) >= 22 {
			dport = fields[21]
		}
	case "6":
		proto, src, dst = fields[13], fields[15], fields[16]
		if len(fields) >= 19 {
			dport = fields[18]
		}
	default:
		return core.Event{}, false
	}

	var action string
	switch strings.ToLower(fields[6]) {
	case "block", "reject":
		action = "deny"
	case "pass":
		action = "allow"
	default:
		action = strings.ToLower(fields[6])
	}

	port := 0
	switch strings.ToLower(proto) {
	case "tcp", "udp":
		port, _ = strconv.Atoi(dport)
	}

	return core.Event{
		Time:   hdr.time,
		Type:   core.EventFirewall,
		Host:   hdr.host,
		IP:     src,
		Src:    src,
		Dst:    dst,
		Action: action,
		Port:   port,
		Proto:  strings.ToLower(proto),
		Reason: fields[5],
		Raw:    line,
	}, true
}
