package detect

import (
	"sort"

	"github.com/1sec-project/casewatch/internal/core"
)

// Rule thresholds.
const (
	webMinFailures   = 6
	fwMinPorts       = 3
	sshMinFailures   = 4
	winMinFailures   = 5
	loginPath        = "/login"
	statusUnauth     = 401
	statusOK         = 200
	firewallDeny     = "deny"
	sshOutcomeFailed = "fail"
)

// RuleBank runs the four pattern detectors. Windows are keyed by the raw
// source IP; cooldowns are keyed by the resolved actor entity.
//
// A RuleBank is not safe for concurrent use.
type RuleBank struct {
	cfg      core.DetectionConfig
	web      windowSet
	fw       windowSet
	ssh      windowSet
	win      windowSet
	cooldown *Cooldown
	guard    orderGuard
}

// NewRuleBank creates a rule bank using the windows and cooldown in cfg.
func NewRuleBank(cfg core.DetectionConfig) *RuleBank {
	return &RuleBank{
		cfg:      cfg,
		web:      windowSet{},
		fw:       windowSet{},
		ssh:      windowSet{},
		win:      windowSet{},
		cooldown: NewCooldown(cfg.Cooldown),
	}
}

// Observe feeds one event through every rule whose filter matches it and
// returns the alerts raised. Events must arrive in non-decreasing time order.
func (b *RuleBank) Observe(e core.Event) ([]core.EventAlert, error) {
	if err := b.guard.check(e); err != nil {
		return nil, err
	}

	ip := core.WindowIP(e)
	actor := core.Actor(e)

	var alerts []core.EventAlert
	emit := func(a *core.EventAlert) {
		if a != nil {
			alerts = append(alerts, *a)
		}
	}

	if e.Type == core.EventWeb && e.Path == loginPath {
		emit(b.webBruteForce(e, ip, actor))
	}
	if e.Type == core.EventFirewall {
		emit(b.portScan(e, ip, actor))
	}
	if e.Type == core.EventSSH && e.Outcome == sshOutcomeFailed {
		emit(b.sshBruteForce(e, ip, actor))
	}
	if e.Type == core.EventWindows && e.EventCode == core.EventCodeLogonFailure {
		emit(b.winBruteForce(e, ip, actor))
	}
	return alerts, nil
}

func (b *RuleBank) webBruteForce(e core.Event, ip string, actor core.Entity) *core.EventAlert {
	w := b.web.get(ip)
	w.push(e, b.cfg.WebLoginWindow)

	failures, success := 0, false
	for _, x := range w.events {
		switch x.Status {
		case statusUnauth:
			failures++
		case statusOK:
			success = true
		}
	}
	if failures < webMinFailures || success {
		return nil
	}
	return b.fire(core.SignalWebBruteForce, e, actor, w, 35+min(failures-webMinFailures, 10), map[string]any{
		"failure_attempts":  failures,
		"target_path":       e.Path,
		"timeframe_minutes": b.cfg.WebLoginWindow.Minutes(),
		"window_start":      stamp(w.start()),
		"window_end":        stamp(e.Time),
	})
}

func (b *RuleBank) portScan(e core.Event, ip string, actor core.Entity) *core.EventAlert {
	w := b.fw.get(ip)
	w.push(e, b.cfg.FirewallWindow)

	seen := make(map[int]struct{})
	for _, x := range w.events {
		if x.Action == firewallDeny {
			seen[x.Port] = struct{}{}
		}
	}
	if len(seen) < fwMinPorts {
		return nil
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	return b.fire(core.SignalFWPortScan, e, actor, w, 30+min(len(ports)-fwMinPorts, 15), map[string]any{
		"unique_ports_scanned": ports,
		"total_attempts":       w.len(),
		"timeframe_minutes":    b.cfg.FirewallWindow.Minutes(),
		"window_start":         stamp(w.start()),
		"window_end":           stamp(e.Time),
	})
}

func (b *RuleBank) sshBruteForce(e core.Event, ip string, actor core.Entity) *core.EventAlert {
	w := b.ssh.get(ip)
	w.push(e, b.cfg.SSHWindow)

	n := w.len()
	if n < sshMinFailures {
		return nil
	}
	seen := make(map[string]struct{})
	users := []string{}
	for _, x := range w.events {
		if x.User == "" {
			continue
		}
		if _, dup := seen[x.User]; !dup {
			seen[x.User] = struct{}{}
			users = append(users, x.User)
		}
	}
	sort.Strings(users)

	return b.fire(core.SignalSSHBruteForce, e, actor, w, 35+min(n-sshMinFailures, 10), map[string]any{
		"failed_attempts":    n,
		"targeted_usernames": users,
		"timeframe_minutes":  b.cfg.SSHWindow.Minutes(),
		"window_start":       stamp(w.start()),
		"window_end":         stamp(e.Time),
	})
}

func (b *RuleBank) winBruteForce(e core.Event, ip string, actor core.Entity) *core.EventAlert {
	w := b.win.get(ip)
	w.push(e, b.cfg.WindowsWindow)

	n := w.len()
	if n < winMinFailures {
		return nil
	}
	return b.fire(core.SignalWinBruteForce, e, actor, w, 35+min(n-winMinFailures, 10), map[string]any{
		"failed_logons":     n,
		"target_host":       e.Host,
		"target_user":       e.User,
		"timeframe_minutes": b.cfg.WindowsWindow.Minutes(),
		"window_start":      stamp(w.start()),
		"window_end":        stamp(e.Time),
	})
}

// fire applies the cooldown and builds the alert.
func (b *RuleBank) fire(sig core.Signal, e core.Event, actor core.Entity, w *window, weight int, evidence map[string]any) *core.EventAlert {
	key := actor.Key()
	if !b.cooldown.Ready(key, sig, e.Time) {
		return nil
	}
	b.cooldown.Fire(key, sig, e.Time)

	return &core.EventAlert{
		ID:           core.AlertID(sig, actor, e.Time),
		Time:         e.Time,
		Entity:       actor,
		Kind:         core.KindRule,
		Signal:       sig,
		Severity:     core.SeverityHigh,
		Weight:       weight,
		Evidence:     evidence,
		SourceEvents: w.snapshot(),
	}
}
