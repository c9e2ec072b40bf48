// Package correlate folds detector alerts into per-entity cases.
package correlate

import (
	"github.com/google/uuid"

	"github.com/1sec-project/casewatch/internal/core"
)

// Scoring constants.
const (
	MaxScore         = 100
	mixedKindBonus   = 15
	fourSignalBonus  = 10
	threeSignalBonus = 5
)

// caseNamespace scopes case IDs so the same entity always maps to the same case.
var caseNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("casewatch/case"))

// CaseID returns the stable case identifier for an entity key.
func CaseID(entityKey string) string {
	return uuid.NewSHA1(caseNamespace, []byte(entityKey)).String()
}

type group struct {
	entity core.Entity
	alerts []core.EventAlert
	first  core.EventAlert
	last   core.EventAlert
}

// Correlate groups alerts by entity and scores each group. Cases are returned
// in the order their entity was first seen. It is a pure function of the
// alert slice and its order.
func Correlate(alerts []core.EventAlert) []core.CaseAlert {
	var order []string
	groups := make(map[string]*group)

	for _, a := range alerts {
		key := a.Entity.Key()
		g, ok := groups[key]
		if !ok {
			g = &group{entity: a.Entity, first: a, last: a}
			groups[key] = g
			order = append(order, key)
		}
		g.alerts = append(g.alerts, a)
		if a.Time.Before(g.first.Time) {
			g.first = a
		}
		if a.Time.After(g.last.Time) {
			g.last = a
		}
	}

	cases := make([]core.CaseAlert, 0, len(order))
	for _, key := range order {
		cases = append(cases, buildCase(key, groups[key]))
	}
	return cases
}

func buildCase(key string, g *group) core.CaseAlert {
	deduped := Dedup(g.alerts)

	base := 0
	hasRule, hasAnomaly := false, false
	for _, a := range deduped {
		base += a.Weight
		switch a.Kind {
		case core.KindRule:
			hasRule = true
		case core.KindAnomaly:
			hasAnomaly = true
		}
	}

	signals := len(deduped)
	bonus := Bonus(hasRule && hasAnomaly, signals)
	score := min(base+bonus, MaxScore)

	duration := g.last.Time.Sub(g.first.Time)
	return core.CaseAlert{
		ID:              CaseID(key),
		Entity:          g.entity,
		Severity:        Severity(score, signals, hasRule && hasAnomaly),
		Score:           score,
		EventAlerts:     deduped,
		AllEvents:       append([]core.EventAlert(nil), g.alerts...),
		FirstSeen:       g.first.Time,
		LastSeen:        g.last.Time,
		Duration:        duration,
		DurationMinutes: duration.Minutes(),
		AttackMetrics: core.AttackMetrics{
			UniqueDetectionTypes: signals,
			HasRuleBased:         hasRule,
			HasAnomalyBased:      hasAnomaly,
			TotalDetections:      len(g.alerts),
			UniqueDetections:     len(deduped),
			BonusApplied:         bonus,
		},
	}
}

// Dedup keeps the highest-weight alert per signal. A later alert replaces an
// earlier one only when its weight is strictly greater. The result is ordered
// by the first appearance of each signal.
func Dedup(alerts []core.EventAlert) []core.EventAlert {
	idx := make(map[core.Signal]int)
	var out []core.EventAlert
	for _, a := range alerts {
		i, ok := idx[a.Signal]
		if !ok {
			idx[a.Signal] = len(out)
			out = append(out, a)
			continue
		}
		if a.Weight > out[i].Weight {
			out[i] = a
		}
	}
	return out
}

// Bonus is the diversity bonus added on top of the summed weights.
func Bonus(mixedKinds bool, signals int) int {
	bonus := 0
	if mixedKinds {
		bonus += mixedKindBonus
	}
	switch {
	case signals >= 4:
		bonus += fourSignalBonus
	case signals >= 3:
		bonus += threeSignalBonus
	}
	return bonus
}

// Severity maps a case score to its tier.
func Severity(score, signals int, mixedKinds bool) core.Severity {
	switch {
	case score >= 80:
		return core.SeverityHigh
	case score >= 70 && signals >= 3:
		return core.SeverityHigh
	case score >= 60 && mixedKinds:
		return core.SeverityHigh
	case score >= 40:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}
