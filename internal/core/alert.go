package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfOrder is returned when an event's timestamp precedes the one before it.
var ErrOutOfOrder = errors.New("event timestamp regressed")

// Kind separates pattern-matching detections from statistical ones.
type Kind string

const (
	KindRule    Kind = "RULE"
	KindAnomaly Kind = "ANOMALY"
)

// Signal names a detector.
type Signal string

const (
	SignalWebBruteForce Signal = "WEB_BRUTE_FORCE"
	SignalFWPortScan    Signal = "FW_PORT_SCAN"
	SignalSSHBruteForce Signal = "SSH_BRUTE_FORCE"
	SignalWinBruteForce Signal = "WIN_BRUTE_FORCE"
	SignalBurst         Signal = "TIME_WEIGHTED_BURST"
	SignalCrossSurface  Signal = "CROSS_SURFACE_ACTIVITY"
)

// Signals lists every detector in evaluation order.
var Signals = []Signal{
	SignalWebBruteForce,
	SignalFWPortScan,
	SignalSSHBruteForce,
	SignalWinBruteForce,
	SignalBurst,
	SignalCrossSurface,
}

// EventAlert is a single detector firing.
type EventAlert struct {
	ID           string         `json:"alert_id"`
	Time         time.Time      `json:"time"`
	Entity       Entity         `json:"entity"`
	Kind         Kind           `json:"kind"`
	Signal       Signal         `json:"signal"`
	Severity     Severity       `json:"severity"`
	Weight       int            `json:"weight"`
	Evidence     map[string]any `json:"evidence"`
	SourceEvents []Event        `json:"source_events"`
}

// AlertID builds the deterministic identifier of an alert.
func AlertID(sig Signal, en Entity, t time.Time) string {
	return string(sig) + "_" + en.Key() + "_" + t.UTC().Format(time.RFC3339Nano)
}

// AttackMetrics summarizes the detections behind a case.
type AttackMetrics struct {
	UniqueDetectionTypes int  `json:"unique_detection_types"`
	HasRuleBased         bool `json:"has_rule_based"`
	HasAnomalyBased      bool `json:"has_anomaly_based"`
	TotalDetections      int  `json:"total_detections"`
	UniqueDetections     int  `json:"unique_detections"`
	BonusApplied         int  `json:"bonus_applied"`
}

// CaseAlert groups every alert raised against one entity.
type CaseAlert struct {
	ID              string        `json:"case_id"`
	Entity          Entity        `json:"entity"`
	Severity        Severity      `json:"severity"`
	Score           int           `json:"score"`
	EventAlerts     []EventAlert  `json:"event_alerts"`
	AllEvents       []EventAlert  `json:"all_events"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	Duration        time.Duration `json:"-"`
	DurationMinutes float64       `json:"duration_minutes"`
	AttackMetrics   AttackMetrics `json:"attack_metrics"`
}

// Revision identifies the state of a case. It changes whenever a new alert
// lands on the case or its score moves.
func (c CaseAlert) Revision() string {
	return fmt.Sprintf("%s/%d/%d/%d", c.ID, c.Score, c.AttackMetrics.TotalDetections, c.LastSeen.UnixNano())
}
