package engine

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// Sink receives alerts and cases. *core.AlertBus satisfies it.
type Sink interface {
	PublishAlert(core.EventAlert) error
	PublishCase(core.CaseAlert) error
}

// Publisher forwards only what a sink has not seen yet: alerts by ID and
// cases by revision. Memory is bounded by an LRU per kind.
type Publisher struct {
	sink   Sink
	alerts *lru.Cache[string, struct{}]
	cases  *lru.Cache[string, string]
	logger zerolog.Logger
}

// PublishStats reports what one Publish call sent.
type PublishStats struct {
	Alerts int
	Cases  int
}

// NewPublisher creates a Publisher remembering up to size alerts and size cases.
func NewPublisher(sink Sink, size int, logger zerolog.Logger) (*Publisher, error) {
	if size < 1 {
		size = 1
	}
	alerts, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("creating alert cache: %w", err)
	}
	cases, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating case cache: %w", err)
	}
	return &Publisher{
		sink:   sink,
		alerts: alerts,
		cases:  cases,
		logger: logger.With().Str("component", "publisher").Logger(),
	}, nil
}

// Publish sends new alerts and new case revisions. Items that fail are not
// remembered, so the next call retries them.
func (p *Publisher) Publish(alerts []core.EventAlert, cases []core.CaseAlert) (PublishStats, error) {
	var stats PublishStats
	var errs []error

	for _, a := range alerts {
		if p.alerts.Contains(a.ID) {
			continue
		}
		err := p.sink.PublishAlert(a)
		metrics.ObservePublish("alert", err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.alerts.Add(a.ID, struct{}{})
		stats.Alerts++
	}

	for _, c := range cases {
		rev := c.Revision()
		if prev, ok := p.cases.Get(c.ID); ok && prev == rev {
			continue
		}
		err := p.sink.PublishCase(c)
		metrics.ObservePublish("case", err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.cases.Add(c.ID, rev)
		stats.Cases++
	}

	if stats.Alerts > 0 || stats.Cases > 0 {
		p.logger.Debug().Int("alerts", stats.Alerts).Int("cases", stats.Cases).Msg("published")
	}
	if len(errs) > 0 {
		p.logger.Warn().Int("failed", len(errs)).Msg("some publications failed")
		return stats, errors.Join(errs...)
	}
	return stats, nil
}
