package core

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	alertsStream  = "CASEWATCH_ALERTS"
	casesStream   = "CASEWATCH_CASES"
	alertsSubject = "casewatch.alerts"
	casesSubject  = "casewatch.cases"
)

// AlertBus publishes detector alerts and correlated cases to NATS JetStream.
type AlertBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks publication counters.
type BusMetrics struct {
	mu              sync.Mutex `json:"-"`
	AlertsPublished int64      `json:"alerts_published"`
	CasesPublished  int64      `json:"cases_published"`
	PublishFailed   int64      `json:"publish_failed"`
}

// NewAlertBus connects to NATS. If cfg.Embedded is true, it starts an embedded server first.
func NewAlertBus(cfg *BusConfig, logger zerolog.Logger) (*AlertBus, error) {
	bus := &AlertBus{
		logger:  logger.With().Str("component", "alert_bus").Logger(),
		metrics: &BusMetrics{},
	}

	url := cfg.URL
	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		ns, err := server.NewServer(&server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}
		bus.ns = ns
		url = ns.ClientURL()
		bus.logger.Info().Str("url", url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(url,
		nats.Name("casewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	for _, sc := range []*nats.StreamConfig{
		{
			Name:       alertsStream,
			Subjects:   []string{alertsSubject + ".>"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     24 * time.Hour * 30,
			MaxBytes:   512 * 1024 * 1024,
			Storage:    nats.FileStorage,
			Discard:    nats.DiscardOld,
			Duplicates: time.Hour,
		},
		{
			Name:       casesStream,
			Subjects:   []string{casesSubject + ".>"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     24 * time.Hour * 30,
			MaxBytes:   256 * 1024 * 1024,
			Storage:    nats.FileStorage,
			Discard:    nats.DiscardOld,
			Duplicates: time.Hour,
		},
	} {
		if err := bus.ensureStream(sc); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// ensureStream creates the stream, or updates it when it exists with an older config.
func (b *AlertBus) ensureStream(sc *nats.StreamConfig) error {
	_, err := b.js.AddStream(sc)
	if err == nil {
		return nil
	}
	if _, updateErr := b.js.UpdateStream(sc); updateErr != nil {
		return fmt.Errorf("creating/updating stream %s: %w (original: %v)", sc.Name, updateErr, err)
	}
	return nil
}

// AlertSubject is the subject an alert for sig is published on.
func AlertSubject(sig Signal) string {
	return alertsSubject + "." + strings.ToLower(string(sig))
}

// CaseSubject is the subject a case of severity s is published on.
func CaseSubject(s Severity) string {
	return casesSubject + "." + strings.ToLower(s.String())
}

// PublishAlert publishes an alert. The alert ID doubles as the JetStream
// message ID, so the server drops repeats inside the duplicate window.
func (b *AlertBus) PublishAlert(alert EventAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	subject := AlertSubject(alert.Signal)
	if _, err := b.js.Publish(subject, data, nats.MsgId(alert.ID)); err != nil {
		b.countFailure()
		return fmt.Errorf("publishing alert to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AlertsPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("alert_id", alert.ID).
		Str("subject", subject).
		Int("weight", alert.Weight).
		Msg("alert published")
	return nil
}

// PublishCase publishes the current revision of a case.
func (b *AlertBus) PublishCase(c CaseAlert) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling case: %w", err)
	}

	subject := CaseSubject(c.Severity)
	if _, err := b.js.Publish(subject, data, nats.MsgId(c.Revision())); err != nil {
		b.countFailure()
		return fmt.Errorf("publishing case to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.CasesPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("case_id", c.ID).
		Str("entity", c.Entity.Key()).
		Int("score", c.Score).
		Msg("case published")
	return nil
}

func (b *AlertBus) countFailure() {
	b.metrics.mu.Lock()
	b.metrics.PublishFailed++
	b.metrics.mu.Unlock()
}

// SubscribeCases delivers every case published from now on.
func (b *AlertBus) SubscribeCases(handler func(c CaseAlert)) error {
	sub, err := b.js.Subscribe(casesSubject+".>", func(msg *nats.Msg) {
		var c CaseAlert
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal case")
			_ = msg.Nak()
			return
		}
		handler(c)
		_ = msg.Ack()
	}, nats.DeliverNew(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("subscribing to cases: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close unsubscribes, drops the connection and stops the embedded server.
func (b *AlertBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *AlertBus) shutdownServer() {
	if b.ns == nil {
		return
	}
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
	b.ns = nil
	b.logger.Info().Msg("embedded NATS server stopped")
}

// IsConnected returns true if the NATS connection is active.
func (b *AlertBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus counters.
func (b *AlertBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"alerts_published": b.metrics.AlertsPublished,
		"cases_published":  b.metrics.CasesPublished,
		"publish_failed":   b.metrics.PublishFailed,
	}
}
