package collect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// Handler receives every event a collector parses.
type Handler func(core.Event)

// Collector is the interface for all log sources.
type Collector interface {
	Name() string
	Start(ctx context.Context, handle Handler, logger zerolog.Logger) error
	Stop() error
}

// FileCollector tails a log file and parses each new line.
type FileCollector struct {
	path    string
	tag     string
	parser  Parser
	cancel  context.CancelFunc
	parsed  atomic.Int64
	skipped atomic.Int64
}

// NewFileCollector creates a collector for path.
func NewFileCollector(path, tag string, parser Parser) *FileCollector {
	if tag == "" {
		tag = "file"
	}
	return &FileCollector{path: path, tag: tag, parser: parser}
}

func (c *FileCollector) Name() string { return c.tag + ":" + c.path }

func (c *FileCollector) Start(ctx context.Context, handle Handler, logger zerolog.Logger) error {
	ctx, c.cancel = context.WithCancel(ctx)

	return tailFile(ctx, c.path, func(line string) {
		e, ok := c.parser.ParseLine(line)
		if !ok {
			c.skipped.Add(1)
			metrics.ObserveSkippedLine()
			return
		}
		c.parsed.Add(1)
		e.Source = c.Name()
		handle(e)
	}, logger)
}

func (c *FileCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Counts returns how many lines were parsed and skipped so far.
func (c *FileCollector) Counts() (parsed, skipped int64) {
	return c.parsed.Load(), c.skipped.Load()
}

// Manager manages multiple collector instances.
type Manager struct {
	mu         sync.Mutex
	collectors []Collector
	logger     zerolog.Logger
}

// NewManager creates a collector manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "collector_manager").Logger(),
	}
}

// StartAll creates and starts a collector per configured source. Sources
// that fail to start are logged and skipped.
func (m *Manager) StartAll(ctx context.Context, cfg core.CollectConfig, handle Handler) error {
	parser := NewParser(cfg)
	for _, sc := range cfg.Sources {
		var c Collector
		switch sc.Type {
		case "", "file":
			c = NewFileCollector(sc.LogPath, sc.Tag, parser)
		default:
			m.logger.Warn().Str("type", sc.Type).Msg("unknown source type, skipping")
			continue
		}

		if err := c.Start(ctx, handle, m.logger); err != nil {
			m.logger.Error().Err(err).Str("collector", c.Name()).Msg("failed to start collector")
			continue
		}

		m.mu.Lock()
		m.collectors = append(m.collectors, c)
		m.mu.Unlock()

		m.logger.Info().Str("collector", c.Name()).Str("path", sc.LogPath).Msg("collector started")
	}
	return nil
}

// StopAll stops all running collectors.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		if err := c.Stop(); err != nil {
			m.logger.Error().Err(err).Str("collector", c.Name()).Msg("error stopping collector")
		}
	}
	m.collectors = nil
}

// Count returns the number of running collectors.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collectors)
}

// tailFile seeks to the end of path and follows new lines. Rotation is
// detected by the file shrinking, after which it is reopened from the start.
func tailFile(ctx context.Context, path string, handler func(line string), logger zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fmt.Errorf("seeking to end of %s: %w", path, err)
	}

	go func() {
		defer func() { f.Close() }()
		reader := bufio.NewReader(f)
		var lastSize int64
		if info, err := f.Stat(); err == nil {
			lastSize = info.Size()
		}
		var partial string

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			chunk, err := reader.ReadString('\n')
			if err != nil {
				partial += chunk
				if err == io.EOF {
					if info, statErr := os.Stat(path); statErr == nil {
						if info.Size() < lastSize {
							logger.Info().Str("path", path).Msg("log rotation detected, reopening")
							f.Close()
							time.Sleep(100 * time.Millisecond)
							newF, openErr := os.Open(path)
							if openErr != nil {
								logger.Error().Err(openErr).Str("path", path).Msg("failed to reopen after rotation")
								return
							}
							f = newF
							reader = bufio.NewReader(f)
							lastSize = 0
							partial = ""
							continue
						}
						lastSize = info.Size()
					}
					time.Sleep(250 * time.Millisecond)
					continue
				}
				if ctx.Err() != nil {
					return
				}
				logger.Error().Err(err).Str("path", path).Msg("read error")
				time.Sleep(time.Second)
				continue
			}

			if info, statErr := f.Stat(); statErr == nil {
				lastSize = info.Size()
			}

			line := partial + chunk[:len(chunk)-1]
			partial = ""
			if len(line) > 0 {
				handler(line)
			}
		}
	}()

	return nil
}
