package ingest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/collect"
	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// SyslogServer listens for syslog messages (RFC 5424 / RFC 3164) over UDP and/or TCP,
// unwraps the syslog frame and hands the payload to the collect parser.
type SyslogServer struct {
	cfg     *core.SyslogConfig
	parser  collect.Parser
	handle  collect.Handler
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	udpConn *net.UDPConn
	tcpLn   net.Listener

	received atomic.Int64
	parsed   atomic.Int64
}

// NewSyslogServer creates a new syslog ingestion server.
func NewSyslogServer(cfg *core.SyslogConfig, parser collect.Parser, handle collect.Handler, logger zerolog.Logger) *SyslogServer {
	return &SyslogServer{
		cfg:    cfg,
		parser: parser,
		handle: handle,
		logger: logger.With().Str("component", "syslog_ingest").Logger(),
	}
}
// Start begins listening for syslog messages.
func (s *SyslogServer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	proto := strings.ToLower(s.cfg.Protocol)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if proto == "udp" || proto == "both" {
		if err := s.startUDP(addr); err != nil {
			return fmt.Errorf("starting syslog UDP listener: %w", err)
		}
	}

	if proto == "tcp" || proto == "both" {
		if err := s.startTCP(addr); err != nil {
			return fmt.Errorf("starting syslog TCP listener: %w", err)
		}
	}

	s.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("syslog ingestion started")
	return nil
}

// Stop shuts down the syslog server.
func (s *SyslogServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	s.logger.Info().Msg("syslog ingestion stopped")
	return nil
}

func (s *SyslogServer) startUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	s.udpConn = conn

	go func() {
		buf := make([]byte, 65536)
		for {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			s.udpConn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, remoteAddr, err := s.udpConn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("UDP read error")
				continue
			}

			msg := string(buf[:n])
			sourceIP := ""
			if remoteAddr != nil {
				sourceIP = remoteAddr.IP.String()
			}
			s.processMessage(msg, sourceIP)
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("syslog UDP listener started")
	return nil
}

func (s *SyslogServer) startTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	s.tcpLn = ln

	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			conn, err := ln.Accept()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}

			go s.handleTCPConn(conn)
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("syslog TCP listener started")
	return nil
}

func (s *SyslogServer) handleTCPConn(conn net.Conn) {
	defer conn.Close()

	sourceIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		sourceIP = addr.IP.String()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), 65536)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.processMessage(scanner.Text(), sourceIP)
	}

	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Debug().Err(err).Str("remote", sourceIP).Msg("TCP connection read error")
	}
}


// UDPAddr returns the bound UDP address, or nil when UDP is not listening.
func (s *SyslogServer) UDPAddr() net.Addr {
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil when TCP is not listening.
func (s *SyslogServer) TCPAddr() net.Addr {
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

// Counts returns how many frames were received and how many became events.
func (s *SyslogServer) Counts() (received, parsed int64) {
	return s.received.Load(), s.parsed.Load()
}

// SyslogSource tags events delivered by the syslog listener.
const SyslogSource = "syslog"

// processMessage unwraps a raw syslog frame and forwards the parsed event.
func (s *SyslogServer) processMessage(raw string, sourceIP string) {
	s.received.Add(1)

	payload := strings.TrimSpace(raw)
	if msg := parseSyslog(raw); msg != nil {
		payload = msg.Payload
	}

	e, ok := s.parser.ParseLine(payload)
	if !ok {
		metrics.ObserveSkippedLine()
		s.logger.Debug().Str("remote", sourceIP).Str("raw", truncate(raw, 200)).Msg("unrecognized syslog payload, skipping")
		return
	}
	s.parsed.Add(1)
	e.Source = SyslogSource
	s.handle(e)
}

// syslogMessage represents a parsed syslog message.
type syslogMessage struct {
	Facility  int
	Severity  int
	Timestamp *time.Time
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
	Message   string

	// Payload is the line handed to the event parser.
	Payload string
}

// RFC 5424 pattern: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID MSG
var rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)

// RFC 3164 pattern: <PRI>TIMESTAMP HOSTNAME MSG
var rfc3164Re = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)

// Bare priority pattern: <PRI>MSG
var barePriRe = regexp.MustCompile(`^<(\d{1,3})>(.+)$`)

// bsdApps are programs whose lines the parser only recognizes with a BSD
// syslog header in front.
var bsdApps = map[string]bool{"sshd": true, "filterlog": true}

func parseSyslog(raw string) *syslogMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// Try RFC 5424 first
	if m := rfc5424Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[4],
			AppName:  m[5],
			ProcID:   m[6],
			MsgID:    m[7],
			Message:  m[8],
			Payload:  m[8],
		}
		if t, err := time.Parse(time.RFC3339, m[3]); err == nil {
			msg.Timestamp = &t
		}
		if msg.Timestamp != nil && bsdApps[msg.AppName] {
			msg.Payload = bsdLine(msg)
		}
		return msg
	}

	// Try RFC 3164
	if m := rfc3164Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[3],
			Message:  m[4],
			Payload:  raw[len(m[1])+2:],
		}
		// Parse BSD-style timestamp (add current year)
		tsStr := fmt.Sprintf("%d %s", time.Now().Year(), m[2])
		if t, err := time.Parse("2006 Jan  2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		} else if t, err := time.Parse("2006 Jan 2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		}
		// Extract app name from message if present (e.g., "sshd[1234]: message")
		if idx := strings.Index(msg.Message, ":"); idx > 0 {
			appPart := msg.Message[:idx]
			if pidIdx := strings.Index(appPart, "["); pidIdx > 0 {
				msg.AppName = appPart[:pidIdx]
				msg.ProcID = strings.Trim(appPart[pidIdx:], "[]")
			} else {
				msg.AppName = appPart
			}
			msg.Message = strings.TrimSpace(msg.Message[idx+1:])
		}
		return msg
	}

	// Try bare priority
	if m := barePriRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		return &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Message:  m[2],
			Payload:  m[2],
		}
	}

	return nil
}

// bsdLine rebuilds an RFC 3164 style line from an RFC 5424 message.
func bsdLine(msg *syslogMessage) string {
	var b strings.Builder
	b.WriteString(msg.Timestamp.UTC().Format(time.Stamp))
	b.WriteByte(' ')
	b.WriteString(msg.Hostname)
	b.WriteByte(' ')
	b.WriteString(msg.AppName)
	if msg.ProcID != "" && msg.ProcID != "-" {
		b.WriteString("[" + msg.ProcID + "]")
	}
	b.WriteString(": ")
	b.WriteString(msg.Message)
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
