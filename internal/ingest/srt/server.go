package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/srtrecv/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// DefaultLatency is the SRT latency used when none is configured.
const DefaultLatency = 120 * time.Millisecond

const (
	bitrateLogInterval = 5 * time.Second
	stopTimeout        = 2 * time.Second
)

// ErrStarted is returned by Start when the server is already running.
var ErrStarted = errors.New("srt: server already started")

// Server is an ingest.Source listening for SRT callers. While a caller is
// connected, further callers are rejected during the handshake.
type Server struct {
	log     *slog.Logger
	host    string
	latency time.Duration

	session ingest.Session
	active  atomic.Bool

	mu            sync.Mutex
	cancel        context.CancelFunc
	closeListener func()
	conn          *srtgo.Conn
	done          chan struct{}
}

// NewServer creates an SRT server binding host (empty for all interfaces).
// A zero latency selects DefaultLatency. If log is nil, slog.Default() is
// used.
func NewServer(host string, latency time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Server{
		log:     log.With("component", "srt-server"),
		host:    host,
		latency: latency,
	}
}

// Start binds port and begins accepting callers in the background. Events
// for each accepted caller are delivered to h.
func (s *Server) Start(port int, h ingest.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrStarted
	}

	cfg := srtgo.DefaultConfig()
	setNanos(&cfg.Latency, s.latency)

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	s.log.Info("listening", "addr", addr, "latency", s.latency)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if s.active.Load() {
			s.session.RecordRejected()
			s.log.Warn("rejecting caller, already serving one", "stream_id", req.StreamID)
			return srtgo.RejPeer
		}
		return 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.closeListener = func() { l.Close() }
	s.done = make(chan struct{})

	go s.acceptLoop(ctx, l.Accept, h, s.done)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, accept func() (*srtgo.Conn, error), h ingest.Handler, done chan struct{}) {
	defer close(done)
	for {
		conn, err := accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.active.Store(true)
		s.mu.Unlock()

		s.serve(ctx, conn, h)

		s.mu.Lock()
		s.conn = nil
		s.active.Store(false)
		s.mu.Unlock()
	}
}

// serve runs the read loop for one caller until it disconnects or the
// server stops.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn, h ingest.Handler) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	streamKey := extractStreamKey(conn.StreamID())
	s.session.Begin(remote)
	s.log.Info("caller connected", "remote", remote, "stream_key", streamKey)
	h.OnConnect(remote)

	buf := make([]byte, srtReadBufferSize)
	lastLog := time.Now()
	var lastBytes int64
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.log.Debug("read error", "stream_key", streamKey, "error", err)
			}
			break
		}
		if n == 0 {
			continue
		}
		s.session.RecordRead(n)
		h.OnData(buf[:n])

		if elapsed := time.Since(lastLog); elapsed >= bitrateLogInterval {
			st := s.session.Stats()
			kbps := float64(st.BytesReceived-lastBytes) * 8 / elapsed.Seconds() / 1000
			s.log.Info("receiving", "stream_key", streamKey, "kbps", int64(kbps), "bytes", st.BytesReceived)
			lastLog, lastBytes = time.Now(), st.BytesReceived
		}
	}

	s.session.End()
	stats := s.session.Stats()
	h.OnDisconnect()
	s.log.Info("caller disconnected", "stream_key", streamKey,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount)
}

// Stop closes the active connection and the listening socket and waits
// briefly for the accept loop to exit. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.closeListener()
	if s.conn != nil {
		s.conn.Close()
	}
	done := s.done
	s.cancel, s.closeListener, s.done = nil, nil, nil
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn("accept loop did not exit in time")
	}
}

// Stats returns connection metrics for the current or most recent caller.
func (s *Server) Stats() ingest.Stats {
	return s.session.Stats()
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}

// setNanos stores d in an srtgo nanosecond field.
func setNanos[T ~int64](dst *T, d time.Duration) {
	*dst = T(d.Nanoseconds())
}
