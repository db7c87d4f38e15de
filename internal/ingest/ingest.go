// Package ingest defines how raw transport-stream bytes enter the receiver:
// the Source capability that owns the network connection, the Handler it
// reports to, and the bounded Queue that decouples the two from the demux
// worker.
package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives connection events from a Source. All methods are called
// on the source's own goroutine; OnData must not block and must not retain
// buf after it returns.
type Handler interface {
	OnConnect(remoteAddr string)
	OnDisconnect()
	OnData(buf []byte)
}

// Source accepts one sender at a time on a port and feeds its bytes to a
// Handler. Stop is idempotent and closes both the active connection and the
// listening socket.
type Source interface {
	Start(port int, h Handler) error
	Stop()
	Stats() Stats
}

// Stats captures connection-level metrics for the current (or most recent)
// sender.
type Stats struct {
	Connected     bool   `json:"connected"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
	Connections   int64  `json:"connections"`
	Rejected      int64  `json:"rejected"`
}

// Session tracks the metrics of one sender connection and the totals across
// connections. Sources embed it and update it from their read loop.
type Session struct {
	mu          sync.Mutex
	connected   bool
	startedAt   time.Time
	remoteAddr  string
	connections int64

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	rejected      atomic.Int64
}

// Begin marks a new connection from remoteAddr and resets per-connection
// counters.
func (s *Session) Begin(remoteAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.startedAt = time.Now()
	s.remoteAddr = remoteAddr
	s.connections++
	s.bytesReceived.Store(0)
	s.readCount.Store(0)
}

// End marks the current connection as closed. Its counters remain readable
// until the next Begin.
func (s *Session) End() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// RecordRead increments the byte and read counters, called after each
// successful socket read.
func (s *Session) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// RecordRejected counts a caller turned away while another was connected.
func (s *Session) RecordRejected() {
	s.rejected.Add(1)
}

// Stats returns a snapshot of the session metrics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Connected:     s.connected,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		RemoteAddr:    s.remoteAddr,
		Connections:   s.connections,
		Rejected:      s.rejected.Load(),
	}
	if !s.startedAt.IsZero() {
		st.ConnectedAt = s.startedAt.UnixMilli()
		if s.connected {
			st.UptimeMs = time.Since(s.startedAt).Milliseconds()
		}
	}
	return st
}
