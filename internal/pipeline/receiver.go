// Package pipeline wires an ingest.Source to the H.264 and AAC decoder sinks.
// Network bytes are copied into a bounded lossy queue on the source's
// goroutine and drained by a single worker that demuxes, frames and decodes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/srtrecv/internal/ingest"
	"github.com/zsiec/srtrecv/internal/media"
	"github.com/zsiec/srtrecv/internal/mpegts"
)

const (
	defaultPollTimeout = 100 * time.Millisecond
	defaultJoinTimeout = 2 * time.Second
	dropLogEvery       = 100
)

// ErrRunning is returned by Start when the receiver is already started.
var ErrRunning = errors.New("pipeline: receiver already running")

// State is the lifecycle state of a Receiver.
type State int

// Receiver states.
const (
	StateIdle State = iota
	StateListening
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Config configures a Receiver.
type Config struct {
	// Source delivers transport-stream bytes. Required.
	Source ingest.Source
	// NewVideoSink and NewAudioSink create the sinks for one Start/Stop
	// cycle. Either may be nil, in which case that stream is parsed but
	// not decoded.
	NewVideoSink func() (VideoSink, error)
	NewAudioSink func() (AudioSink, error)

	QueueCapacity int           // default ingest.DefaultQueueCapacity
	PollTimeout   time.Duration // default 100ms
	JoinTimeout   time.Duration // default 2s
	Log           *slog.Logger
}

// Stats is a snapshot of receiver metrics.
type Stats struct {
	State        string           `json:"state"`
	Demux        mpegts.Stats     `json:"demux"`
	Ingest       ingest.Stats     `json:"ingest"`
	QueueLen     int              `json:"queueLen"`
	QueueCap     int              `json:"queueCap"`
	QueueDropped int64            `json:"queueDropped"`
	Chunks       int64            `json:"chunks"`
	VideoNALs    int64            `json:"videoNals"`
	NALsDropped  int64            `json:"nalsDropped"`
	AudioFrames  int64            `json:"audioFrames"`
	UnframedPES  int64            `json:"unframedPes"`
	SinkErrors   int64            `json:"sinkErrors"`
	WorkerPanics int64            `json:"workerPanics"`
	Video        *media.VideoInfo `json:"video,omitempty"`
	Audio        *media.AudioInfo `json:"audio,omitempty"`
}

// Receiver runs the ingest-to-decode pipeline. Start and Stop may be called
// from any goroutine; a stopped Receiver can be started again.
type Receiver struct {
	cfg Config
	log *slog.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	w         atomic.Pointer[worker]
	queue     atomic.Pointer[ingest.Queue]

	stateMu sync.Mutex
	state   State
	port    int
	remote  string
}

// NewReceiver creates a Receiver in the Idle state.
func NewReceiver(cfg Config) *Receiver {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = ingest.DefaultQueueCapacity
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	return &Receiver{
		cfg: cfg,
		log: cfg.Log.With("component", "receiver"),
	}
}

// Start creates the sinks, launches the worker and starts the source on
// port. On failure everything started so far is torn down and the receiver
// stays Idle.
func (r *Receiver) Start(port int) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.cancel != nil {
		return ErrRunning
	}
	if r.cfg.Source == nil {
		return errors.New("pipeline: no source configured")
	}

	var video VideoSink
	var audio AudioSink
	if r.cfg.NewVideoSink != nil {
		v, err := r.cfg.NewVideoSink()
		if err != nil {
			return fmt.Errorf("creating video sink: %w", err)
		}
		video = v
	}
	if r.cfg.NewAudioSink != nil {
		a, err := r.cfg.NewAudioSink()
		if err != nil {
			if video != nil {
				video.Stop()
			}
			return fmt.Errorf("creating audio sink: %w", err)
		}
		audio = a
	}

	q := ingest.NewQueue(r.cfg.QueueCapacity)
	w := newWorker(r.cfg.Log, q, r.cfg.PollTimeout, video, audio)
	r.queue.Store(q)
	r.w.Store(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go w.run(ctx, done)

	// Listening is set before the source starts so that an OnConnect racing
	// with Start is not overwritten.
	r.setState(StateListening, port, "")
	if err := r.cfg.Source.Start(port, &handler{r: r, q: q, w: w}); err != nil {
		cancel()
		<-done
		w.stopSinks()
		r.setState(StateIdle, 0, "")
		return fmt.Errorf("starting source on port %d: %w", port, err)
	}

	r.cancel, r.done = cancel, done
	r.log.Info("receiver started", "port", port, "queueCapacity", q.Cap())
	return nil
}

// Stop stops the source, joins the worker for at most JoinTimeout, stops the
// sinks and discards queued data. It is a no-op when not running.
func (r *Receiver) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.cancel == nil {
		return
	}

	r.cfg.Source.Stop()
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(r.cfg.JoinTimeout):
		r.log.Warn("worker did not stop in time", "timeout", r.cfg.JoinTimeout)
	}
	r.cancel, r.done = nil, nil

	if w := r.w.Load(); w != nil {
		w.stopSinks()
	}
	if q := r.queue.Load(); q != nil {
		if n := q.Clear(); n > 0 {
			r.log.Debug("discarded queued chunks", "count", n)
		}
	}
	r.setState(StateIdle, 0, "")
	r.log.Info("receiver stopped")
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Status returns a one-line human readable description of the receiver.
func (r *Receiver) Status() string {
	r.stateMu.Lock()
	state, port, remote := r.state, r.port, r.remote
	r.stateMu.Unlock()

	switch state {
	case StateListening:
		return fmt.Sprintf("Listening on port %d", port)
	case StateStreaming:
		var formats []string
		if w := r.w.Load(); w != nil {
			if vi := w.videoInfo.Load(); vi != nil {
				formats = append(formats, vi.String())
			}
			if ai := w.audioInfo.Load(); ai != nil {
				formats = append(formats, ai.String())
			}
		}
		if len(formats) == 0 {
			return "Streaming from " + remote
		}
		return "Streaming from " + remote + ": " + strings.Join(formats, ", ")
	default:
		return "Idle"
	}
}

// Stats returns a snapshot of the receiver metrics. Counters belong to the
// most recent Start.
func (r *Receiver) Stats() Stats {
	st := Stats{State: r.State().String()}
	if r.cfg.Source != nil {
		st.Ingest = r.cfg.Source.Stats()
	}
	if q := r.queue.Load(); q != nil {
		st.QueueLen, st.QueueCap, st.QueueDropped = q.Len(), q.Cap(), q.Dropped()
	}
	if w := r.w.Load(); w != nil {
		st.Demux = w.demuxer.Stats()
		st.Chunks = w.chunks.Load()
		st.VideoNALs = w.videoNALs.Load()
		st.NALsDropped = w.nalsDropped.Load()
		st.AudioFrames = w.audioFrames.Load()
		st.UnframedPES = w.unframedPES.Load()
		st.SinkErrors = w.sinkErrors.Load()
		st.WorkerPanics = w.panics.Load()
		st.Video = w.videoInfo.Load()
		st.Audio = w.audioInfo.Load()
	}
	return st
}

// PIDs returns the PID table discovered by the current worker.
func (r *Receiver) PIDs() mpegts.PIDState {
	if w := r.w.Load(); w != nil {
		return w.demuxer.PIDs()
	}
	return mpegts.PIDState{}
}

func (r *Receiver) setState(s State, port int, remote string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = s
	if port != 0 {
		r.port = port
	}
	r.remote = remote
}

// connectionChanged applies a state change reported by the source, unless
// the receiver has already been stopped.
func (r *Receiver) connectionChanged(s State, remote string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state == StateIdle {
		return
	}
	r.state = s
	r.remote = remote
}

// handler adapts source callbacks to the queue and the receiver state. It
// runs on the source's goroutine and never blocks.
type handler struct {
	r *Receiver
	q *ingest.Queue
	w *worker
}

func (h *handler) OnConnect(remoteAddr string) {
	h.r.connectionChanged(StateStreaming, remoteAddr)
	h.r.log.Info("sender connected", "remote", remoteAddr)
}

func (h *handler) OnDisconnect() {
	n := h.q.Clear()
	h.w.resetPending.Store(true)
	h.r.connectionChanged(StateListening, "")
	h.r.log.Info("sender disconnected", "discardedChunks", n)
}

func (h *handler) OnData(buf []byte) {
	chunk := make([]byte, len(buf))
	copy(chunk, buf)
	if h.q.Offer(chunk) {
		return
	}
	if d := h.q.Dropped(); d == 1 || d%dropLogEvery == 0 {
		h.r.log.Warn("queue full, dropping chunk", "dropped", d, "capacity", h.q.Cap())
	}
}
