package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/srtrecv/internal/demux"
	"github.com/zsiec/srtrecv/internal/ingest"
	"github.com/zsiec/srtrecv/internal/media"
	"github.com/zsiec/srtrecv/internal/mpegts"
)

// worker owns all parsing state for one Start/Stop cycle. Everything except
// the atomics is touched only by the run goroutine.
type worker struct {
	log   *slog.Logger
	queue *ingest.Queue
	poll  time.Duration

	demuxer *mpegts.Demuxer
	h264    *demux.H264Parser
	aac     *demux.AACParser

	video           VideoSink
	audio           AudioSink
	videoConfigured bool
	audioFormat     media.AudioInfo // zero until configured
	unframedLogged  [2]bool

	resetPending atomic.Bool
	videoInfo    atomic.Pointer[media.VideoInfo]
	audioInfo    atomic.Pointer[media.AudioInfo]

	chunks      atomic.Int64
	videoNALs   atomic.Int64
	nalsDropped atomic.Int64
	audioFrames atomic.Int64
	unframedPES atomic.Int64
	sinkErrors  atomic.Int64
	panics      atomic.Int64
}

func newWorker(log *slog.Logger, q *ingest.Queue, poll time.Duration, video VideoSink, audio AudioSink) *worker {
	w := &worker{
		log:   log.With("component", "worker"),
		queue: q,
		poll:  poll,
		video: video,
		audio: audio,
	}
	w.demuxer = mpegts.NewDemuxer(w, log)
	w.h264 = demux.NewH264Parser(log, w.onVideoConfig, w.onNAL)
	w.aac = demux.NewAACParser(log, w.onAudioFrame)
	return w
}

// run pops chunks until ctx is cancelled. A pending reset is applied before
// the next chunk is demuxed so data from a new connection never completes a
// PES left over from the previous one.
func (w *worker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		chunk, ok := w.queue.Poll(ctx, w.poll)
		if w.resetPending.Swap(false) {
			w.demuxer.ResetBuffers()
			w.log.Debug("discarded partial PES data")
		}
		if ok {
			w.process(chunk)
		}
	}
}

func (w *worker) process(chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.log.Error("panic while demuxing chunk", "panic", r, "len", len(chunk))
		}
	}()
	w.chunks.Add(1)
	w.demuxer.Process(chunk)
}

// HandlePES routes a completed PES to the framer for its stream type.
func (w *worker) HandlePES(kind mpegts.StreamKind, streamType uint8, data []byte, pts int64) {
	switch {
	case kind == mpegts.KindVideo && streamType == mpegts.StreamTypeH264:
		w.h264.Parse(data, pts)
	case kind == mpegts.KindAudio && streamType == mpegts.StreamTypeAAC:
		w.aac.Parse(data, pts)
	default:
		w.unframedPES.Add(1)
		if !w.unframedLogged[kind] {
			w.unframedLogged[kind] = true
			w.log.Info("stream type recognized, not framed", "stream", kind, "streamType", streamType)
		}
	}
}

func (w *worker) onVideoConfig(sps, pps [][]byte) {
	if info, err := demux.ParseSPS(sps[len(sps)-1]); err == nil {
		vi := info.VideoInfo()
		w.videoInfo.Store(&vi)
		w.log.Info("video format", "resolution", fmt.Sprintf("%dx%d", vi.Width, vi.Height), "codec", vi.Codec)
	} else {
		w.log.Debug("SPS not parsed", "error", err)
	}

	if w.video == nil {
		return
	}
	if err := w.call("video configure", func() error { return w.video.Configure(sps, pps) }); err != nil {
		w.log.Error("video sink configure failed", "error", err)
		return
	}
	w.videoConfigured = true
}

func (w *worker) onNAL(nal []byte, nalType byte, pts int64) {
	if w.video == nil || !w.videoConfigured || !w.h264.HasSPSAndPPS() {
		w.nalsDropped.Add(1)
		return
	}
	if err := w.call("video decode", func() error { return w.video.Decode(nal, pts) }); err != nil {
		w.log.Warn("video decode failed", "nalType", nalType, "pts", pts, "error", err)
		return
	}
	w.videoNALs.Add(1)
}

func (w *worker) onAudioFrame(f media.AudioFrame) {
	format := media.AudioInfo{SampleRate: f.SampleRate, ChannelConfig: f.ChannelConfig}
	if cur := w.audioInfo.Load(); cur == nil || *cur != format {
		w.audioInfo.Store(&format)
		w.log.Info("audio format", "sampleRate", f.SampleRate, "channels", f.ChannelConfig)
	}

	if w.audio == nil {
		return
	}
	if w.audioFormat != format {
		if err := w.call("audio configure", func() error { return w.audio.Configure(f.SampleRate, f.ChannelConfig) }); err != nil {
			w.log.Error("audio sink configure failed", "error", err)
			return
		}
		w.audioFormat = format
	}
	if err := w.call("audio decode", func() error { return w.audio.Decode(f.Data, f.PTS) }); err != nil {
		w.log.Warn("audio decode failed", "pts", f.PTS, "error", err)
		return
	}
	w.audioFrames.Add(1)
}

// call invokes a sink method, converting a panic into an error. Every
// failure is counted.
func (w *worker) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
		if err != nil {
			w.sinkErrors.Add(1)
		}
	}()
	return fn()
}

// stopSinks stops both sinks, recovering from panics.
func (w *worker) stopSinks() {
	if w.video != nil {
		_ = w.call("video stop", func() error { w.video.Stop(); return nil })
	}
	if w.audio != nil {
		_ = w.call("audio stop", func() error { w.audio.Stop(); return nil })
	}
}
