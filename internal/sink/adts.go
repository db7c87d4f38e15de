package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/srtrecv/internal/demux"
)

// profileLC is the ADTS profile field for AAC-LC (object type 2).
const profileLC = 1

const maxADTSFrameLength = 1<<13 - 1

var (
	// ErrNotConfigured is returned by ADTSWriter.Decode before Configure.
	ErrNotConfigured = errors.New("sink: audio writer not configured")
	// ErrSampleRate is returned for sample rates ADTS cannot signal.
	ErrSampleRate = errors.New("sink: unsupported sample rate")
)

// ADTSWriter is an audio sink that writes raw AAC frames as an ADTS stream,
// rebuilding a 7-byte header for each frame. AudioSink.Configure carries no
// object type, so every header signals AAC-LC; HE-AAC or Main input is
// written with an LC header.
type ADTSWriter struct {
	log *slog.Logger

	mu     sync.Mutex
	dst    io.Writer
	bw     *bufio.Writer
	header demux.ADTSHeader
	ready  bool
	hdrBuf []byte
	frames int64
}

// NewADTSWriter writes to w. If w is an io.Closer it is closed by Stop.
func NewADTSWriter(w io.Writer, log *slog.Logger) *ADTSWriter {
	if log == nil {
		log = slog.Default()
	}
	return &ADTSWriter{
		log:    log.With("component", "adts-writer"),
		dst:    w,
		bw:     bufio.NewWriter(w),
		hdrBuf: make([]byte, 0, 7),
	}
}

// Configure sets the sample rate and channel configuration signalled in
// subsequent headers.
func (a *ADTSWriter) Configure(sampleRate, channelConfig int) error {
	idx, ok := demux.SampleRateIndex(sampleRate)
	if !ok {
		return fmt.Errorf("%w: %d Hz", ErrSampleRate, sampleRate)
	}
	if channelConfig < 0 || channelConfig > 7 {
		return fmt.Errorf("sink: invalid channel configuration %d", channelConfig)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.header = demux.ADTSHeader{
		ProtectionAbsent: true,
		Profile:          profileLC,
		SampleRateIndex:  idx,
		ChannelConfig:    uint8(channelConfig),
	}
	a.ready = true
	return nil
}

// Decode writes frame behind a freshly built ADTS header.
func (a *ADTSWriter) Decode(frame []byte, _ int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return ErrNotConfigured
	}

	h := a.header
	h.FrameLength = h.Size() + len(frame)
	if h.FrameLength > maxADTSFrameLength {
		return fmt.Errorf("sink: AAC frame of %d bytes too large for ADTS", len(frame))
	}
	a.hdrBuf = h.AppendTo(a.hdrBuf[:0])
	if _, err := a.bw.Write(a.hdrBuf); err != nil {
		return fmt.Errorf("writing ADTS header: %w", err)
	}
	if _, err := a.bw.Write(frame); err != nil {
		return fmt.Errorf("writing AAC frame: %w", err)
	}
	a.frames++
	return nil
}

// Stop flushes buffered output and closes the destination if it is closable.
func (a *ADTSWriter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bw.Flush(); err != nil {
		a.log.Warn("flush failed", "error", err)
	}
	if c, ok := a.dst.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.log.Debug("audio writer stopped", "frames", a.frames)
}
