// Package sink provides decoder sinks that write the receiver's output to
// elementary stream files, plus a caption tap for the video path.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var startCode = []byte{0, 0, 0, 1}

// AnnexBWriter is a video sink that writes an H.264 Annex-B elementary
// stream. Parameter sets from the first Configure are written once; later
// Configure calls are ignored, matching a decoder that is configured a
// single time per session.
type AnnexBWriter struct {
	log *slog.Logger

	mu         sync.Mutex
	dst        io.Writer
	bw         *bufio.Writer
	configured bool
	nals       int64
}

// NewAnnexBWriter writes to w. If w is an io.Closer it is closed by Stop.
func NewAnnexBWriter(w io.Writer, log *slog.Logger) *AnnexBWriter {
	if log == nil {
		log = slog.Default()
	}
	return &AnnexBWriter{
		log: log.With("component", "annexb-writer"),
		dst: w,
		bw:  bufio.NewWriter(w),
	}
}

// Configure writes every SPS followed by every PPS on the first call.
func (a *AnnexBWriter) Configure(sps, pps [][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.configured {
		a.log.Debug("ignoring reconfigure", "sps", len(sps), "pps", len(pps))
		return nil
	}
	for _, set := range [][][]byte{sps, pps} {
		for _, nal := range set {
			if err := a.writeNAL(nal); err != nil {
				return fmt.Errorf("writing parameter set: %w", err)
			}
		}
	}
	a.configured = true
	return nil
}

// Decode writes nal behind a 4-byte start code.
func (a *AnnexBWriter) Decode(nal []byte, _ int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.writeNAL(nal); err != nil {
		return fmt.Errorf("writing NAL unit: %w", err)
	}
	a.nals++
	return nil
}

func (a *AnnexBWriter) writeNAL(nal []byte) error {
	if _, err := a.bw.Write(startCode); err != nil {
		return err
	}
	_, err := a.bw.Write(nal)
	return err
}

// Stop flushes buffered output and closes the destination if it is closable.
func (a *AnnexBWriter) Stop() {
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
	a.log.Debug("video writer stopped", "nals", a.nals)
}
