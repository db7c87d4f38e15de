package sink

import (
	"log/slog"

	"github.com/zsiec/ccx"

	"github.com/zsiec/srtrecv/internal/demux"
	"github.com/zsiec/srtrecv/internal/pipeline"
)

// CaptionTap is a video sink that decodes CEA-608 captions carried in SEI
// NAL units and passes every NAL unit on to the next sink unchanged.
type CaptionTap struct {
	log       *slog.Logger
	next      pipeline.VideoSink
	onCaption func(*ccx.CaptionFrame)

	decoders map[int]*ccx.CEA608Decoder

	// CEA-608 transmits control codes twice; the repeat is dropped.
	lastCtrl    [2][2]byte
	lastWasCtrl [2]bool
	captions    int64
}

// NewCaptionTap wraps next, which may be nil. onCaption receives each
// caption update.
func NewCaptionTap(next pipeline.VideoSink, onCaption func(*ccx.CaptionFrame), log *slog.Logger) *CaptionTap {
	if log == nil {
		log = slog.Default()
	}
	return &CaptionTap{
		log:       log.With("component", "captions"),
		next:      next,
		onCaption: onCaption,
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

// Configure forwards to the wrapped sink.
func (c *CaptionTap) Configure(sps, pps [][]byte) error {
	if c.next == nil {
		return nil
	}
	return c.next.Configure(sps, pps)
}

// Decode inspects SEI NAL units for captions and forwards nal.
func (c *CaptionTap) Decode(nal []byte, pts int64) error {
	if len(nal) > 2 && nal[0]&0x1F == demux.NALTypeSEI {
		c.extract(nal, pts)
	}
	if c.next == nil {
		return nil
	}
	return c.next.Decode(nal, pts)
}

func (c *CaptionTap) extract(sei []byte, pts int64) {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return
	}
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field & 1
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if c.lastWasCtrl[f] && c.lastCtrl[f] == cp {
				c.lastWasCtrl[f] = false
				continue
			}
			c.lastCtrl[f], c.lastWasCtrl[f] = cp, true
		} else {
			c.lastWasCtrl[f] = false
		}

		dec := c.decoders[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			c.captions++
			c.log.Debug("caption", "channel", pair.Channel, "pts", pts, "text", text)
			if c.onCaption != nil {
				c.onCaption(&ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel})
			}
		}
	}
}

// Captions returns the number of caption updates decoded.
func (c *CaptionTap) Captions() int64 { return c.captions }

// Stop stops the wrapped sink.
func (c *CaptionTap) Stop() {
	if c.next != nil {
		c.next.Stop()
	}
}
