package demux

import (
	"bytes"
	"log/slog"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit is one H.264 NAL unit split out of an Annex-B byte stream.
type NALUnit struct {
	Type byte   // low 5 bits of the NAL header byte
	Data []byte // NAL header and payload, without start code
}

// ParseAnnexB splits an Annex-B byte stream into NAL units. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized; a zero byte
// immediately before a 3-byte start code belongs to the start code, not to
// the preceding NAL unit. The returned Data slices alias data.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// IsKeyframe reports whether nalType is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// H264Parser splits H.264 PES payloads into NAL units and keeps the SPS and
// PPS seen so far. Parameter sets are deduplicated by content and never
// evicted.
//
// onConfig is called with snapshots of every cached SPS and PPS each time a
// new parameter set is added while both caches are non-empty. onNAL receives
// every other NAL unit, slices included, whether or not parameter sets have
// arrived yet; callers gate decoding on HasSPSAndPPS.
type H264Parser struct {
	log      *slog.Logger
	onConfig func(sps, pps [][]byte)
	onNAL    func(nal []byte, nalType byte, pts int64)

	sps [][]byte
	pps [][]byte
}

// NewH264Parser creates a parser. Either callback may be nil. If log is nil,
// slog.Default() is used.
func NewH264Parser(log *slog.Logger, onConfig func(sps, pps [][]byte), onNAL func(nal []byte, nalType byte, pts int64)) *H264Parser {
	if log == nil {
		log = slog.Default()
	}
	return &H264Parser{
		log:      log.With("component", "h264"),
		onConfig: onConfig,
		onNAL:    onNAL,
	}
}

// Parse splits one PES payload and dispatches its NAL units in stream order.
// pts is the PES timestamp in microseconds.
func (p *H264Parser) Parse(data []byte, pts int64) {
	for _, nal := range ParseAnnexB(data) {
		var added bool
		switch nal.Type {
		case NALTypeSPS:
			p.sps, added = addParamSet(p.sps, nal.Data)
		case NALTypePPS:
			p.pps, added = addParamSet(p.pps, nal.Data)
		default:
			if p.onNAL != nil {
				p.onNAL(nal.Data, nal.Type, pts)
			}
			continue
		}

		if !added || !p.HasSPSAndPPS() {
			continue
		}
		p.log.Info("H.264 parameter sets ready", "sps", len(p.sps), "pps", len(p.pps))
		if p.onConfig != nil {
			p.onConfig(p.SPS(), p.PPS())
		}
	}
}

// addParamSet appends a copy of nal to list unless an identical entry is
// already present.
func addParamSet(list [][]byte, nal []byte) ([][]byte, bool) {
	for _, have := range list {
		if bytes.Equal(have, nal) {
			return list, false
		}
	}
	return append(list, bytes.Clone(nal)), true
}

// HasSPSAndPPS reports whether at least one SPS and one PPS have been seen.
func (p *H264Parser) HasSPSAndPPS() bool {
	return len(p.sps) > 0 && len(p.pps) > 0
}

// SPS returns a snapshot of the cached sequence parameter sets in arrival
// order.
func (p *H264Parser) SPS() [][]byte {
	return snapshot(p.sps)
}

// PPS returns a snapshot of the cached picture parameter sets in arrival
// order.
func (p *H264Parser) PPS() [][]byte {
	return snapshot(p.pps)
}

func snapshot(list [][]byte) [][]byte {
	out := make([][]byte, len(list))
	for i, b := range list {
		out[i] = bytes.Clone(b)
	}
	return out
}
