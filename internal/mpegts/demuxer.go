package mpegts

import (
	"log/slog"
	"sync/atomic"
)

// PIDState is the PID routing table discovered from PAT/PMT. A zero PID with
// its Has flag unset means the PID has not been discovered yet.
type PIDState struct {
	PMT, Video, Audio          uint16
	HasPMT, HasVideo, HasAudio bool
	VideoType, AudioType       uint8
}

// Stats holds demuxer counters. It is safe to read from any goroutine.
type Stats struct {
	Packets       int64 `json:"packets"`
	SyncErrors    int64 `json:"syncErrors"`
	CRCErrors     int64 `json:"crcErrors"`
	VideoPES      int64 `json:"videoPes"`
	AudioPES      int64 `json:"audioPes"`
	TrailingBytes int64 `json:"trailingBytes"`
}

// Demuxer parses whole TS packets out of byte chunks, follows PAT/PMT to
// discover the video and audio PIDs, and feeds their payloads through an
// Assembler. Completed PES packets go to the PESHandler.
//
// The PID table persists for the lifetime of the Demuxer; ResetBuffers only
// drops partial PES data. A Demuxer is not safe for concurrent use apart from
// PIDs and Stats.
type Demuxer struct {
	log     *slog.Logger
	handler PESHandler
	pes     *Assembler

	pids atomic.Pointer[PIDState]
	pid  PIDState

	packets       atomic.Int64
	syncErrors    atomic.Int64
	crcErrors     atomic.Int64
	videoPES      atomic.Int64
	audioPES      atomic.Int64
	trailingBytes atomic.Int64
}

// NewDemuxer creates a Demuxer delivering PES packets to h. If log is nil,
// slog.Default() is used.
func NewDemuxer(h PESHandler, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:     log.With("component", "demux"),
		handler: h,
		pes:     NewAssembler(log),
	}
	d.pids.Store(&PIDState{})
	return d
}

// Process demuxes every complete 188-byte packet in data. Packets are not
// resynchronized: one with a bad sync byte is dropped and parsing continues
// at the next 188-byte boundary. Trailing bytes that do not form a whole
// packet are ignored and not carried over to the next call.
func (d *Demuxer) Process(data []byte) {
	offset := 0
	for ; offset+packetSize <= len(data); offset += packetSize {
		d.packets.Add(1)
		pkt, err := parsePacket(data[offset : offset+packetSize])
		if err != nil {
			d.syncErrors.Add(1)
			d.log.Warn("dropping TS packet", "offset", offset, "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		d.route(pkt)
	}

	if rest := len(data) - offset; rest > 0 {
		d.trailingBytes.Add(int64(rest))
		d.log.Debug("ignoring partial TS packet", "bytes", rest)
	}
}

func (d *Demuxer) route(pkt *Packet) {
	pid := pkt.Header.PID
	switch {
	case pid == pidPAT:
		if pkt.Header.PayloadUnitStartIndicator {
			d.handlePAT(pkt.Payload)
		}
	case d.pid.HasPMT && pid == d.pid.PMT:
		if pkt.Header.PayloadUnitStartIndicator {
			d.handlePMT(pkt.Payload)
		}
	case d.pid.HasVideo && pid == d.pid.Video:
		d.pes.Add(pkt, KindVideo, d.emitVideo)
	case d.pid.HasAudio && pid == d.pid.Audio:
		d.pes.Add(pkt, KindAudio, d.emitAudio)
	}
}

func (d *Demuxer) handlePAT(payload []byte) {
	d.checkCRC(payload, "PAT")
	pmtPID, ok := ParsePAT(payload)
	if !ok || (d.pid.HasPMT && pmtPID == d.pid.PMT) {
		return
	}
	d.pid.PMT, d.pid.HasPMT = pmtPID, true
	d.publish()
	d.log.Info("PMT PID updated", "pid", pmtPID)
}

func (d *Demuxer) handlePMT(payload []byte) {
	d.checkCRC(payload, "PMT")
	pmt := ParsePMT(payload)
	if pmt == nil {
		return
	}

	changed := false
	if v := pmt.Video; v != nil && (!d.pid.HasVideo || v.PID != d.pid.Video || v.StreamType != d.pid.VideoType) {
		d.pid.Video, d.pid.VideoType, d.pid.HasVideo = v.PID, v.StreamType, true
		d.log.Info("video PID updated", "pid", v.PID, "streamType", v.StreamType)
		changed = true
	}
	if a := pmt.Audio; a != nil && (!d.pid.HasAudio || a.PID != d.pid.Audio || a.StreamType != d.pid.AudioType) {
		d.pid.Audio, d.pid.AudioType, d.pid.HasAudio = a.PID, a.StreamType, true
		d.log.Info("audio PID updated", "pid", a.PID, "streamType", a.StreamType)
		changed = true
	}
	if changed {
		d.publish()
	}
}

// checkCRC verifies the section CRC for diagnostics only; a mismatch does
// not stop the section from being parsed.
func (d *Demuxer) checkCRC(payload []byte, table string) {
	s, ok := section(payload)
	if !ok {
		return
	}
	if err := verifyCRC32(s); err != nil {
		d.crcErrors.Add(1)
		d.log.Debug("PSI section CRC mismatch", "table", table)
	}
}

func (d *Demuxer) emitVideo(data []byte, pts int64) {
	d.videoPES.Add(1)
	d.handler.HandlePES(KindVideo, d.pid.VideoType, data, pts)
}

func (d *Demuxer) emitAudio(data []byte, pts int64) {
	d.audioPES.Add(1)
	d.handler.HandlePES(KindAudio, d.pid.AudioType, data, pts)
}

func (d *Demuxer) publish() {
	snap := d.pid
	d.pids.Store(&snap)
}

// ResetBuffers drops partially assembled PES data. The PID table and the
// latched PTS values are kept.
func (d *Demuxer) ResetBuffers() {
	d.pes.Reset()
}

// PIDs returns a snapshot of the PID routing table.
func (d *Demuxer) PIDs() PIDState {
	return *d.pids.Load()
}

// Stats returns a snapshot of the demuxer counters.
func (d *Demuxer) Stats() Stats {
	return Stats{
		Packets:       d.packets.Load(),
		SyncErrors:    d.syncErrors.Load(),
		CRCErrors:     d.crcErrors.Load(),
		VideoPES:      d.videoPES.Load(),
		AudioPES:      d.audioPES.Load(),
		TrailingBytes: d.trailingBytes.Load(),
	}
}
