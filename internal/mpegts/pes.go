package mpegts

import "log/slog"

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// parsePTS extracts the 33-bit timestamp from 5 PES timestamp bytes. The
// marker bits are ignored.
func parsePTS(bs []byte) int64 {
	return int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
}

// TicksToMicros converts a 90 kHz tick count to microseconds, truncating.
func TicksToMicros(ticks int64) int64 {
	return ticks * 1_000_000 / 90_000
}

// pesStream is the accumulation state of one elementary stream.
type pesStream struct {
	buf []byte
	pts int64
}

// Assembler reassembles PES packets for the video and audio streams from
// successive TS payloads. A payload_unit_start packet completes the PES
// accumulated so far. The latched PTS carries over to PES packets whose
// header has none; it reads 0 until the first PTS arrives.
type Assembler struct {
	log     *slog.Logger
	streams [2]pesStream
}

// NewAssembler creates an Assembler. If log is nil, slog.Default() is used.
func NewAssembler(log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{log: log.With("component", "pes")}
}

// Add appends the payload of p to the accumulation for kind. When p starts a
// new payload unit, any buffered bytes are first passed to onComplete with
// the latched PTS in microseconds. onComplete owns the slice it is given.
func (a *Assembler) Add(p *Packet, kind StreamKind, onComplete func(data []byte, pts int64)) {
	st := &a.streams[kind]
	payload := p.Payload

	if !p.Header.PayloadUnitStartIndicator {
		st.buf = append(st.buf, payload...)
		return
	}

	if len(st.buf) > 0 {
		data := st.buf
		st.buf = nil
		onComplete(data, st.pts)
	}

	if !isPESPayload(payload) {
		a.log.Debug("payload unit start without PES start code", "stream", kind, "len", len(payload))
		st.buf = append(st.buf, payload...)
		return
	}

	// [0-2] start code, [3] stream_id, [4-5] PES_packet_length,
	// [6-7] flags, [8] PES_header_data_length, [9..] optional fields.
	if len(payload) < 9 {
		a.log.Debug("truncated PES header", "stream", kind, "len", len(payload))
		return
	}
	ptsDTSFlags := payload[7] >> 6
	headerDataLength := int(payload[8])

	if ptsDTSFlags >= 2 && len(payload) >= 14 {
		st.pts = TicksToMicros(parsePTS(payload[9:14]))
	}

	if offset := 9 + headerDataLength; offset < len(payload) {
		st.buf = append(st.buf, payload[offset:]...)
	}
}

// Reset discards partially accumulated PES data for both streams. Latched
// PTS values are kept.
func (a *Assembler) Reset() {
	for i := range a.streams {
		a.streams[i].buf = nil
	}
}

// Buffered returns the number of bytes accumulated for kind.
func (a *Assembler) Buffered(kind StreamKind) int {
	return len(a.streams[kind].buf)
}
