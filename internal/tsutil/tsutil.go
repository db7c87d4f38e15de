// Package tsutil writes the MPEG-TS, PES, PSI and ADTS structures the
// receiver parses. It backs the push tool's synthetic stream and the test
// fixtures; it is not a general-purpose muxer.
package tsutil

import (
	"github.com/q191201771/naza/pkg/bele"

	"github.com/zsiec/srtrecv/internal/demux"
	"github.com/zsiec/srtrecv/internal/mpegts"
)

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = mpegts.PacketSize

// Stream describes one elementary stream entry of a PMT.
type Stream struct {
	StreamType uint8
	PID        uint16
}

// BuildPAT returns a PAT section (no pointer field) mapping programNumber to
// pmtPID, with a valid CRC32.
func BuildPAT(programNumber, pmtPID uint16) []byte {
	const sectionLength = 5 + 4 + 4 // fixed fields + one program + CRC

	data := make([]byte, 3+sectionLength)
	data[0] = 0x00                                // table_id
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F // section_syntax_indicator=1
	data[2] = byte(sectionLength)
	bele.BePutUint16(data[3:], 1) // transport_stream_id
	data[5] = 0xC1                // reserved(2) + version(0) + current_next(1)
	data[6] = 0x00                // section_number
	data[7] = 0x00                // last_section_number
	bele.BePutUint16(data[8:], programNumber)
	bele.BePutUint16(data[10:], 0xE000|pmtPID&0x1FFF)

	bele.BePutUint32(data[12:], mpegts.CRC32(data[:12]))
	return data
}

// BuildPMT returns a PMT section (no pointer field) for programNumber listing
// streams in order, with a valid CRC32.
func BuildPMT(programNumber, pcrPID uint16, streams []Stream) []byte {
	sectionLength := 9 + 5*len(streams) + 4

	data := make([]byte, 3+sectionLength)
	data[0] = 0x02
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	bele.BePutUint16(data[3:], programNumber)
	data[5] = 0xC1
	data[6] = 0x00
	data[7] = 0x00
	bele.BePutUint16(data[8:], 0xE000|pcrPID&0x1FFF)
	bele.BePutUint16(data[10:], 0xF000) // program_info_length = 0

	offset := 12
	for _, s := range streams {
		data[offset] = s.StreamType
		bele.BePutUint16(data[offset+1:], 0xE000|s.PID&0x1FFF)
		bele.BePutUint16(data[offset+3:], 0xF000) // ES_info_length = 0
		offset += 5
	}

	bele.BePutUint32(data[offset:], mpegts.CRC32(data[:offset]))
	return data
}

// PSIPacket wraps a section that fits in one packet into a TS packet with a
// zero pointer field, padding the rest with 0xFF.
func PSIPacket(pid uint16, section []byte, cc *byte) []byte {
	pkt := make([]byte, TSPacketSize)
	pkt[0] = 0x47
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (*cc & 0x0F)
	*cc = (*cc + 1) & 0x0F
	pkt[4] = 0x00 // pointer_field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < TSPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// EncodePTS encodes a 33-bit 90 kHz timestamp into the 5-byte PES field with
// the '0010' prefix used when only a PTS is present.
func EncodePTS(ticks int64) []byte {
	bs := make([]byte, 5)
	bs[0] = 0x20 | byte((ticks>>29)&0x0E) | 0x01
	bs[1] = byte(ticks >> 22)
	bs[2] = byte((ticks>>14)&0xFE) | 0x01
	bs[3] = byte(ticks >> 7)
	bs[4] = byte((ticks<<1)&0xFE) | 0x01
	return bs
}

// BuildPES returns a PES packet for streamID carrying es. A negative pts
// omits the PTS field. Video PES use an unbounded (zero) packet length.
func BuildPES(streamID byte, pts int64, es []byte) []byte {
	var opt []byte
	flags := byte(0)
	if pts >= 0 {
		opt = EncodePTS(pts)
		flags = 0x80
	}

	packetLength := 3 + len(opt) + len(es)
	if streamID&0xF0 == 0xE0 || packetLength > 0xFFFF {
		packetLength = 0
	}

	buf := make([]byte, 0, 9+len(opt)+len(es))
	buf = append(buf, 0x00, 0x00, 0x01, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80, flags, byte(len(opt)))
	buf = append(buf, opt...)
	return append(buf, es...)
}

// Packetize splits pesData into 188-byte TS packets on pid, incrementing the
// continuity counter cc between packets. The last packet is padded with
// adaptation-field stuffing so payloads carry exactly pesData.
func Packetize(pesData []byte, pid uint16, cc *byte) []byte {
	var result []byte
	offset := 0
	first := true

	for offset < len(pesData) {
		var pkt [TSPacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		remaining := len(pesData) - offset
		capacity := TSPacketSize - 4

		if remaining < capacity {
			stuffLen := capacity - remaining
			pkt[3] |= 0x20
			pkt[4] = byte(stuffLen - 1)
			for i := 6; i < 4+stuffLen; i++ {
				pkt[i] = 0xFF
			}
			copy(pkt[4+stuffLen:], pesData[offset:])
			offset = len(pesData)
		} else {
			copy(pkt[4:], pesData[offset:offset+capacity])
			offset += capacity
		}

		result = append(result, pkt[:]...)
	}

	return result
}

// BuildADTSFrame returns an ADTS frame (AAC-LC, no CRC) wrapping payload.
func BuildADTSFrame(sampleRateIndex, channelConfig uint8, payload []byte) []byte {
	h := demux.ADTSHeader{
		ProtectionAbsent: true,
		Profile:          1,
		SampleRateIndex:  sampleRateIndex,
		ChannelConfig:    channelConfig,
		FrameLength:      7 + len(payload),
	}
	return append(h.AppendTo(make([]byte, 0, h.FrameLength)), payload...)
}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}
