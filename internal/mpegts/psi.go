package mpegts

import "github.com/q191201771/naza/pkg/bele"

const (
	pidPAT     = 0x0000
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// sectionStart skips the pointer field that precedes a PSI section in the
// first TS payload of the section.
func sectionStart(payload []byte) (int, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	start := 1 + int(payload[0])
	if start >= len(payload) {
		return 0, false
	}
	return start, true
}

// section returns the complete section (header through CRC32) that starts
// in payload, or false when it is truncated.
func section(payload []byte) ([]byte, bool) {
	start, ok := sectionStart(payload)
	if !ok || start+3 > len(payload) {
		return nil, false
	}
	s := payload[start:]
	sectionLength := int(bele.BeUint16(s[1:]) & 0x0FFF)
	if 3+sectionLength > len(s) {
		return nil, false
	}
	return s[:3+sectionLength], true
}

// ParsePAT returns the PMT PID of the first non-zero program listed in a
// Program Association Table. payload is the TS payload of a packet with
// payload_unit_start set, beginning with the pointer field. It reports
// false for anything that is not a well-formed PAT.
func ParsePAT(payload []byte) (uint16, bool) {
	start, ok := sectionStart(payload)
	if !ok {
		return 0, false
	}

	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..]  program entries (4 bytes each), then CRC32
	s := payload[start:]
	if len(s) < 4 || s[0] != tableIDPAT || s[1]&0x80 == 0 {
		return 0, false
	}
	sectionLength := int(bele.BeUint16(s[1:]) & 0x0FFF)

	programs := (sectionLength - 9) / 4
	for i, off := 0, 8; i < programs && off+4 <= len(s); i, off = i+1, off+4 {
		programNumber := bele.BeUint16(s[off:])
		if programNumber == 0 {
			continue // network PID
		}
		return bele.BeUint16(s[off+2:]) & 0x1FFF, true
	}
	return 0, false
}

// ParsePMT extracts the elementary streams of a Program Map Table. payload
// is the TS payload beginning with the pointer field. H.264 and H.265 entries
// are classified as video, AAC and MPEG audio entries as audio. ParsePMT
// returns nil for anything that is not a well-formed PMT.
func ParsePMT(payload []byte) *PMTData {
	start, ok := sectionStart(payload)
	if !ok {
		return nil
	}

	// [0]     table_id
	// [1-2]   section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]   program_number
	// [5]     reserved(2) + version(5) + current_next(1)
	// [6]     section_number
	// [7]     last_section_number
	// [8-9]   reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...]   program descriptors, elementary stream entries, CRC32
	s := payload[start:]
	if len(s) < 12 || s[0] != tableIDPMT || s[1]&0x80 == 0 {
		return nil
	}
	sectionLength := int(bele.BeUint16(s[1:]) & 0x0FFF)
	sectionEnd := 3 + sectionLength - 4

	pmt := &PMTData{PCRPID: bele.BeUint16(s[8:]) & 0x1FFF}
	offset := 12 + int(bele.BeUint16(s[10:])&0x0FFF)

	for offset+5 <= len(s) && offset < sectionEnd {
		si := StreamInfo{
			StreamType: s[offset],
			PID:        bele.BeUint16(s[offset+1:]) & 0x1FFF,
		}
		esInfoLength := int(bele.BeUint16(s[offset+3:]) & 0x0FFF)
		offset += 5 + esInfoLength

		pmt.Streams = append(pmt.Streams, si)
		switch si.StreamType {
		case StreamTypeH264, StreamTypeH265:
			v := si
			pmt.Video = &v
		case StreamTypeAAC, StreamTypeMPEGAudio:
			a := si
			pmt.Audio = &a
		}
	}

	return pmt
}
