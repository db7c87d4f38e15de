package mpegts

import (
	"encoding/binary"
	"testing"
)

type esEntry struct {
	streamType uint8
	pid        uint16
}

// buildPAT constructs a PAT section with CRC32, prefixed by a zero pointer
// field.
func buildPAT(tsID uint16, programs []struct{ num, pid uint16 }) []byte {
	sectionLength := 5 + 4*len(programs) + 4

	data := make([]byte, 1+3+sectionLength)
	s := data[1:]
	s[0] = tableIDPAT
	s[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	s[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(s[3:], tsID)
	s[5] = 0xC1

	offset := 8
	for _, p := range programs {
		binary.BigEndian.PutUint16(s[offset:], p.num)
		binary.BigEndian.PutUint16(s[offset+2:], 0xE000|p.pid&0x1FFF)
		offset += 4
	}
	binary.BigEndian.PutUint32(s[offset:], CRC32(s[:offset]))
	return data
}

// buildPMT constructs a PMT section with CRC32, prefixed by a zero pointer
// field.
func buildPMT(programNum, pcrPID uint16, streams []esEntry) []byte {
	sectionLength := 9 + 5*len(streams) + 4

	data := make([]byte, 1+3+sectionLength)
	s := data[1:]
	s[0] = tableIDPMT
	s[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	s[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(s[3:], programNum)
	s[5] = 0xC1
	binary.BigEndian.PutUint16(s[8:], 0xE000|pcrPID&0x1FFF)
	binary.BigEndian.PutUint16(s[10:], 0xF000)

	offset := 12
	for _, e := range streams {
		s[offset] = e.streamType
		binary.BigEndian.PutUint16(s[offset+1:], 0xE000|e.pid&0x1FFF)
		binary.BigEndian.PutUint16(s[offset+3:], 0xF000)
		offset += 5
	}
	binary.BigEndian.PutUint32(s[offset:], CRC32(s[:offset]))
	return data
}

func TestParsePAT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		programs []struct{ num, pid uint16 }
		wantPID  uint16
		wantOK   bool
	}{
		{"single_program", []struct{ num, pid uint16 }{{1, 0x100}}, 0x100, true},
		{"network_pid_skipped", []struct{ num, pid uint16 }{{0, 0x10}, {1, 0x1000}}, 0x1000, true},
		{"first_program_wins", []struct{ num, pid uint16 }{{2, 0x200}, {1, 0x100}}, 0x200, true},
		{"network_only", []struct{ num, pid uint16 }{{0, 0x10}}, 0, false},
		{"no_programs", nil, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pid, ok := ParsePAT(buildPAT(1, tc.programs))
			if ok != tc.wantOK || pid != tc.wantPID {
				t.Errorf("ParsePAT = (0x%X, %v), want (0x%X, %v)", pid, ok, tc.wantPID, tc.wantOK)
			}
		})
	}
}

func TestParsePATRejects(t *testing.T) {
	t.Parallel()
	valid := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x100}})

	wrongTable := append([]byte(nil), valid...)
	wrongTable[1] = tableIDPMT

	noSyntax := append([]byte(nil), valid...)
	noSyntax[2] &^= 0x80

	pointerPastEnd := append([]byte(nil), valid...)
	pointerPastEnd[0] = 0xF0

	for name, in := range map[string][]byte{
		"empty":            nil,
		"pointer_only":     {0x00},
		"short":            {0x00, 0x00, 0xB0},
		"wrong_table_id":   wrongTable,
		"no_syntax_bit":    noSyntax,
		"pointer_past_end": pointerPastEnd,
	} {
		if pid, ok := ParsePAT(in); ok {
			t.Errorf("%s: ParsePAT = 0x%X, want failure", name, pid)
		}
	}
}

func TestParsePATPointerField(t *testing.T) {
	t.Parallel()
	pat := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x100}})
	shifted := append([]byte{0x03, 0xAA, 0xBB, 0xCC}, pat[1:]...)
	if pid, ok := ParsePAT(shifted); !ok || pid != 0x100 {
		t.Errorf("ParsePAT = (0x%X, %v), want (0x100, true)", pid, ok)
	}
}

func TestParsePMT(t *testing.T) {
	t.Parallel()
	pmt := ParsePMT(buildPMT(1, 0x101, []esEntry{
		{StreamTypeH264, 0x101},
		{StreamTypeAAC, 0x102},
	}))
	if pmt == nil {
		t.Fatal("ParsePMT returned nil")
	}
	if pmt.Video == nil || pmt.Video.PID != 0x101 {
		t.Errorf("video = %+v, want PID 0x101", pmt.Video)
	}
	if pmt.Audio == nil || pmt.Audio.PID != 0x102 {
		t.Errorf("audio = %+v, want PID 0x102", pmt.Audio)
	}
	if pmt.PCRPID != 0x101 {
		t.Errorf("PCR PID = 0x%X, want 0x101", pmt.PCRPID)
	}
	if len(pmt.Streams) != 2 {
		t.Errorf("streams = %d, want 2", len(pmt.Streams))
	}
}

func TestParsePMTClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		streams   []esEntry
		wantVideo uint16
		wantAudio uint16
	}{
		{"h265_and_mp3", []esEntry{{StreamTypeH265, 0x40}, {StreamTypeMPEGAudio, 0x41}}, 0x40, 0x41},
		{"last_of_kind_wins", []esEntry{{StreamTypeAAC, 0x51}, {StreamTypeH264, 0x50}, {StreamTypeAAC, 0x52}}, 0x50, 0x52},
		{"unknown_types_ignored", []esEntry{{0x06, 0x60}, {StreamTypeH264, 0x61}, {0x86, 0x62}}, 0x61, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pmt := ParsePMT(buildPMT(1, 0x1FFF, tc.streams))
			if pmt == nil {
				t.Fatal("ParsePMT returned nil")
			}
			var gotVideo, gotAudio uint16
			if pmt.Video != nil {
				gotVideo = pmt.Video.PID
			}
			if pmt.Audio != nil {
				gotAudio = pmt.Audio.PID
			}
			if gotVideo != tc.wantVideo || gotAudio != tc.wantAudio {
				t.Errorf("PIDs = (0x%X, 0x%X), want (0x%X, 0x%X)", gotVideo, gotAudio, tc.wantVideo, tc.wantAudio)
			}
		})
	}
}

func TestParsePMTRejects(t *testing.T) {
	t.Parallel()
	pat := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x100}})
	if ParsePMT(pat) != nil {
		t.Error("ParsePMT accepted a PAT")
	}
	if ParsePMT([]byte{0x00, 0x02, 0xB0, 0x0D}) != nil {
		t.Error("ParsePMT accepted a truncated section")
	}
	if ParsePMT(nil) != nil {
		t.Error("ParsePMT accepted empty input")
	}
}

func TestParsePMTTruncatedEntries(t *testing.T) {
	t.Parallel()
	full := buildPMT(1, 0x100, []esEntry{{StreamTypeH264, 0x100}, {StreamTypeAAC, 0x101}})
	// Cut inside the second entry: the first still parses.
	pmt := ParsePMT(full[:1+12+5+3])
	if pmt == nil {
		t.Fatal("ParsePMT returned nil")
	}
	if pmt.Video == nil || pmt.Audio != nil {
		t.Errorf("video = %+v, audio = %+v", pmt.Video, pmt.Audio)
	}
}

func TestSectionCRC(t *testing.T) {
	t.Parallel()
	pmt := buildPMT(1, 0x100, []esEntry{{StreamTypeH264, 0x100}})
	s, ok := section(pmt)
	if !ok {
		t.Fatal("section not found")
	}
	if err := verifyCRC32(s); err != nil {
		t.Errorf("verifyCRC32: %v", err)
	}

	pmt[len(pmt)-1] ^= 0xFF
	s, _ = section(pmt)
	if err := verifyCRC32(s); err == nil {
		t.Error("corrupted CRC verified")
	}
}
