package demux

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/srtrecv/internal/media"
)

// adtsFrame builds an ADTS frame by hand: profile AAC-LC, the given sample
// rate index and channel config, no CRC.
func adtsFrame(rateIdx, channels byte, payload []byte) []byte {
	frameLen := 7 + len(payload)
	header := []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, protection absent
		(1 << 6) | (rateIdx << 2) | (channels >> 2),
		(channels&0x03)<<6 | byte((frameLen>>11)&0x03),
		byte(frameLen >> 3),
		byte((frameLen&0x07)<<5) | 0x1F,
		0xFC,
	}
	return append(header, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}

	frames := ParseADTS(adtsFrame(3, 2, payload), 21333)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", f.SampleRate)
	}
	if f.ChannelConfig != 2 {
		t.Errorf("channel config = %d, want 2", f.ChannelConfig)
	}
	if f.Profile != 1 {
		t.Errorf("profile = %d, want 1", f.Profile)
	}
	if !bytes.Equal(f.Data, payload) {
		t.Errorf("data = %X, want %X", f.Data, payload)
	}
	if f.PTS != 21333 {
		t.Errorf("pts = %d, want 21333", f.PTS)
	}
}

func TestParseADTSHeaderOnlyFrameSkipped(t *testing.T) {
	t.Parallel()
	if frames := ParseADTS(adtsFrame(3, 2, nil), 0); len(frames) != 0 {
		t.Fatalf("header-only frame emitted %d frames, want 0", len(frames))
	}

	data := append(adtsFrame(3, 2, nil), adtsFrame(3, 2, []byte{0xAA, 0xBB})...)
	frames := ParseADTS(data, 0)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, []byte{0xAA, 0xBB}) {
		t.Errorf("data = %X, want AABB", frames[0].Data)
	}
}

func TestParseADTSMultipleFramesSharePTS(t *testing.T) {
	t.Parallel()
	data := append(adtsFrame(4, 1, []byte{0x01, 0x02}), adtsFrame(4, 1, []byte{0x03})...)

	frames := ParseADTS(data, 500)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.PTS != 500 {
			t.Errorf("frame %d pts = %d, want 500", i, f.PTS)
		}
		if f.SampleRate != 44100 {
			t.Errorf("frame %d sample rate = %d, want 44100", i, f.SampleRate)
		}
	}
	if !bytes.Equal(frames[1].Data, []byte{0x03}) {
		t.Errorf("second frame data = %X", frames[1].Data)
	}
}

func TestParseADTSResync(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"empty", nil, 0},
		{"sync_only", []byte{0xFF, 0xF1}, 0},
		{"leading_garbage", append([]byte{0x00, 0xFF, 0x12}, adtsFrame(3, 2, []byte{0xAA})...), 1},
		{"reserved_rate_index", append(adtsFrame(13, 2, []byte{0xAA}), adtsFrame(3, 2, []byte{0xBB})...), 1},
		{"truncated_frame", adtsFrame(3, 2, []byte{0xAA, 0xBB})[:8], 0},
		{"zero_frame_length", append([]byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC}, adtsFrame(3, 2, []byte{0xAA})...), 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := len(ParseADTS(tc.data, 0)); got != tc.want {
				t.Errorf("got %d frames, want %d", got, tc.want)
			}
		})
	}
}

func TestParseADTSStripsCRC(t *testing.T) {
	t.Parallel()
	payload := []byte{0x11, 0x22, 0x33}
	frameLen := 9 + len(payload)
	data := []byte{
		0xFF, 0xF0, // protection_absent = 0
		(1 << 6) | (3 << 2),
		(2 << 6) | byte((frameLen>>11)&0x03),
		byte(frameLen >> 3),
		byte((frameLen&0x07)<<5) | 0x1F,
		0xFC,
		0xAB, 0xCD, // CRC
	}
	data = append(data, payload...)

	frames := ParseADTS(data, 0)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, payload) {
		t.Errorf("data = %X, want %X", frames[0].Data, payload)
	}
}

func TestDecodeADTSHeaderErrors(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{
		{0xFF, 0xF1},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		adtsFrame(15, 2, nil),
	} {
		if _, err := DecodeADTSHeader(in); !errors.Is(err, ErrInvalidADTS) {
			t.Errorf("DecodeADTSHeader(%X) err = %v, want ErrInvalidADTS", in, err)
		}
	}
}

func TestADTSHeaderAppendTo(t *testing.T) {
	t.Parallel()
	want := adtsFrame(3, 2, nil)
	h := ADTSHeader{ProtectionAbsent: true, Profile: 1, SampleRateIndex: 3, ChannelConfig: 2, FrameLength: 7}

	got := h.AppendTo(nil)
	if !bytes.Equal(got, want) {
		t.Errorf("AppendTo = %X, want %X", got, want)
	}

	back, err := DecodeADTSHeader(got)
	if err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Errorf("decoded %+v, want %+v", back, h)
	}
}

func TestSampleRateIndex(t *testing.T) {
	t.Parallel()
	if idx, ok := SampleRateIndex(48000); !ok || idx != 3 {
		t.Errorf("SampleRateIndex(48000) = %d, %v", idx, ok)
	}
	if _, ok := SampleRateIndex(0); ok {
		t.Error("SampleRateIndex(0) should fail")
	}
}

func TestAACParser(t *testing.T) {
	t.Parallel()
	var got []media.AudioFrame
	p := NewAACParser(nil, func(f media.AudioFrame) { got = append(got, f) })

	p.Parse(append([]byte{0x00}, adtsFrame(3, 2, []byte{0x01, 0x02, 0x03})...), 1000)
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].PTS != 1000 || len(got[0].Data) != 3 {
		t.Errorf("frame = %+v", got[0])
	}
}

func BenchmarkParseADTS(b *testing.B) {
	data := adtsFrame(3, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE})

	b.SetBytes(int64(len(data)))
	for b.Loop() {
		ParseADTS(data, 0)
	}
}

func FuzzParseADTS(f *testing.F) {
	f.Add(adtsFrame(3, 2, []byte{0xDE, 0xAD}))
	f.Add([]byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC})
	f.Fuzz(func(t *testing.T, data []byte) {
		for _, fr := range ParseADTS(data, 0) {
			if fr.SampleRate == 0 {
				t.Fatal("frame with reserved sample rate")
			}
		}
	})
}

func FuzzParseAnnexB(f *testing.F) {
	f.Add(annexB(sps720p, []byte{0x68, 0xEE}, []byte{0x65, 0x88}))
	f.Add([]byte{0x00, 0x00, 0x01})
	f.Fuzz(func(t *testing.T, data []byte) {
		for _, n := range ParseAnnexB(data) {
			if len(n.Data) == 0 {
				t.Fatal("empty NAL unit")
			}
		}
	})
}
