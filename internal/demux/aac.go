package demux

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/q191201771/naza/pkg/nazabits"

	"github.com/zsiec/srtrecv/internal/media"
)

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

const (
	adtsHeaderSize    = 7
	adtsCRCHeaderSize = 9
)

// AAC sample rate index table (ISO 14496-3). Indexes 13-15 are reserved.
var aacSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// SampleRateIndex returns the ADTS sampling_frequency_index for rate, or
// false if rate has no index.
func SampleRateIndex(rate int) (uint8, bool) {
	for i, r := range aacSampleRates {
		if r != 0 && r == rate {
			return uint8(i), true
		}
	}
	return 0, false
}

// ADTSHeader is the fixed part of an ADTS frame header.
type ADTSHeader struct {
	ProtectionAbsent bool
	Profile          uint8 // audio object type - 1
	SampleRateIndex  uint8
	ChannelConfig    uint8
	FrameLength      int // header + payload, in bytes
}

// Size returns the header size including the CRC when present.
func (h ADTSHeader) Size() int {
	if h.ProtectionAbsent {
		return adtsHeaderSize
	}
	return adtsCRCHeaderSize
}

// SampleRate returns the sample rate for SampleRateIndex, or 0 if reserved.
func (h ADTSHeader) SampleRate() int {
	return aacSampleRates[h.SampleRateIndex&0x0F]
}

// DecodeADTSHeader decodes the 7-byte fixed ADTS header at the start of b.
func DecodeADTSHeader(b []byte) (ADTSHeader, error) {
	if len(b) < adtsHeaderSize {
		return ADTSHeader{}, fmt.Errorf("%w: %d bytes", ErrInvalidADTS, len(b))
	}
	if uint16(b[0])<<4|uint16(b[1]>>4) != 0xFFF {
		return ADTSHeader{}, fmt.Errorf("%w: no sync word", ErrInvalidADTS)
	}

	// syncword(12) ID(1) layer(2) protection_absent(1)
	// profile(2) sampling_frequency_index(4) private_bit(1)
	// channel_configuration(3) original_copy(1) home(1)
	// copyright_id_bit(1) copyright_id_start(1) aac_frame_length(13)
	// adts_buffer_fullness(11) number_of_raw_data_blocks(2)
	var h ADTSHeader
	br := nazabits.NewBitReader(b[:adtsHeaderSize])
	_ = br.SkipBits(15)
	pa, _ := br.ReadBits8(1)
	h.ProtectionAbsent = pa == 1
	h.Profile, _ = br.ReadBits8(2)
	h.SampleRateIndex, _ = br.ReadBits8(4)
	_ = br.SkipBits(1)
	h.ChannelConfig, _ = br.ReadBits8(3)
	_ = br.SkipBits(4)
	fl, err := br.ReadBits16(13)
	if err != nil {
		return ADTSHeader{}, fmt.Errorf("%w: %v", ErrInvalidADTS, err)
	}
	h.FrameLength = int(fl)

	if h.SampleRate() == 0 {
		return h, fmt.Errorf("%w: reserved sample rate index %d", ErrInvalidADTS, h.SampleRateIndex)
	}
	if h.FrameLength < h.Size() {
		return h, fmt.Errorf("%w: frame length %d", ErrInvalidADTS, h.FrameLength)
	}
	return h, nil
}

// AppendTo appends the 7-byte header to dst. ProtectionAbsent is always
// written as set; FrameLength must already include the header.
func (h ADTSHeader) AppendTo(dst []byte) []byte {
	var hdr [adtsHeaderSize]byte
	bw := nazabits.NewBitWriter(hdr[:])
	bw.WriteBits16(12, 0xFFF)
	bw.WriteBits8(4, 0x1) // MPEG-4, layer 0, protection absent
	bw.WriteBits8(2, h.Profile)
	bw.WriteBits8(4, h.SampleRateIndex)
	bw.WriteBits8(1, 0)
	bw.WriteBits8(3, h.ChannelConfig)
	bw.WriteBits8(4, 0)
	bw.WriteBits16(13, uint16(h.FrameLength))
	bw.WriteBits16(11, 0x7FF) // VBR
	bw.WriteBits8(2, 0)
	return append(dst, hdr[:]...)
}

// splitADTS walks an ADTS byte stream and calls emit for every complete
// frame. A byte that does not start a valid header is skipped; a frame that
// runs past the end of data ends the walk. It returns the number of bytes
// skipped while searching for sync.
func splitADTS(data []byte, pts int64, emit func(media.AudioFrame)) (skipped int) {
	offset := 0
	for len(data)-offset >= adtsHeaderSize {
		h, err := DecodeADTSHeader(data[offset:])
		if err != nil {
			offset++
			skipped++
			continue
		}
		if offset+h.FrameLength > len(data) {
			break
		}

		// A header-only frame carries no access unit.
		if h.FrameLength > h.Size() {
			emit(media.AudioFrame{
				PTS:           pts,
				Data:          data[offset+h.Size() : offset+h.FrameLength],
				SampleRate:    h.SampleRate(),
				ChannelConfig: int(h.ChannelConfig),
				Profile:       int(h.Profile),
			})
		}
		offset += h.FrameLength
	}
	return skipped
}

// ParseADTS splits an ADTS byte stream into raw AAC frames, all stamped with
// pts. Frame data aliases data.
func ParseADTS(data []byte, pts int64) []media.AudioFrame {
	var frames []media.AudioFrame
	splitADTS(data, pts, func(f media.AudioFrame) {
		frames = append(frames, f)
	})
	return frames
}

// AACParser splits AAC PES payloads into frames and hands each to onFrame.
// Frame data excludes the whole ADTS header: 7 bytes, or 9 when
// protection_absent is 0 and a CRC follows the fixed header. Frames with no
// payload are skipped.
type AACParser struct {
	log     *slog.Logger
	onFrame func(media.AudioFrame)
}

// NewAACParser creates a parser. If log is nil, slog.Default() is used.
func NewAACParser(log *slog.Logger, onFrame func(media.AudioFrame)) *AACParser {
	if log == nil {
		log = slog.Default()
	}
	return &AACParser{log: log.With("component", "aac"), onFrame: onFrame}
}

// Parse splits one PES payload. pts is the PES timestamp in microseconds and
// is shared by every frame in the payload.
func (p *AACParser) Parse(data []byte, pts int64) {
	if skipped := splitADTS(data, pts, p.onFrame); skipped > 0 {
		p.log.Debug("ADTS resync", "skipped", skipped, "len", len(data))
	}
}
