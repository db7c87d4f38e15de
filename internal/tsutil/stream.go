package tsutil

import "github.com/zsiec/srtrecv/internal/mpegts"

// Default PIDs used by Muxer.
const (
	DefaultPMTPID   = 0x1000
	DefaultVideoPID = 0x0100
	DefaultAudioPID = 0x0101
)

// SPS720p and PPS720p are a High profile 1280x720 parameter set pair.
var (
	SPS720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	PPS720p = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

// Muxer writes a single-program transport stream with one H.264 and one AAC
// stream. The zero value is not usable; call NewMuxer.
type Muxer struct {
	PMTPID    uint16
	VideoPID  uint16
	AudioPID  uint16
	VideoType uint8
	AudioType uint8

	cc map[uint16]*byte
}

// NewMuxer returns a Muxer on the default PIDs.
func NewMuxer() *Muxer {
	return &Muxer{
		PMTPID:    DefaultPMTPID,
		VideoPID:  DefaultVideoPID,
		AudioPID:  DefaultAudioPID,
		VideoType: mpegts.StreamTypeH264,
		AudioType: mpegts.StreamTypeAAC,
		cc:        make(map[uint16]*byte),
	}
}

func (m *Muxer) counter(pid uint16) *byte {
	c, ok := m.cc[pid]
	if !ok {
		c = new(byte)
		m.cc[pid] = c
	}
	return c
}

// Tables returns one PAT packet and one PMT packet.
func (m *Muxer) Tables() []byte {
	out := PSIPacket(0, BuildPAT(1, m.PMTPID), m.counter(0))
	pmt := BuildPMT(1, m.VideoPID, []Stream{
		{StreamType: m.VideoType, PID: m.VideoPID},
		{StreamType: m.AudioType, PID: m.AudioPID},
	})
	return append(out, PSIPacket(m.PMTPID, pmt, m.counter(m.PMTPID))...)
}

// Video returns the TS packets of one video PES carrying es at pts (90 kHz).
func (m *Muxer) Video(es []byte, pts int64) []byte {
	return Packetize(BuildPES(0xE0, pts, es), m.VideoPID, m.counter(m.VideoPID))
}

// Audio returns the TS packets of one audio PES carrying es at pts (90 kHz).
func (m *Muxer) Audio(es []byte, pts int64) []byte {
	return Packetize(BuildPES(0xC0, pts, es), m.AudioPID, m.counter(m.AudioPID))
}

// SyntheticStream returns frames video access units at 30 fps interleaved
// with 48 kHz stereo AAC frames, with tables repeated every 30 frames. Each video
// access unit is one NAL slice of filler; every 30th is an IDR preceded by
// SPS and PPS. The final PES of each stream is only flushed by a receiver
// once later data on the same PID arrives.
func SyntheticStream(frames int) []byte {
	const (
		videoTicks = 3000 // 90000 / 30
		audioTicks = 1920 // 1024 samples at 48 kHz
	)

	m := NewMuxer()
	var out []byte
	audioPTS := int64(0)
	for i := 0; i < frames; i++ {
		pts := int64(i) * videoTicks
		var au []byte
		if i%30 == 0 {
			out = append(out, m.Tables()...)
			au = AnnexB(SPS720p, PPS720p, fillerNAL(0x65, i))
		} else {
			au = AnnexB(fillerNAL(0x41, i))
		}
		out = append(out, m.Video(au, pts)...)

		for audioPTS <= pts {
			adts := BuildADTSFrame(3, 2, fillerPayload(64, i))
			out = append(out, m.Audio(adts, audioPTS)...)
			audioPTS += audioTicks
		}
	}
	return out
}

func fillerNAL(header byte, seq int) []byte {
	return append([]byte{header}, fillerPayload(200, seq)...)
}

// fillerPayload returns n bytes free of start code emulation.
func fillerPayload(n, seq int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0x10 + (seq+i)%0xE0)
	}
	return b
}
