// Package mpegts implements push-style MPEG-TS demuxing for a live byte
// stream. It tracks PAT/PMT discovery across the lifetime of a session,
// reassembles video and audio PES packets with PTS extraction, and hands
// each completed PES payload to a PESHandler.
package mpegts

// Packet is a parsed 188-byte MPEG-TS transport stream packet. Payload
// aliases the buffer the packet was parsed from.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
// ContinuityCounter is recorded but not used for loss detection.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// StreamKind selects one of the two elementary streams the demuxer follows.
type StreamKind int

// Elementary stream kinds.
const (
	KindVideo StreamKind = iota
	KindAudio
)

func (k StreamKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Stream types recognized in the PMT.
const (
	StreamTypeMPEGAudio = 0x03
	StreamTypeAAC       = 0x0F
	StreamTypeH264      = 0x1B
	StreamTypeH265      = 0x24
)

// StreamInfo is one elementary stream entry of a PMT.
type StreamInfo struct {
	StreamType uint8
	PID        uint16
}

// PMTData is the routing-relevant content of a Program Map Table section.
// Video and Audio are nil when the section lists no stream of that kind;
// when several are listed the last one wins.
type PMTData struct {
	PCRPID  uint16
	Streams []StreamInfo
	Video   *StreamInfo
	Audio   *StreamInfo
}

// PESHandler receives completed PES payloads. streamType is the PMT stream
// type of the PID the payload arrived on and pts is in microseconds.
type PESHandler interface {
	HandlePES(kind StreamKind, streamType uint8, data []byte, pts int64)
}

// PESHandlerFunc adapts a function to PESHandler.
type PESHandlerFunc func(kind StreamKind, streamType uint8, data []byte, pts int64)

// HandlePES calls f.
func (f PESHandlerFunc) HandlePES(kind StreamKind, streamType uint8, data []byte, pts int64) {
	f(kind, streamType, data, pts)
}
