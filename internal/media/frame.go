// Package media defines the value types that flow from the elementary stream
// parsers to the decoder sinks.
package media

import "fmt"

// AudioFrame is one raw AAC access unit with its ADTS header (and CRC, if
// any) removed. Every frame split out of one PES packet carries that packet's
// PTS.
type AudioFrame struct {
	PTS           int64 // microseconds
	Data          []byte
	SampleRate    int
	ChannelConfig int
	Profile       int // ADTS profile (audio object type - 1)
}

// VideoInfo describes the active H.264 stream as derived from its SPS.
type VideoInfo struct {
	Width  int
	Height int
	Codec  string // RFC 6381 codec string, e.g. "avc1.64001F"
}

// String formats the info as "1280x720 avc1.64001F".
func (v VideoInfo) String() string {
	return fmt.Sprintf("%dx%d %s", v.Width, v.Height, v.Codec)
}

// AudioInfo describes the active AAC stream.
type AudioInfo struct {
	SampleRate    int
	ChannelConfig int
}

// String formats the info as "AAC 48000 Hz 2ch".
func (a AudioInfo) String() string {
	return fmt.Sprintf("AAC %d Hz %dch", a.SampleRate, a.ChannelConfig)
}
