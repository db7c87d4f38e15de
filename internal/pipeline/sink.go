package pipeline

// VideoSink consumes H.264 NAL units, typically a decoder.
//
// Configure is called every time the set of known parameter sets grows once
// at least one SPS and one PPS are known; sinks that cannot reconfigure live
// should ignore calls after the first. Decode receives one NAL unit without
// its start code and a PTS in microseconds. It is only called after a
// successful Configure.
type VideoSink interface {
	Configure(sps, pps [][]byte) error
	Decode(nal []byte, pts int64) error
	Stop()
}

// AudioSink consumes raw AAC frames, typically a decoder.
//
// Configure is called before the first frame and again whenever the stream's
// sample rate or channel configuration changes. Decode receives one raw AAC
// frame (ADTS header removed) and a PTS in microseconds.
type AudioSink interface {
	Configure(sampleRate, channelConfig int) error
	Decode(frame []byte, pts int64) error
	Stop()
}
