// Package demux implements the elementary stream framers that sit behind the
// MPEG-TS demuxer: an H.264 Annex-B NAL splitter with an SPS/PPS cache and an
// AAC ADTS frame splitter.
//
// [H264Parser] and [AACParser] are fed one PES payload at a time along with
// its PTS in microseconds. Stateless helpers [ParseAnnexB], [ParseSPS] and
// [ParseADTS] are exported for tools and tests.
package demux
