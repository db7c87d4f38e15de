package demux

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/nazabits"

	"github.com/zsiec/srtrecv/internal/media"
)

var errSPSTooShort = errors.New("SPS data too short")

// SPSInfo holds the parameters of an H.264 Sequence Parameter Set needed to
// describe the stream: resolution and profile/level identifiers.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// VideoInfo converts s to the media description used in status reporting.
func (s SPSInfo) VideoInfo() media.VideoInfo {
	return media.VideoInfo{Width: s.Width, Height: s.Height, Codec: s.CodecString()}
}

// spsReader wraps a nazabits reader and keeps the first error, so the field
// walk in ParseSPS reads top to bottom.
type spsReader struct {
	br  nazabits.BitReader
	err error
}

func (r *spsReader) u(n uint) uint {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.br.ReadBits32(n)
	return uint(v)
}

func (r *spsReader) ue() uint {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadGolomb()
	r.err = err
	return uint(v)
}

func (r *spsReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *spsReader) skipScalingList(size int) {
	lastScale, nextScale := 8, 8
	for j := 0; j < size && r.err == nil; j++ {
		if nextScale != 0 {
			nextScale = (lastScale + r.se() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// ParseSPS parses an H.264 SPS NAL unit (NAL header byte included, start code
// excluded) for resolution and profile/level. VUI parameters are not read.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}

	r := &spsReader{br: nazabits.NewBitReader(removeEmulationPrevention(nalu[1:]))}

	profileIdc := r.u(8)
	constraintFlags := r.u(8)
	levelIdc := r.u(8)
	r.ue() // seq_parameter_set_id

	chromaFormatIdc := uint(1)
	separateColourPlane := false
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIdc = r.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = r.u(1) == 1
		}
		r.ue() // bit_depth_luma_minus8
		r.ue() // bit_depth_chroma_minus8
		r.u(1) // qpprime_y_zero_transform_bypass_flag
		if r.u(1) == 1 { // seq_scaling_matrix_present_flag
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				if r.u(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.skipScalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() { // pic_order_cnt_type
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.u(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := r.ue()
	picHeightMapUnits := r.ue()
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.u(1) // mb_adaptive_frame_field_flag
	}
	r.u(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if r.u(1) == 1 {
		cropLeft, cropRight, cropTop, cropBottom = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPSInfo{}, fmt.Errorf("parse SPS: %w", r.err)
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	return SPSInfo{
		Width:           int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight)),
		Height:          int((picHeightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}, nil
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}
