package media

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// AnnexBToAVCC converts a start-code delimited access unit into the 4-byte
// length-prefixed layout carried by video samples.
func AnnexBToAVCC(annexB []byte) ([]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return nil, errors.Wrap(err, "failed to parse Annex-B access unit")
	}
	out, err := h264.AVCC(au).Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode AVCC access unit")
	}
	return out, nil
}

// FormatDescriptionFromAnnexB extracts SPS and PPS from a codec
// configuration packet. The last occurrence of each wins.
func FormatDescriptionFromAnnexB(annexB []byte) (*FormatDescription, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return nil, errors.Wrap(err, "failed to parse codec config")
	}

	var sps, pps []byte
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	if len(sps) == 0 || len(pps) == 0 {
		return nil, errors.Errorf("codec config is missing parameter sets (sps=%d bytes, pps=%d bytes)", len(sps), len(pps))
	}
	return NewFormatDescription(sps, pps), nil
}
