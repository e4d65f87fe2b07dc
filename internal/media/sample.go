// Package media holds the decoded media unit handed from a device session to
// the relay servers, and the pure functions that turn it into wire bytes.
package media

import (
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// MediaKind discriminates the two fixed media paths.
type MediaKind uint8

const (
	Video MediaKind = iota
	Audio
)

func (k MediaKind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseMediaKind maps "video" or "audio" to its MediaKind.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video":
		return Video, nil
	case "audio":
		return Audio, nil
	}
	return 0, errors.Errorf("unknown media kind %q", s)
}

// FormatDescription carries the avc1 parameter sets of a video stream.
// It is immutable once constructed.
type FormatDescription struct {
	sps []byte
	pps []byte
}

// NewFormatDescription copies sps and pps so later changes by the caller
// cannot leak into samples already queued.
func NewFormatDescription(sps, pps []byte) *FormatDescription {
	return &FormatDescription{
		sps: append([]byte(nil), sps...),
		pps: append([]byte(nil), pps...),
	}
}

// SPS returns the sequence parameter set NAL unit (without start code).
func (f *FormatDescription) SPS() []byte { return f.sps }

// PPS returns the picture parameter set NAL unit (without start code).
func (f *FormatDescription) PPS() []byte { return f.pps }

// Dimensions decodes the coded picture size from the SPS.
func (f *FormatDescription) Dimensions() (width, height int, err error) {
	var sps h264.SPS
	if err := sps.Unmarshal(f.sps); err != nil {
		return 0, 0, errors.Wrap(err, "failed to parse SPS")
	}
	return sps.Width(), sps.Height(), nil
}

// SampleBuffer is one decoded unit of media.
//
// For video, sample data is a concatenation of NAL units each prefixed by a
// 4-byte big-endian length. For audio it is raw payload forwarded verbatim.
type SampleBuffer struct {
	kind   MediaKind
	format *FormatDescription
	data   []byte
}

// NewVideoSample builds a video sample. fd and data may both be nil.
func NewVideoSample(fd *FormatDescription, data []byte) *SampleBuffer {
	return &SampleBuffer{kind: Video, format: fd, data: data}
}

// NewAudioSample builds an audio sample carrying raw payload bytes.
func NewAudioSample(data []byte) *SampleBuffer {
	return &SampleBuffer{kind: Audio, data: data}
}

func (s *SampleBuffer) Kind() MediaKind { return s.kind }

// FormatDescription returns the parameter sets carried by this sample, or
// nil when the sample does not announce a format change.
func (s *SampleBuffer) FormatDescription() *FormatDescription { return s.format }

// SampleData returns the payload, or nil when absent.
func (s *SampleBuffer) SampleData() []byte { return s.data }

func (s *SampleBuffer) HasSampleData() bool { return s.data != nil }

// IsKeyFrame reports whether a well-formed video sample contains an IDR
// slice. Audio samples and malformed buffers are never key frames.
func (s *SampleBuffer) IsKeyFrame() bool {
	if s.kind != Video {
		return false
	}
	key := false
	err := WalkNALUnits(s.data, func(nalu []byte) {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			key = true
		}
	})
	return err == nil && key
}
