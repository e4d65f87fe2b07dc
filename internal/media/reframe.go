package media

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// StartCode is the 4-byte Annex-B delimiter written ahead of every NAL unit.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

const lengthPrefixSize = 4

var (
	// ErrFraming reports a length prefix that runs past the end of the
	// sample data. It is scoped to a single sample.
	ErrFraming = errors.New("malformed NAL length prefix")

	// ErrNotVideo is returned when reframing is asked of a non-video sample.
	ErrNotVideo = errors.New("reframe is only defined for video samples")
)

// WalkNALUnits calls fn for every length-prefixed NAL unit in data, in order.
// The slices handed to fn alias data. A length prefix that overruns the
// buffer, or trailing bytes too short to hold a prefix, yield ErrFraming;
// fn may already have been called for earlier units at that point.
func WalkNALUnits(data []byte, fn func(nalu []byte)) error {
	cur := data
	offset := 0
	for len(cur) > 0 {
		if len(cur) < lengthPrefixSize {
			return errors.Wrapf(ErrFraming, "%d trailing bytes at offset %d", len(cur), offset)
		}
		n := binary.BigEndian.Uint32(cur)
		rest := cur[lengthPrefixSize:]
		if uint64(n) > uint64(len(rest)) {
			return errors.Wrapf(ErrFraming, "unit at offset %d declares %d bytes, %d remain", offset, n, len(rest))
		}
		fn(rest[:n])
		cur = rest[n:]
		offset += lengthPrefixSize + int(n)
	}
	return nil
}

// Reframe converts a video sample into an Annex-B byte stream. When the
// sample carries a format description, SPS and PPS are emitted first. A
// sample with neither data nor format description yields an empty result.
func Reframe(s *SampleBuffer) ([]byte, error) {
	return AppendReframed(nil, s)
}

// AppendReframed appends the Annex-B form of s to dst. On error dst is
// returned unchanged, so nothing of the malformed sample leaks out.
func AppendReframed(dst []byte, s *SampleBuffer) ([]byte, error) {
	if s == nil {
		return dst, nil
	}
	if s.Kind() != Video {
		return dst, ErrNotVideo
	}

	size := 0
	if fd := s.FormatDescription(); fd != nil {
		size += len(StartCode) + len(fd.SPS()) + len(StartCode) + len(fd.PPS())
	}
	if err := WalkNALUnits(s.SampleData(), func(nalu []byte) {
		size += len(StartCode) + len(nalu)
	}); err != nil {
		return dst, err
	}
	if size == 0 {
		return dst, nil
	}

	out := dst
	if cap(out)-len(out) < size {
		out = make([]byte, len(dst), len(dst)+size)
		copy(out, dst)
	}
	if fd := s.FormatDescription(); fd != nil {
		out = append(out, StartCode...)
		out = append(out, fd.SPS()...)
		out = append(out, StartCode...)
		out = append(out, fd.PPS()...)
	}
	// Already validated above.
	_ = WalkNALUnits(s.SampleData(), func(nalu []byte) {
		out = append(out, StartCode...)
		out = append(out, nalu...)
	})
	return out, nil
}
