package media

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// EnvelopeHeaderSize is the size of the optional per-frame header:
// payload length (u32 LE) followed by a send-time timestamp in
// milliseconds since the epoch (u64 LE).
const EnvelopeHeaderSize = 12

// PutEnvelopeHeader writes the header for a payload of the given length
// into b, which must hold at least EnvelopeHeaderSize bytes.
func PutEnvelopeHeader(b []byte, length int, ts time.Time) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(length))
	binary.LittleEndian.PutUint64(b[4:12], uint64(ts.UnixMilli()))
}

// Envelope returns header+payload in a single buffer.
func Envelope(payload []byte, ts time.Time) []byte {
	out := make([]byte, EnvelopeHeaderSize+len(payload))
	PutEnvelopeHeader(out, len(payload), ts)
	copy(out[EnvelopeHeaderSize:], payload)
	return out
}

// ParseEnvelopeHeader decodes a header produced by PutEnvelopeHeader.
func ParseEnvelopeHeader(b []byte) (length uint32, ts time.Time, err error) {
	if len(b) < EnvelopeHeaderSize {
		return 0, time.Time{}, errors.Errorf("envelope header needs %d bytes, got %d", EnvelopeHeaderSize, len(b))
	}
	length = binary.LittleEndian.Uint32(b[0:4])
	ms := binary.LittleEndian.Uint64(b[4:12])
	return length, time.UnixMilli(int64(ms)), nil
}
