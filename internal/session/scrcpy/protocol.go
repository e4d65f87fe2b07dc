package scrcpy

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// PacketHeaderSize is the size of the frame meta preceding every packet:
// PTS with flags (u64 BE) followed by the payload size (u32 BE).
const PacketHeaderSize = 12

// Packet flags
const (
	PacketFlagConfig   = uint64(1) << 63
	PacketFlagKeyFrame = uint64(1) << 62
	PacketPTSMask      = PacketFlagKeyFrame - 1
)

// Codec IDs
const (
	CodecIDH264 = uint32(0x68323634) // "h264" in ASCII
	CodecIDH265 = uint32(0x68323635) // "h265" in ASCII
	CodecIDAV1  = uint32(0x00617631) // "av1" in ASCII
	CodecIDOPUS = uint32(0x6f707573) // "opus" in ASCII
	CodecIDAAC  = uint32(0x00616163) // "aac" in ASCII
	CodecIDFLAC = uint32(0x666c6163) // "flac" in ASCII
	CodecIDRAW  = uint32(0x00726177) // "raw" in ASCII

	// Sent instead of a codec id when the device disables a stream.
	CodecIDDisabled = uint32(0)
	CodecIDError    = uint32(1)
)

const (
	deviceNameFieldLength = 64

	maxVideoPacketSize = 10 * 1024 * 1024
	maxAudioPacketSize = 1 * 1024 * 1024
)

// Packet is one media or codec configuration packet.
type Packet struct {
	PTS        uint64
	Data       []byte
	IsConfig   bool
	IsKeyFrame bool
}

// ReadPacket reads one packet. A clean end of stream before the header is
// reported as io.EOF.
func ReadPacket(r io.Reader, maxSize uint32) (*Packet, error) {
	var header [PacketHeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to read packet header")
	}

	ptsFlags := binary.BigEndian.Uint64(header[0:8])
	size := binary.BigEndian.Uint32(header[8:12])
	if size == 0 {
		return nil, errors.New("invalid packet size: 0")
	}
	if size > maxSize {
		return nil, errors.Errorf("packet size too large: %d", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "failed to read packet data")
	}

	return &Packet{
		PTS:        ptsFlags & PacketPTSMask,
		Data:       data,
		IsConfig:   ptsFlags&PacketFlagConfig != 0,
		IsKeyFrame: ptsFlags&PacketFlagKeyFrame != 0,
	}, nil
}

// ReadDeviceName reads the fixed-size, NUL padded device name sent first on
// the video socket.
func ReadDeviceName(r io.Reader) (string, error) {
	buf := make([]byte, deviceNameFieldLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(err, "failed to read device name")
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// VideoCodecMeta is sent once on the video socket.
type VideoCodecMeta struct {
	CodecID uint32
	Width   uint32
	Height  uint32
}

func ReadVideoCodecMeta(r io.Reader) (VideoCodecMeta, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VideoCodecMeta{}, errors.Wrap(err, "failed to read video metadata")
	}
	return VideoCodecMeta{
		CodecID: binary.BigEndian.Uint32(buf[0:4]),
		Width:   binary.BigEndian.Uint32(buf[4:8]),
		Height:  binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// ReadAudioCodecMeta reads the codec id sent once on the audio socket.
func ReadAudioCodecMeta(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "failed to read audio metadata")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// CodecName renders a codec id for logs.
func CodecName(id uint32) string {
	switch id {
	case CodecIDDisabled:
		return "disabled"
	case CodecIDError:
		return "error"
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return strings.TrimLeft(string(b[:]), "\x00")
}
