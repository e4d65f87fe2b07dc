package scrcpy

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(flags uint64, pts uint64, data []byte) []byte {
	buf := make([]byte, PacketHeaderSize, PacketHeaderSize+len(data))
	binary.BigEndian.PutUint64(buf[0:8], flags|pts)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data)))
	return append(buf, data...)
}

func TestReadPacket(t *testing.T) {
	stream := append(packet(PacketFlagConfig, 0, []byte{1, 2}), packet(PacketFlagKeyFrame, 33_000, []byte{3})...)
	stream = append(stream, packet(0, 66_000, []byte{4, 5, 6})...)
	r := bytes.NewReader(stream)

	pkt, err := ReadPacket(r, 1024)
	require.NoError(t, err)
	assert.True(t, pkt.IsConfig)
	assert.False(t, pkt.IsKeyFrame)
	assert.Equal(t, []byte{1, 2}, pkt.Data)

	pkt, err = ReadPacket(r, 1024)
	require.NoError(t, err)
	assert.True(t, pkt.IsKeyFrame)
	assert.EqualValues(t, 33_000, pkt.PTS)

	pkt, err = ReadPacket(r, 1024)
	require.NoError(t, err)
	assert.False(t, pkt.IsConfig || pkt.IsKeyFrame)
	assert.Equal(t, []byte{4, 5, 6}, pkt.Data)

	_, err = ReadPacket(r, 1024)
	assert.Equal(t, io.EOF, err)
}

func TestReadPacketErrors(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
		want   string
	}{
		{"truncated header", []byte{0, 0, 0, 0, 0}, "failed to read packet header"},
		{"zero size", packet(0, 0, nil), "invalid packet size"},
		{"too large", packet(0, 0, make([]byte, 9)), "packet size too large"},
		{"truncated payload", packet(0, 0, []byte{1, 2, 3})[:PacketHeaderSize+1], "failed to read packet data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPacket(bytes.NewReader(tt.stream), 8)
			require.Error(t, err)
			assert.NotErrorIs(t, err, io.EOF)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadStreamHeaders(t *testing.T) {
	name := make([]byte, deviceNameFieldLength)
	copy(name, "Pixel 8")
	meta := make([]byte, 12)
	binary.BigEndian.PutUint32(meta[0:4], CodecIDH264)
	binary.BigEndian.PutUint32(meta[4:8], 1080)
	binary.BigEndian.PutUint32(meta[8:12], 2400)
	r := bytes.NewReader(append(name, meta...))

	got, err := ReadDeviceName(r)
	require.NoError(t, err)
	assert.Equal(t, "Pixel 8", got)

	vm, err := ReadVideoCodecMeta(r)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecMeta{CodecID: CodecIDH264, Width: 1080, Height: 2400}, vm)

	_, err = ReadAudioCodecMeta(r)
	assert.Error(t, err)
}

func TestCodecName(t *testing.T) {
	assert.Equal(t, "h264", CodecName(CodecIDH264))
	assert.Equal(t, "raw", CodecName(CodecIDRAW))
	assert.Equal(t, "opus", CodecName(CodecIDOPUS))
	assert.Equal(t, "disabled", CodecName(CodecIDDisabled))
	assert.Equal(t, "error", CodecName(CodecIDError))
}
