package scrcpy

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/babelcloud/screenrelay/internal/media"
	"github.com/babelcloud/screenrelay/internal/pipeline"
	"github.com/babelcloud/screenrelay/internal/session"
	"github.com/babelcloud/screenrelay/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1f, 0xda}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21}
	testP   = []byte{0x41, 0x9a, 0x02}
)

func annexB(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, 0, 0, 0, 1)
		out = append(out, u...)
	}
	return out
}

func avcc(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = binary.BigEndian.AppendUint32(out, uint32(len(u)))
		out = append(out, u...)
	}
	return out
}

func videoStream(codec uint32, packets ...[]byte) []byte {
	buf := make([]byte, deviceNameFieldLength)
	copy(buf, "test-device")
	buf = binary.BigEndian.AppendUint32(buf, codec)
	buf = binary.BigEndian.AppendUint32(buf, 720)
	buf = binary.BigEndian.AppendUint32(buf, 1280)
	for _, p := range packets {
		buf = append(buf, p...)
	}
	return buf
}

func audioStream(codec uint32, packets ...[]byte) []byte {
	buf := binary.BigEndian.AppendUint32(nil, codec)
	for _, p := range packets {
		buf = append(buf, p...)
	}
	return buf
}

func newTestSession(sinks session.Sinks, video, audio []byte) *Session {
	s := New(Options{Serial: "emulator-5554", Logger: util.NewLogger(io.Discard, true)}, sinks)
	s.connect = func(context.Context) (io.ReadCloser, io.ReadCloser, error) {
		var a io.ReadCloser
		if audio != nil {
			a = io.NopCloser(bytes.NewReader(audio))
		}
		return io.NopCloser(bytes.NewReader(video)), a, nil
	}
	return s
}

func drain(t *testing.T, ch *pipeline.Channel) []pipeline.Result {
	t.Helper()
	var out []pipeline.Result
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, status := ch.TryRecv()
		switch status {
		case pipeline.StatusClosed:
			return out
		case pipeline.StatusEmpty:
			time.Sleep(time.Millisecond)
		default:
			out = append(out, r)
		}
	}
	t.Fatal("channel was never closed")
	return nil
}

func TestSessionConvertsVideo(t *testing.T) {
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 16)}
	s := newTestSession(sinks, videoStream(CodecIDH264,
		packet(PacketFlagConfig, 0, annexB(testSPS, testPPS)),
		packet(PacketFlagKeyFrame, 0, annexB(testIDR)),
		packet(0, 16_666, annexB(testP)),
	), nil)

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, "test-device", s.DeviceName())
	require.NoError(t, s.Run(context.Background()))

	results := drain(t, sinks.Video)
	require.Len(t, results, 2)

	first := results[0].Sample
	require.NotNil(t, first)
	require.NotNil(t, first.FormatDescription())
	assert.Equal(t, testSPS, first.FormatDescription().SPS())
	assert.Equal(t, testPPS, first.FormatDescription().PPS())
	assert.Equal(t, avcc(testIDR), first.SampleData())
	assert.True(t, first.IsKeyFrame())

	second := results[1].Sample
	require.NotNil(t, second)
	assert.Nil(t, second.FormatDescription())
	assert.Equal(t, avcc(testP), second.SampleData())
}

func TestSessionRejectsUnsupportedVideo(t *testing.T) {
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 1)}
	s := newTestSession(sinks, videoStream(CodecIDH265), nil)

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, session.ErrCapability)
	assert.Contains(t, err.Error(), "h265")
}

func TestSessionRejectsUnavailableAudio(t *testing.T) {
	for _, codec := range []uint32{CodecIDDisabled, CodecIDError, CodecIDOPUS} {
		t.Run(CodecName(codec), func(t *testing.T) {
			sinks := session.Sinks{
				Video: pipeline.NewChannel(media.Video, 1),
				Audio: pipeline.NewChannel(media.Audio, 1),
			}
			s := newTestSession(sinks, videoStream(CodecIDH264), audioStream(codec))
			assert.ErrorIs(t, s.Init(context.Background()), session.ErrCapability)
		})
	}
}

func TestSessionIgnoresAudioWhenDisabled(t *testing.T) {
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 1)}
	s := newTestSession(sinks, videoStream(CodecIDH264), audioStream(CodecIDDisabled))
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, drain(t, sinks.Video))
}

func TestSessionGatesAudio(t *testing.T) {
	packets := [][]byte{
		packet(0, 0, []byte{1, 2, 3, 4}),
		packet(0, 10_000, []byte{5, 6, 7, 8}),
	}
	for _, connected := range []bool{false, true} {
		gate := pipeline.NewConnectionState()
		gate.Set(connected)
		sinks := session.Sinks{
			Video:     pipeline.NewChannel(media.Video, 1),
			Audio:     pipeline.NewChannel(media.Audio, 16),
			AudioGate: gate,
		}
		s := newTestSession(sinks, videoStream(CodecIDH264), audioStream(CodecIDRAW, packets...))
		require.NoError(t, s.Init(context.Background()))
		require.NoError(t, s.Run(context.Background()))

		results := drain(t, sinks.Audio)
		if !connected {
			assert.Empty(t, results)
			continue
		}
		require.Len(t, results, 2)
		assert.Equal(t, []byte{1, 2, 3, 4}, results[0].Sample.SampleData())
		assert.Equal(t, []byte{5, 6, 7, 8}, results[1].Sample.SampleData())
	}
}

func TestSessionVideoFailureLeavesAudioRunning(t *testing.T) {
	sinks := session.Sinks{
		Video: pipeline.NewChannel(media.Video, 4),
		Audio: pipeline.NewChannel(media.Audio, 4),
	}
	truncated := packet(0, 0, annexB(testP))[:PacketHeaderSize+2]
	s := newTestSession(sinks,
		videoStream(CodecIDH264, truncated),
		audioStream(CodecIDRAW, packet(0, 0, []byte{9, 9})),
	)
	require.NoError(t, s.Init(context.Background()))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video stream failed")

	video := drain(t, sinks.Video)
	require.Len(t, video, 1)
	assert.Error(t, video[0].Err)

	audio := drain(t, sinks.Audio)
	require.Len(t, audio, 1)
	assert.Equal(t, []byte{9, 9}, audio[0].Sample.SampleData())
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 1)}
	s := New(Options{Logger: util.NewLogger(io.Discard, false)}, sinks)
	s.connect = func(context.Context) (io.ReadCloser, io.ReadCloser, error) {
		return pr, nil, nil
	}
	go pw.Write(videoStream(CodecIDH264))
	require.NoError(t, s.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, status := sinks.Video.TryRecv()
	assert.Equal(t, pipeline.StatusClosed, status)
}

func TestRunRequiresInit(t *testing.T) {
	s := New(Options{}, session.Sinks{Video: pipeline.NewChannel(media.Video, 1)})
	assert.Error(t, s.Run(context.Background()))
}

func TestSessionRepeatsParameterSetsOnKeyFrames(t *testing.T) {
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 16)}
	s := newTestSession(sinks, videoStream(CodecIDH264,
		packet(PacketFlagConfig, 0, annexB(testSPS, testPPS)),
		packet(PacketFlagKeyFrame, 0, annexB(testIDR)),
		packet(0, 16_666, annexB(testP)),
		packet(PacketFlagKeyFrame, 33_333, annexB(testIDR)),
	), nil)
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Run(context.Background()))

	results := drain(t, sinks.Video)
	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Sample.FormatDescription())
	assert.Nil(t, results[1].Sample.FormatDescription())

	third := results[2].Sample.FormatDescription()
	require.NotNil(t, third)
	assert.Equal(t, testSPS, third.SPS())
	assert.Equal(t, testPPS, third.PPS())
}

func TestSessionCloseReleasesBlockedReader(t *testing.T) {
	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, 1)}
	s := newTestSession(sinks, videoStream(CodecIDH264,
		packet(PacketFlagKeyFrame, 0, annexB(testIDR)),
		packet(0, 16_666, annexB(testP)),
		packet(0, 33_333, annexB(testP)),
	), nil)
	require.NoError(t, s.Init(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Nobody drains the channel, so the reader blocks on the second sample.
	assert.Eventually(t, func() bool { return sinks.Video.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after Close")
	}
	select {
	case <-sinks.Video.Done():
	default:
		t.Fatal("video channel not closed")
	}
}
