// Package scrcpy captures the screen and audio of an Android device by
// running the scrcpy server over adb and feeding its streams into the relay
// pipeline.
package scrcpy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/screenrelay/internal/media"
	"github.com/babelcloud/screenrelay/internal/pipeline"
	"github.com/babelcloud/screenrelay/internal/session"
	"github.com/babelcloud/screenrelay/internal/util"
	adb "github.com/basiooo/goadb"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Defaults applied by New.
const (
	DefaultVersion       = "3.3.1"
	DefaultAcceptTimeout = 20 * time.Second
	DefaultLogLevel      = "info"
)

const errorPushTimeout = time.Second

var _ session.Session = (*Session)(nil)

// Options configures a capture session.
type Options struct {
	Serial string
	Device *adb.Device

	AdbPath string
	// ServerPath is a local server jar pushed before starting. When empty
	// the jar must already be on the device.
	ServerPath string
	Version    string

	VideoBitRate int
	MaxSize      int
	LogLevel     string

	AcceptTimeout time.Duration

	// Audio is derived from the sinks by New.
	Audio bool

	Logger *slog.Logger
}

type connectFunc func(ctx context.Context) (video, audio io.ReadCloser, err error)

// Session is a session.Session backed by the scrcpy server.
type Session struct {
	opts   Options
	sinks  session.Sinks
	logger *slog.Logger

	connect connectFunc
	tunnel  *tunnel

	mu     sync.Mutex
	video  io.ReadCloser
	audio  io.ReadCloser
	closed bool

	deviceName string
	videoMeta  VideoCodecMeta
}

// New creates a session writing into sinks. Init must succeed before Run.
func New(opts Options, sinks session.Sinks) *Session {
	if opts.AdbPath == "" {
		opts.AdbPath = "adb"
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.LogLevel == "" {
		opts.LogLevel = DefaultLogLevel
	}
	opts.Audio = sinks.AudioEnabled()

	logger := opts.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	s := &Session{
		opts:   opts,
		sinks:  sinks,
		logger: logger.With("serial", opts.Serial),
	}
	s.connect = s.dial
	return s
}

func (s *Session) dial(ctx context.Context) (io.ReadCloser, io.ReadCloser, error) {
	if s.opts.Device == nil {
		return nil, nil, errors.New("no adb device handle")
	}
	t := &tunnel{opts: s.opts, device: s.opts.Device, logger: s.logger}
	s.mu.Lock()
	s.tunnel = t
	s.mu.Unlock()

	video, audio, err := t.open(ctx)
	if err != nil {
		t.close()
		return nil, nil, err
	}
	return video, audio, nil
}

// DeviceName returns the name announced by the device, valid after Init.
func (s *Session) DeviceName() string { return s.deviceName }

// Init connects to the device and reads the stream headers. It fails with
// session.ErrCapability when the device cannot deliver H.264 video, or raw
// audio while audio is enabled.
func (s *Session) Init(ctx context.Context) error {
	video, audio, err := s.connect(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to connect to device")
	}
	s.mu.Lock()
	s.video, s.audio = video, audio
	s.mu.Unlock()

	if err := s.handshake(); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *Session) handshake() error {
	name, err := ReadDeviceName(s.video)
	if err != nil {
		return err
	}
	s.deviceName = name

	meta, err := ReadVideoCodecMeta(s.video)
	if err != nil {
		return err
	}
	if meta.CodecID != CodecIDH264 {
		return errors.Wrapf(session.ErrCapability, "device sends %s video, need h264", CodecName(meta.CodecID))
	}
	s.videoMeta = meta
	s.logger.Info("Device connected", "device", name, "width", meta.Width, "height", meta.Height)

	if !s.opts.Audio {
		return nil
	}
	if s.audio == nil {
		return errors.Wrap(session.ErrCapability, "device opened no audio socket")
	}
	codec, err := ReadAudioCodecMeta(s.audio)
	if err != nil {
		return err
	}
	switch codec {
	case CodecIDRAW:
		s.logger.Info("Audio capture enabled", "codec", CodecName(codec))
		return nil
	case CodecIDDisabled, CodecIDError:
		return errors.Wrapf(session.ErrCapability, "device audio capture is %s", CodecName(codec))
	default:
		return errors.Wrapf(session.ErrCapability, "device sends %s audio, need raw", CodecName(codec))
	}
}

// Run forwards samples until both streams end or ctx is done. Both sink
// channels are closed when it returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	video, audio := s.video, s.audio
	s.mu.Unlock()
	if video == nil {
		return errors.New("session is not initialized")
	}
	defer s.sinks.Close()

	stop := context.AfterFunc(ctx, s.closeStreams)
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return s.readVideo(ctx, video) })
	if s.opts.Audio && audio != nil {
		g.Go(func() error { return s.readAudio(ctx, audio) })
	}
	return g.Wait()
}

func (s *Session) readVideo(ctx context.Context, r io.Reader) error {
	ch := s.sinks.Video
	defer ch.Close()
	logger := s.logger.With("kind", media.Video.String())

	// pending is attached to the next sample; current is repeated on every
	// key frame so a client joining mid-stream can start decoding there.
	var pending, current *media.FormatDescription
	for {
		pkt, err := ReadPacket(r, maxVideoPacketSize)
		if err != nil {
			return s.streamEnded(ctx, ch, logger, err)
		}

		if pkt.IsConfig {
			fd, err := media.FormatDescriptionFromAnnexB(pkt.Data)
			if err != nil {
				logger.Warn("Ignoring malformed codec config", "error", err)
				continue
			}
			if w, h, err := fd.Dimensions(); err == nil {
				logger.Info("Video format changed", "width", w, "height", h)
			} else {
				logger.Debug("Could not decode SPS", "error", err)
			}
			pending, current = fd, fd
			continue
		}

		data, err := media.AnnexBToAVCC(pkt.Data)
		if err != nil {
			if err := ch.PushError(ctx, errors.Wrapf(err, "failed to convert video packet pts=%d", pkt.PTS)); err != nil {
				return nil
			}
			continue
		}
		fd := pending
		if fd == nil && pkt.IsKeyFrame {
			fd = current
		}
		if err := ch.PushSample(ctx, media.NewVideoSample(fd, data)); err != nil {
			return nil
		}
		pending = nil
	}
}

func (s *Session) readAudio(ctx context.Context, r io.Reader) error {
	ch := s.sinks.Audio
	defer ch.Close()
	logger := s.logger.With("kind", media.Audio.String())

	dropped := 0
	for {
		pkt, err := ReadPacket(r, maxAudioPacketSize)
		if err != nil {
			if dropped > 0 {
				logger.Debug("Audio packets dropped while no client was connected", "count", dropped)
			}
			return s.streamEnded(ctx, ch, logger, err)
		}
		if pkt.IsConfig {
			continue
		}
		if !s.sinks.AudioWanted() {
			dropped++
			continue
		}
		if err := ch.PushSample(ctx, media.NewAudioSample(pkt.Data)); err != nil {
			return nil
		}
	}
}

// streamEnded classifies a read failure. A clean end of stream or a
// requested shutdown is not an error; anything else is forwarded to the
// relay as an upstream error before the stream gives up.
func (s *Session) streamEnded(ctx context.Context, ch *pipeline.Channel, logger *slog.Logger, err error) error {
	if ctx.Err() != nil || s.isClosed() {
		return nil
	}
	if errors.Is(err, io.EOF) {
		logger.Info("Device stream ended")
		return nil
	}

	logger.Error("Device stream failed", "error", err)
	pushCtx, cancel := context.WithTimeout(ctx, errorPushTimeout)
	defer cancel()
	if perr := ch.PushError(pushCtx, err); perr != nil {
		logger.Debug("Could not report stream failure", "error", perr)
	}
	return errors.Wrapf(err, "%s stream failed", ch.Kind())
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) closeStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.video != nil {
		s.video.Close()
	}
	if s.audio != nil {
		s.audio.Close()
	}
}

// Close stops capture and tears down the device side. It also closes the
// sink channels, which releases a reader blocked on a full channel.
func (s *Session) Close() error {
	s.closeStreams()
	s.sinks.Close()
	s.mu.Lock()
	t := s.tunnel
	s.mu.Unlock()
	if t != nil {
		t.close()
	}
	return nil
}
