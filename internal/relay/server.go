// Package relay republishes one media channel as a plain TCP feed.
//
// A Server owns a listener and serves one client at a time: it accepts,
// drains its channel into the socket until the client goes away or the
// upstream fails, then goes back to accepting. Video samples are reframed
// into Annex-B (optionally wrapped in a length+timestamp envelope); audio
// samples are written verbatim.
package relay

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/babelcloud/screenrelay/internal/media"
	"github.com/babelcloud/screenrelay/internal/observe"
	"github.com/babelcloud/screenrelay/internal/pipeline"
	"github.com/babelcloud/screenrelay/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultPollInterval is how long the send loop sleeps when its channel is
// empty before polling again.
const DefaultPollInterval = time.Millisecond

const maxAcceptDelay = time.Second

var errNotBound = errors.New("relay server is not bound")

// Options configures a Server.
type Options struct {
	Kind    media.MediaKind
	Addr    string
	Channel *pipeline.Channel

	// IncludeHeader prefixes every video frame with the 12-byte
	// length+timestamp envelope. Ignored for audio.
	IncludeHeader bool

	// State, when set, is raised while a client is being served.
	State *pipeline.ConnectionState

	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *observe.Metrics

	// Now supplies envelope timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Server relays one media kind to one TCP client at a time.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	active   net.Conn
	stopped  bool
	stop     chan struct{}
}

type outcome int

const (
	clientGone outcome = iota
	upstreamFailed
	channelClosed
	serverStopped
)

// New creates a server. Bind must be called before Run.
func New(opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Server{
		opts:   opts,
		logger: logger.With("kind", opts.Kind.String()),
		stop:   make(chan struct{}),
	}
}

// Bind opens the TCP listener. Failure is fatal for this server.
func (s *Server) Bind() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind %s server to %s", s.opts.Kind, s.opts.Addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts and serves clients one at a time. It returns nil once the
// channel has been closed by its producer or the server has been closed;
// accept errors are logged and do not stop the loop.
func (s *Server) Run() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errNotBound
	}

	port := 0
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	s.logger.Info("Relay server started", "port", port)

	// A closed channel ends the server even when nobody is connected.
	go func() {
		select {
		case <-s.opts.Channel.Done():
			ln.Close()
		case <-s.stop:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("Relay server stopped")
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.Error("Connection error", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		switch s.serve(conn) {
		case channelClosed, serverStopped:
			ln.Close()
			s.logger.Info("Relay server stopped")
			return nil
		}
	}
}

// Close stops the accept loop and drops the current client, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stop)
	if s.active != nil {
		s.active.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) setActive(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.active = conn
	return true
}

func (s *Server) isStopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Server) serve(conn net.Conn) outcome {
	ctx := context.Background()
	kindAttr := observe.KindAttr(s.opts.Kind)
	logger := s.logger.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())

	defer conn.Close()
	if !s.setActive(conn) {
		return serverStopped
	}
	defer s.setActive(nil)

	logger.Info("New connection")
	s.opts.Metrics.Connections.Add(ctx, 1, kindAttr)
	s.opts.Metrics.ActiveClients.Add(ctx, 1, kindAttr)
	defer s.opts.Metrics.ActiveClients.Add(ctx, -1, kindAttr)

	if s.opts.State != nil {
		// The producer only emits while a client is attached, so anything
		// still queued was meant for the previous client.
		s.discardBacklog(logger)
		s.opts.State.Set(true)
		defer s.opts.State.Set(false)
	}

	ch := s.opts.Channel
	for {
		r, status := ch.TryRecv()
		switch status {
		case pipeline.StatusEmpty:
			if s.isStopped() {
				return serverStopped
			}
			time.Sleep(s.opts.PollInterval)
			continue
		case pipeline.StatusClosed:
			logger.Info("Channel closed, no more data for this or future connections")
			return channelClosed
		}

		if r.Err != nil {
			s.opts.Metrics.UpstreamErrors.Add(ctx, 1, kindAttr)
			logger.Error("Upstream error, ending connection", "error", r.Err)
			return upstreamFailed
		}

		frame, err := s.frame(r.Sample)
		if err != nil {
			s.opts.Metrics.FramingErrors.Add(ctx, 1, kindAttr)
			logger.Warn("Skipping malformed sample", "error", err)
			continue
		}
		if len(frame) == 0 {
			continue
		}

		if _, err := conn.Write(frame); err != nil {
			if s.isStopped() {
				return serverStopped
			}
			logger.Info("Connection closed", "reason", err)
			return clientGone
		}
		s.opts.Metrics.RecordFrame(ctx, s.opts.Kind, len(frame))
	}
}

func (s *Server) discardBacklog(logger *slog.Logger) {
	dropped := 0
	for {
		r, status := s.opts.Channel.TryRecv()
		if status != pipeline.StatusItem {
			break
		}
		if r.Err != nil {
			logger.Debug("Dropping stale upstream error", "error", r.Err)
		}
		dropped++
	}
	if dropped > 0 {
		logger.Debug("Discarded results queued for a previous client", "count", dropped)
	}
}

// frame renders one sample into the bytes written for it. An empty result
// means nothing should be sent.
func (s *Server) frame(sample *media.SampleBuffer) ([]byte, error) {
	if sample == nil {
		return nil, nil
	}
	if s.opts.Kind == media.Audio {
		if sample.Kind() != media.Audio {
			return nil, errors.Errorf("unexpected %s sample on audio channel", sample.Kind())
		}
		return sample.SampleData(), nil
	}

	if !s.opts.IncludeHeader {
		return media.Reframe(sample)
	}
	out, err := media.AppendReframed(make([]byte, media.EnvelopeHeaderSize), sample)
	if err != nil {
		return nil, err
	}
	payload := len(out) - media.EnvelopeHeaderSize
	if payload == 0 {
		return nil, nil
	}
	media.PutEnvelopeHeader(out, payload, s.opts.Now())
	return out, nil
}
