package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/babelcloud/screenrelay/config"
	"github.com/babelcloud/screenrelay/internal/device"
	"github.com/babelcloud/screenrelay/internal/media"
	"github.com/babelcloud/screenrelay/internal/observe"
	"github.com/babelcloud/screenrelay/internal/pipeline"
	"github.com/babelcloud/screenrelay/internal/relay"
	"github.com/babelcloud/screenrelay/internal/session"
	"github.com/babelcloud/screenrelay/internal/session/scrcpy"
	"github.com/babelcloud/screenrelay/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// runRelay wires a device session to the video and audio relay servers and
// blocks until every server has stopped. Errors returned from here are
// setup failures.
func runRelay(ctx context.Context, cfg config.Config) error {
	logger := util.GetLogger()
	if path := config.ConfigFileUsed(); path != "" {
		logger.Debug("Loaded config file", "path", path)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		shutdown, err := observe.InitProvider()
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	manager, err := device.NewManager(cfg.AdbPort)
	if err != nil {
		return err
	}
	info, err := manager.Resolve(cfg.UDID)
	if err != nil {
		return err
	}
	logger.Info("Using device", "serial", info.Serial, "model", info.Model, "connection", info.ConnectionType)

	sinks := session.Sinks{Video: pipeline.NewChannel(media.Video, cfg.ChannelCapacity)}
	if !cfg.NoAudio {
		sinks.Audio = pipeline.NewChannel(media.Audio, cfg.ChannelCapacity)
		sinks.AudioGate = pipeline.NewConnectionState()
	}

	sess := scrcpy.New(scrcpy.Options{
		Serial:        info.Serial,
		Device:        manager.Device(info.Serial),
		AdbPath:       cfg.AdbPath,
		ServerPath:    cfg.ServerPath,
		Version:       cfg.ServerVersion,
		VideoBitRate:  cfg.VideoBitRate,
		MaxSize:       cfg.MaxSize,
		AcceptTimeout: cfg.AcceptTimeout,
		LogLevel:      serverLogLevel(cfg.Verbose),
	}, sinks)
	if err := sess.Init(ctx); err != nil {
		return errors.Wrap(err, "failed to initialize device session")
	}
	defer sess.Close()

	servers := []*relay.Server{relay.New(relay.Options{
		Kind:          media.Video,
		Addr:          cfg.VideoAddr(),
		Channel:       sinks.Video,
		IncludeHeader: cfg.IncludeHeader,
		PollInterval:  cfg.PollInterval,
	})}
	if sinks.Audio != nil {
		servers = append(servers, relay.New(relay.Options{
			Kind:         media.Audio,
			Addr:         cfg.AudioAddr(),
			Channel:      sinks.Audio,
			State:        sinks.AudioGate,
			PollInterval: cfg.PollInterval,
		}))
	}
	for _, srv := range servers {
		defer srv.Close()
		if err := srv.Bind(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observe.Serve(runCtx, cfg.MetricsAddr); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	gone := manager.WatchGone(runCtx, info.Serial)
	go func() {
		select {
		case <-gone:
			if runCtx.Err() == nil {
				logger.Warn("Device disconnected, stopping capture", "serial", info.Serial)
				sess.Close()
			}
		case <-runCtx.Done():
		}
	}()

	// Servers keep draining their channels after the session ends; only a
	// signal stops them early.
	context.AfterFunc(ctx, func() {
		logger.Info("Shutting down")
		for _, srv := range servers {
			srv.Close()
		}
	})

	var g errgroup.Group
	g.Go(func() error {
		if err := sess.Run(runCtx); err != nil {
			logger.Error("Device session ended with error", "error", err)
		} else {
			logger.Info("Device session ended")
		}
		return nil
	})
	for _, srv := range servers {
		g.Go(srv.Run)
	}
	return g.Wait()
}

func serverLogLevel(verbose bool) string {
	if verbose {
		return "debug"
	}
	return scrcpy.DefaultLogLevel
}
