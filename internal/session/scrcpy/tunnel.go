package scrcpy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/babelcloud/screenrelay/internal/util"
	adb "github.com/basiooo/goadb"
	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
)

// RemoteServerPath is where the server jar lives on the device.
const RemoteServerPath = "/data/local/tmp/scrcpy-server.jar"

// tunnel starts the capture server on the device and accepts its sockets
// over an adb reverse forward.
type tunnel struct {
	opts   Options
	device *adb.Device
	logger *slog.Logger

	scid     string
	listener net.Listener
	cmd      *exec.Cmd
}

// newSCID returns a random 31-bit session id in the 8 hex digit form the
// server expects.
func newSCID() string {
	return uniuri.NewLenChars(1, []byte("01234567")) + uniuri.NewLenChars(7, []byte("0123456789abcdef"))
}

func socketName(scid string) string {
	return "scrcpy_" + scid
}

func buildServerArgs(opts Options, scid string) []string {
	args := []string{
		"CLASSPATH=" + RemoteServerPath,
		"app_process", "/", "com.genymobile.scrcpy.Server",
		opts.Version, // must match the pushed jar
		"scid=" + scid,
		"tunnel_forward=false",
		"video=true",
		"video_codec=h264",
		"control=false",
		"cleanup=true",
		"send_dummy_byte=false",
		fmt.Sprintf("log_level=%s", opts.LogLevel),
	}
	if opts.Audio {
		args = append(args, "audio=true", "audio_codec=raw")
	} else {
		args = append(args, "audio=false")
	}
	if opts.VideoBitRate > 0 {
		args = append(args, fmt.Sprintf("video_bit_rate=%d", opts.VideoBitRate))
	}
	if opts.MaxSize > 0 {
		args = append(args, fmt.Sprintf("max_size=%d", opts.MaxSize))
	}
	return args
}

// open runs the whole startup sequence and returns the video socket and,
// when audio is enabled, the audio socket.
func (t *tunnel) open(ctx context.Context) (video, audio net.Conn, err error) {
	t.scid = newSCID()
	t.logger = t.logger.With("scid", t.scid)

	if err := t.pushServer(); err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to listen for device connections")
	}
	t.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port

	if err := t.reverse(ctx, port); err != nil {
		return nil, nil, err
	}
	if err := t.startServer(ctx); err != nil {
		return nil, nil, err
	}

	t.logger.Info("Waiting for device to connect", "port", port, "timeout", t.opts.AcceptTimeout)
	deadline := time.Now().Add(t.opts.AcceptTimeout)
	if err := ln.(*net.TCPListener).SetDeadline(deadline); err != nil {
		return nil, nil, errors.Wrap(err, "failed to set accept deadline")
	}

	// The server opens the video socket first, then audio.
	video, err = t.accept("video")
	if err != nil {
		return nil, nil, err
	}
	if t.opts.Audio {
		audio, err = t.accept("audio")
		if err != nil {
			video.Close()
			return nil, nil, err
		}
	}
	ln.(*net.TCPListener).SetDeadline(time.Time{})
	return video, audio, nil
}

func (t *tunnel) accept(name string) (net.Conn, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Errorf("timeout waiting for %s socket after %v", name, t.opts.AcceptTimeout)
		}
		return nil, errors.Wrapf(err, "failed to accept %s socket", name)
	}
	t.logger.Debug("Device socket connected", "socket", name)
	return conn, nil
}

// pushServer copies the local jar when one is configured, then checks the
// device has a jar to run.
func (t *tunnel) pushServer() error {
	if t.opts.ServerPath != "" {
		if err := t.copyJar(t.opts.ServerPath); err != nil {
			return err
		}
	}
	out, err := t.device.RunCommand("ls", RemoteServerPath)
	if err != nil || strings.Contains(out, "No such file") {
		return errors.Errorf("%s not found on device", RemoteServerPath)
	}
	return nil
}

func (t *tunnel) copyJar(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open server jar")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat server jar")
	}

	t.logger.Info("Pushing server jar to device", "path", path, "size", info.Size())
	w, err := t.device.OpenWrite(RemoteServerPath, 0644, info.ModTime())
	if err != nil {
		return errors.Wrap(err, "failed to open remote server jar")
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return errors.Wrap(err, "failed to push server jar")
	}
	return errors.Wrap(w.Close(), "failed to finish pushing server jar")
}

func (t *tunnel) adb(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, t.opts.AdbPath, append([]string{"-s", t.opts.Serial}, args...)...)
}

func (t *tunnel) reverse(ctx context.Context, port int) error {
	local := "localabstract:" + socketName(t.scid)
	t.logger.Debug("Setting up reverse forward", "remote", local, "port", port)
	out, err := t.adb(ctx, "reverse", local, fmt.Sprintf("tcp:%d", port)).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to setup reverse forward: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *tunnel) startServer(ctx context.Context) error {
	t.killServer()

	args := append([]string{"shell"}, buildServerArgs(t.opts, t.scid)...)
	cmd := t.adb(ctx, args...)
	cmd.Stdout = util.NewPrefixLogWriter("[scrcpy-out]")
	cmd.Stderr = util.NewPrefixLogWriter("[scrcpy-err]")

	t.logger.Info("Starting capture server", "version", t.opts.Version)
	t.logger.Debug("Capture server command", "cmd", cmd.String())
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start capture server")
	}
	t.cmd = cmd
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			t.logger.Debug("Capture server exited", "error", err)
		}
	}()
	return nil
}

func (t *tunnel) killServer() {
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd = nil
	}
	if t.device != nil {
		t.device.RunCommand("pkill", "-f", "scrcpy.Server")
	}
}

// close tears down the listener, the server process and the forward.
func (t *tunnel) close() {
	if t.listener != nil {
		t.listener.Close()
	}
	t.killServer()
	if t.scid != "" {
		exec.Command(t.opts.AdbPath, "-s", t.opts.Serial, "reverse", "--remove", "localabstract:"+socketName(t.scid)).Run()
	}
}
