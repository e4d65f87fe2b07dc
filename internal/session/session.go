// Package session defines the boundary between the relay and whatever
// produces decoded media samples from a device.
package session

import (
	"context"

	"github.com/babelcloud/screenrelay/internal/pipeline"
	"github.com/pkg/errors"
)

// ErrCapability is returned by Init when the device cannot provide a
// required stream (video, or audio when requested).
var ErrCapability = errors.New("required capability unavailable")

// Session is a device capture session.
//
// Init performs the handshake and fails if the device is unreachable or
// lacks a required capability. Run captures until the device disconnects,
// an unrecoverable error occurs or ctx ends; as a side effect it pushes one
// result per decoded unit onto the sinks, blocking while a channel is full.
// Both sink channels are closed when Run returns.
type Session interface {
	Init(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

// Sinks are the outputs of a session.
type Sinks struct {
	Video *pipeline.Channel

	// Audio is nil when the audio feed is disabled.
	Audio *pipeline.Channel

	// AudioGate, when set, must report connected before audio samples
	// are produced.
	AudioGate *pipeline.ConnectionState
}

// AudioEnabled reports whether the session should capture audio at all.
func (s Sinks) AudioEnabled() bool { return s.Audio != nil }

// AudioWanted reports whether audio samples should be emitted right now.
func (s Sinks) AudioWanted() bool {
	if s.Audio == nil {
		return false
	}
	return s.AudioGate == nil || s.AudioGate.Connected()
}

// Close closes every channel. It is idempotent.
func (s Sinks) Close() {
	if s.Video != nil {
		s.Video.Close()
	}
	if s.Audio != nil {
		s.Audio.Close()
	}
}
