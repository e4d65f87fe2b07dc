package pipeline

import "sync/atomic"

// ConnectionState is a single shared flag: true while a relay client is
// attached. Exactly one relay server writes it; any number of readers poll
// it.
type ConnectionState struct {
	connected atomic.Bool
}

func NewConnectionState() *ConnectionState {
	return &ConnectionState{}
}

func (s *ConnectionState) Set(connected bool) {
	s.connected.Store(connected)
}

func (s *ConnectionState) Connected() bool {
	return s.connected.Load()
}
