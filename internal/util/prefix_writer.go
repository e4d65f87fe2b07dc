package util

import (
	"bytes"
	"log/slog"
	"sync"
)

// PrefixLogWriter turns line-oriented process output into debug log
// records tagged with a source prefix.
type PrefixLogWriter struct {
	prefix string
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewPrefixLogWriter returns a writer that logs each complete line.
func NewPrefixLogWriter(prefix string) *PrefixLogWriter {
	return &PrefixLogWriter{prefix: prefix, logger: GetLogger()}
}

func (w *PrefixLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.Reset()
			w.buf.Write(line)
			break
		}
		if trimmed := bytes.TrimRight(line, "\r\n"); len(trimmed) > 0 {
			w.logger.Debug(string(trimmed), "source", w.prefix)
		}
	}
	return len(p), nil
}
