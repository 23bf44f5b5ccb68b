package process

import (
	"bytes"
	"sync"
)

// Logs is a snapshot of a process's captured output.
type Logs struct {
	Stdout string
	Stderr string
	// Combined holds both streams interleaved in the order they were written.
	Combined string
}

// logCapture collects stdout and stderr of one process.
type logCapture struct {
	mu       sync.RWMutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	combined bytes.Buffer
}

func newLogCapture() *logCapture {
	return &logCapture{}
}

type streamWriter struct {
	lc     *logCapture
	stream *bytes.Buffer
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.lc.mu.Lock()
	defer w.lc.mu.Unlock()
	w.stream.Write(p)
	w.lc.combined.Write(p)
	return len(p), nil
}

func (lc *logCapture) stdoutWriter() streamWriter {
	return streamWriter{lc: lc, stream: &lc.stdout}
}

func (lc *logCapture) stderrWriter() streamWriter {
	return streamWriter{lc: lc, stream: &lc.stderr}
}

func (lc *logCapture) logs() Logs {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return Logs{
		Stdout:   lc.stdout.String(),
		Stderr:   lc.stderr.String(),
		Combined: lc.combined.String(),
	}
}
