package recording

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scitags/ntstat-go/transport"
)

// recorder wraps a transport so that every message successfully sent or
// received is appended to a recording. Failing to record a message never
// fails the operation on the wrapped transport.
type recorder struct {
	transport.Transport

	mu     sync.Mutex
	w      *Writer
	now    func() time.Time
	logger *slog.Logger
}

// NewTransport returns a transport recording everything going through t.
// Closing it closes the recording before closing t.
func NewTransport(t transport.Transport, w *Writer, logger *slog.Logger) transport.Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &recorder{Transport: t, w: w, now: time.Now, logger: logger}
}

// IsRecorder reports whether t was returned by NewTransport.
func IsRecorder(t transport.Transport) bool {
	_, ok := t.(*recorder)
	return ok
}

func (r *recorder) record(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.w.Write(r.now(), msg); err != nil {
		r.logger.Warn("error recording message", "err", err)
	}
}

func (r *recorder) Send(msg []byte) error {
	if err := r.Transport.Send(msg); err != nil {
		return err
	}
	r.record(msg)
	return nil
}

func (r *recorder) Receive(buf []byte) (int, error) {
	n, err := r.Transport.Receive(buf)
	if err != nil || n == 0 {
		return n, err
	}
	r.record(buf[:n])
	return n, nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	closeErr := r.w.Close()
	r.mu.Unlock()

	if err := r.Transport.Close(); err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("error closing the recording: %w", closeErr)
	}
	return nil
}
