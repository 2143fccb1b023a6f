// Package recording stores the raw messages exchanged with the kernel so
// that sessions can be replayed later on.
//
// A recording is a plain sequence of records:
//
//	+-----------------+-----------------+------------------------+
//	| timestamp (u32) | length (u32)    | length bytes of payload |
//	+-----------------+-----------------+------------------------+
//
// Timestamps are UNIX seconds truncated to 32 bits and both integers are
// little endian so that recordings are portable across hosts. Payloads are
// the wire messages exactly as sent or received.
package recording

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const recordHeaderSize int = 8

// MaxPayloadSize guards against garbage length fields.
const MaxPayloadSize uint32 = 1 << 16

var fileOrder = binary.LittleEndian

type Record struct {
	Timestamp uint32
	Payload   []byte
}

// Time returns the record's timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0)
}

type Writer struct {
	w   *bufio.Writer
	c   io.Closer
	hdr [recordHeaderSize]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Create truncates or creates the file at path and returns a Writer
// appending records to it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating recording %q: %w", path, err)
	}
	return &Writer{w: bufio.NewWriter(f), c: f}, nil
}

func (w *Writer) Write(ts time.Time, payload []byte) error {
	fileOrder.PutUint32(w.hdr[0:], uint32(ts.Unix()))
	fileOrder.PutUint32(w.hdr[4:], uint32(len(payload)))

	if _, err := w.w.Write(w.hdr[:]); err != nil {
		return fmt.Errorf("error writing record header: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("error writing record payload: %w", err)
	}
	return nil
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Close flushes pending records and closes the underlying file, if any.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record. It returns io.EOF once the recording is
// exhausted and io.ErrUnexpectedEOF if it ends halfway through a record.
func (r *Reader) Next() (Record, error) {
	hdr := [recordHeaderSize]byte{}
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("error reading record header: %w", err)
	}

	rec := Record{Timestamp: fileOrder.Uint32(hdr[0:])}

	n := fileOrder.Uint32(hdr[4:])
	if n > MaxPayloadSize {
		return Record{}, fmt.Errorf("record claims a %d byte payload", n)
	}

	rec.Payload = make([]byte, n)
	if _, err := io.ReadFull(r.r, rec.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, fmt.Errorf("error reading record payload: %w", err)
	}

	return rec, nil
}
