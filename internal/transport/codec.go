// Package transport carries TimedMessages over TCP.
//
// Frames are newline-delimited JSON objects, one message per line. A Pool
// keeps one lazily dialed outbound connection per peer and drops it after
// a failed write so the next send re-dials. A Server accepts inbound
// connections and runs one read loop per connection. Client opens a fresh
// connection per message for the log collector side channel.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/msgpass/internal/message"
)

// maxFrame bounds a single encoded message.
const maxFrame = 1 << 20

// Encoder writes framed messages.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one frame and flushes it.
func (e *Encoder) Encode(m message.TimedMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) > maxFrame {
		return fmt.Errorf("encode message: frame of %d bytes exceeds %d", len(data), maxFrame)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads framed messages.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxFrame+1)
	return &Decoder{s: s}
}

// Decode reads the next frame. It returns io.EOF when the peer closed the
// stream between frames.
func (d *Decoder) Decode() (message.TimedMessage, error) {
	for d.s.Scan() {
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		var m message.TimedMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return message.TimedMessage{}, &FrameError{Err: err}
		}
		return m, nil
	}
	if err := d.s.Err(); err != nil {
		return message.TimedMessage{}, err
	}
	return message.TimedMessage{}, io.EOF
}

// FrameError reports a frame that is not a valid message. The stream
// itself is still usable.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string { return "malformed frame: " + e.Err.Error() }

func (e *FrameError) Unwrap() error { return e.Err }

// IsFrameError reports whether err is a FrameError.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
