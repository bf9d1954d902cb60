package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxLineLength bounds a single command line so a peer that never sends a
	// newline cannot grow the buffer forever.
	MaxLineLength = 64 * 1024

	// MaxPayloadLength bounds a declared payload continuation.
	MaxPayloadLength = 1024 * 1024
)

var (
	ErrEmptyCommand         = errors.New("Command is malformed, it appears to be empty")
	ErrMissingPayloadLength = errors.New("Command declares a payload but is missing its length")
	ErrInvalidPayloadLength = errors.New("Command declares a payload with a non numeric or negative length")
	ErrLineTooLong          = errors.New("Command line exceeds the maximum line length")
	ErrPayloadTooLarge      = errors.New("Command payload exceeds the maximum payload length")
)

// PayloadLengthFunc reports whether cmd is followed by a payload continuation
// and how many bytes it holds.
type PayloadLengthFunc func(cmd *Command) (n int, ok bool, err error)

// payloadVerbs carry their byte count in their last parameter.
var payloadVerbs = map[Verb]struct{}{
	MSG: {},
	NOT: {},
	IPG: {},
	GCF: {},
	UBX: {},
	UUX: {},
}

// DefaultPayloadLength implements the convention used by every server role:
// payload verbs put the byte count in their last parameter.
func DefaultPayloadLength(cmd *Command) (int, bool, error) {
	if _, ok := payloadVerbs[cmd.Verb]; !ok {
		return 0, false, nil
	}

	if len(cmd.Params) == 0 {
		return 0, true, fmt.Errorf("Failed to parse '%s': %w", cmd.Verb, ErrMissingPayloadLength)
	}

	raw := cmd.Params[len(cmd.Params)-1]
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, true, fmt.Errorf("Failed to parse '%s' length '%s': %w", cmd.Verb, raw, ErrInvalidPayloadLength)
	}

	if n > MaxPayloadLength {
		return 0, true, fmt.Errorf("Failed to parse '%s' length %d: %w", cmd.Verb, n, ErrPayloadTooLarge)
	}

	return n, true, nil
}

// Decoder turns a byte stream into Commands. Bytes are appended with Write as
// they arrive from the socket, in chunks of any size, and complete commands
// are pulled with Next. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte

	// pending is the command whose payload is still being accumulated.
	pending *Command
	need    int

	payloadLength PayloadLengthFunc
}

func NewDecoder(payloadLength PayloadLengthFunc) *Decoder {
	if payloadLength == nil {
		payloadLength = DefaultPayloadLength
	}

	return &Decoder{payloadLength: payloadLength}
}

// Write buffers p. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes received but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete command. It returns (nil, nil) when more
// bytes are required, in which case it can be called again after the next
// Write. Errors are protocol errors; the stream cannot be resumed after one.
func (d *Decoder) Next() (*Command, error) {
	for {
		if d.pending != nil {
			if len(d.buf) < d.need {
				return nil, nil
			}

			cmd := d.pending
			cmd.Payload = make([]byte, d.need)
			copy(cmd.Payload, d.buf[:d.need])
			d.consume(d.need)

			d.pending = nil
			d.need = 0

			return cmd, nil
		}

		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			if len(d.buf) > MaxLineLength {
				return nil, ErrLineTooLong
			}

			return nil, nil
		}

		if idx > MaxLineLength {
			return nil, ErrLineTooLong
		}

		line := string(d.buf[:idx])
		d.consume(idx + 1)

		if line == "" || line == "\r" {
			// Stray blank lines between commands are tolerated
			continue
		}

		cmd, err := ParseLine(line)
		if err != nil {
			return nil, err
		}

		n, ok, err := d.payloadLength(cmd)
		if err != nil {
			return nil, err
		}

		if !ok {
			return cmd, nil
		}

		d.pending = cmd
		d.need = n
	}
}

func (d *Decoder) consume(n int) {
	rest := len(d.buf) - n
	if rest == 0 {
		d.buf = d.buf[:0]
		return
	}

	copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

// ParseLine tokenises a single command line, without its newline, on single
// spaces into a verb and its parameters.
func ParseLine(line string) (*Command, error) {
	line = string(RemoveTrailingCR([]byte(line)))
	if line == "" {
		return nil, ErrEmptyCommand
	}

	parts := strings.Split(line, " ")
	if parts[0] == "" {
		return nil, fmt.Errorf("Failed to parse '%s': %w", line, ErrEmptyCommand)
	}

	cmd := &Command{Verb: Verb(parts[0])}
	if len(parts) > 1 {
		cmd.Params = parts[1:]
	}

	return cmd, nil
}

func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		return data[:len(data)-1]
	}

	return data
}
