package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxRecordSize bounds the bytes buffered for a single record
const DefaultMaxRecordSize = 1 << 20

const readChunkSize = 4096

// Decoder is an incremental parser for an event stream. Bytes may arrive in
// arbitrary chunks; partial lines and records are carried over between calls
// to Write and only complete records produce results.
//
// The zero value is ready to use.
type Decoder struct {
	MaxRecordSize int

	line       []byte
	lineLen    int
	data       bytes.Buffer
	hasData    bool
	recordSize int
	tooLarge   bool
	pendingCR  bool
	out        []Result
}

// NewDecoder returns a decoder with the default record size limit
func NewDecoder() *Decoder {
	return &Decoder{MaxRecordSize: DefaultMaxRecordSize}
}

// Write consumes p and returns the results of every record it completed
func (d *Decoder) Write(p []byte) []Result {
	for _, b := range p {
		if d.pendingCR {
			d.pendingCR = false
			if b == '\n' {
				continue
			}
		}
		if b == '\r' {
			d.pendingCR = true
			b = '\n'
		}
		if b == '\n' {
			d.processLine()
			continue
		}
		d.appendByte(b)
	}
	return d.take()
}

// Flush dispatches a trailing record that was not terminated by a blank line.
// It is meant to be called once the stream has ended.
func (d *Decoder) Flush() []Result {
	if d.lineLen > 0 {
		d.processLine()
	}
	d.dispatch()
	d.pendingCR = false
	return d.take()
}

func (d *Decoder) limit() int {
	if d.MaxRecordSize <= 0 {
		return DefaultMaxRecordSize
	}
	return d.MaxRecordSize
}

func (d *Decoder) appendByte(b byte) {
	d.lineLen++
	if d.tooLarge {
		return
	}
	d.recordSize++
	if d.recordSize > d.limit() {
		d.tooLarge = true
		d.line = d.line[:0]
		d.data.Reset()
		return
	}
	d.line = append(d.line, b)
}

func (d *Decoder) processLine() {
	line := string(d.line)
	blank := d.lineLen == 0
	d.line = d.line[:0]
	d.lineLen = 0

	if blank {
		d.dispatch()
		return
	}
	if d.tooLarge || strings.HasPrefix(line, ":") {
		return
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	// event, id and retry carry nothing the chat needs
	if field == "data" {
		d.data.WriteString(value)
		d.data.WriteByte('\n')
		d.hasData = true
	}
}

func (d *Decoder) dispatch() {
	defer d.reset()

	if d.tooLarge {
		d.out = append(d.out, Result{Err: fmt.Errorf("%w: limit %d bytes", ErrRecordTooLarge, d.limit())})
		return
	}
	if !d.hasData {
		return
	}

	raw := strings.TrimSuffix(d.data.String(), "\n")
	// Some servers frame text that is already framed; unwrap one level.
	if nested, ok := strings.CutPrefix(raw, "data:"); ok {
		raw = strings.TrimSpace(nested)
	}

	ev, err := ParsePayload(raw)
	d.out = append(d.out, Result{Event: ev, Raw: raw, Err: err})
}

func (d *Decoder) reset() {
	d.data.Reset()
	d.hasData = false
	d.recordSize = 0
	d.tooLarge = false
}

func (d *Decoder) take() []Result {
	out := d.out
	d.out = nil
	return out
}

// Decode reads r until EOF, calling fn for every decoded record. The trailing
// record is flushed at EOF. Read errors are returned wrapped.
func Decode(ctx context.Context, r io.Reader, fn func(Result)) error {
	d := NewDecoder()
	buf := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, res := range d.Write(buf[:n]) {
				fn(res)
			}
		}

		if errors.Is(err, io.EOF) {
			for _, res := range d.Flush() {
				fn(res)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}
}
