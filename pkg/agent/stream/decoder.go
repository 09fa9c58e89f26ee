// Package stream splits the agent's stdout into JSON documents and decodes
// them into typed events.
package stream

import (
	"bytes"
	"encoding/json"
)

// Decoder turns arbitrary stdout chunks into complete JSON documents.
// Feed may be called with any split of the byte stream; documents are
// returned in stream order.
type Decoder interface {
	Feed(chunk []byte) []json.RawMessage
	// Flush returns whatever can still be parsed once the stream has ended.
	Flush() []json.RawMessage
}

// NewDecoder returns the decoder for a parse mode ("lines" or "braces").
func NewDecoder(mode string) Decoder {
	if mode == "braces" {
		return &BraceDecoder{}
	}
	return &LineDecoder{}
}

// LineDecoder handles newline-delimited JSON. Lines that do not parse are
// log noise and are dropped.
type LineDecoder struct {
	buf []byte
}

// Feed implements Decoder.
func (d *LineDecoder) Feed(chunk []byte) []json.RawMessage {
	d.buf = append(d.buf, chunk...)

	var out []json.RawMessage
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if doc, ok := parseDocument(line); ok {
			out = append(out, doc)
		}
	}
	// Give back consumed capacity once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush implements Decoder.
func (d *LineDecoder) Flush() []json.RawMessage {
	rest := d.buf
	d.buf = nil
	if doc, ok := parseDocument(rest); ok {
		return []json.RawMessage{doc}
	}
	return nil
}

// BraceDecoder finds documents by counting '{' and '}' depth.
//
// It is not string-aware: a brace inside a string literal counts like any
// other. Balanced braces in echoed source code still produce correct spans.
// An unbalanced brace inside a string can make a span fail to parse; the
// buffer is then left as is until more input arrives. This is a known
// approximation of a real tokenizer, kept for output that is not reliably
// newline-delimited.
type BraceDecoder struct {
	buf []byte
}

// Feed implements Decoder.
func (d *BraceDecoder) Feed(chunk []byte) []json.RawMessage {
	d.buf = append(d.buf, chunk...)

	var out []json.RawMessage
	for {
		start := bytes.IndexByte(d.buf, '{')
		if start < 0 {
			// Nothing can start a document; drop the noise.
			d.buf = nil
			break
		}

		end := balancedEnd(d.buf[start:])
		if end < 0 {
			// Drop leading noise but keep the open span.
			d.buf = d.buf[start:]
			break
		}

		span := d.buf[start : start+end]
		doc, ok := parseDocument(span)
		if !ok {
			d.buf = d.buf[start:]
			break
		}
		out = append(out, doc)
		d.buf = d.buf[start+end:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush implements Decoder.
func (d *BraceDecoder) Flush() []json.RawMessage {
	d.buf = nil
	return nil
}

// Pending reports how many bytes are held back waiting for more input.
func (d *BraceDecoder) Pending() int {
	return len(d.buf)
}

// balancedEnd returns the length of the prefix of b (which starts with '{')
// at which depth returns to zero, or -1 when it never does.
func balancedEnd(b []byte) int {
	depth := 0
	for i, c := range b {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func parseDocument(b []byte) (json.RawMessage, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, false
	}
	if !json.Valid(b) {
		return nil, false
	}
	doc := make(json.RawMessage, len(b))
	copy(doc, b)
	return doc, true
}
