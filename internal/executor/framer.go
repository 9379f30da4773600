package executor

import (
	"bytes"
	"encoding/json"
)

// maxPayloadSize caps how large a single framed payload may grow before it
// is cut regardless of boundaries (1MB). Oversized cuts fail downstream
// validation and are discarded rather than repaired.
const maxPayloadSize = 1024 * 1024

// defaultFlushThreshold is how much buffered prose accumulates before it is
// flushed as one payload even without a paragraph break.
const defaultFlushThreshold = 4096

// Framer accumulates raw bytes from one run and cuts them into complete
// payloads at the agent's output boundaries. Framers are stateful and
// single-run; the pipeline creates one per invocation via NewFramer.
type Framer interface {
	// Feed consumes the next chunk of raw bytes and returns zero or more
	// complete payloads.
	Feed(p []byte) [][]byte
	// Flush drains whatever remains buffered at end of stream.
	Flush() [][]byte
}

// lineFramer cuts on newlines: one non-blank line, one payload. Used by
// agents that emit single-line NDJSON streams.
type lineFramer struct {
	buf bytes.Buffer
}

// NewLineFramer returns a framer for newline-delimited output.
func NewLineFramer() Framer {
	return &lineFramer{}
}

func (f *lineFramer) Feed(p []byte) [][]byte {
	f.buf.Write(p)
	var out [][]byte
	for {
		data := f.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(data[:idx])
		if len(line) > 0 {
			out = append(out, append([]byte(nil), line...))
		}
		f.buf.Next(idx + 1)
	}
	return out
}

func (f *lineFramer) Flush() [][]byte {
	line := bytes.TrimSpace(f.buf.Bytes())
	f.buf.Reset()
	if len(line) == 0 {
		return nil
	}
	return [][]byte{append([]byte(nil), line...)}
}

// braceFramer cuts on top-level JSON object boundaries by tracking brace
// depth, aware of strings and escapes. Required for agents that emit
// pretty-printed, multi-line JSON objects with no line framing. Bytes
// between objects are discarded. If a single object grows past maxBuffer
// the buffer is emitted as-is so downstream validation can reject it,
// rather than accumulating without bound.
type braceFramer struct {
	buf       bytes.Buffer
	depth     int
	inString  bool
	escaped   bool
	started   bool
	maxBuffer int
}

// NewBraceFramer returns a framer for pretty-printed JSON object streams.
func NewBraceFramer(maxBuffer int) Framer {
	return &braceFramer{maxBuffer: maxBuffer}
}

func (f *braceFramer) Feed(p []byte) [][]byte {
	var out [][]byte
	for _, b := range p {
		if !f.started {
			if b != '{' {
				continue
			}
			f.started = true
			f.depth = 1
			f.buf.WriteByte(b)
			continue
		}

		f.buf.WriteByte(b)

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
		} else {
			switch b {
			case '"':
				f.inString = true
			case '{', '[':
				f.depth++
			case '}', ']':
				f.depth--
			}
			if f.depth == 0 {
				out = append(out, f.take())
			}
		}

		if f.started && f.maxBuffer > 0 && f.buf.Len() > f.maxBuffer {
			out = append(out, f.take())
		}
	}
	return out
}

func (f *braceFramer) take() []byte {
	payload := append([]byte(nil), f.buf.Bytes()...)
	f.buf.Reset()
	f.depth = 0
	f.inString = false
	f.escaped = false
	f.started = false
	return payload
}

func (f *braceFramer) Flush() [][]byte {
	if f.buf.Len() == 0 {
		return nil
	}
	return [][]byte{f.take()}
}

// proseFramer wraps free-form text as structured message payloads, one per
// paragraph. Used for agents that emit markdown prose with no structured
// framing at all. A buffer that passes threshold without a paragraph break
// is flushed as one payload so long uninterrupted output still produces
// activity.
type proseFramer struct {
	buf       bytes.Buffer
	threshold int
}

// NewProseFramer returns a framer that wraps each paragraph of free-form
// output as one structured payload.
func NewProseFramer(threshold int) Framer {
	return &proseFramer{threshold: threshold}
}

// wrapMessage encodes a paragraph of agent prose as a structured payload.
func wrapMessage(text string) []byte {
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "message", Text: text})
	return payload
}

// paragraphBreak locates the first blank-line separator in data, tolerating
// CRLF line endings (a pty translates the child's \n to \r\n). Returns the
// end of the current paragraph and the start of the next, or -1 when the
// buffer holds no complete separator yet.
func paragraphBreak(data []byte) (end, next int) {
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(data) && data[j] == '\r' {
			j++
		}
		if j < len(data) && data[j] == '\n' {
			return i, j + 1
		}
	}
	return -1, -1
}

// normalizeProse strips CRLF artifacts and surrounding whitespace from one
// paragraph.
func normalizeProse(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.TrimSpace(b)
}

func (f *proseFramer) Feed(p []byte) [][]byte {
	f.buf.Write(p)
	var out [][]byte
	for {
		data := f.buf.Bytes()
		end, next := paragraphBreak(data)
		if end < 0 {
			break
		}
		if para := normalizeProse(data[:end]); len(para) > 0 {
			out = append(out, wrapMessage(string(para)))
		}
		f.buf.Next(next)
	}
	if f.threshold > 0 && f.buf.Len() > f.threshold {
		para := normalizeProse(f.buf.Bytes())
		f.buf.Reset()
		if len(para) > 0 {
			out = append(out, wrapMessage(string(para)))
		}
	}
	return out
}

func (f *proseFramer) Flush() [][]byte {
	para := normalizeProse(f.buf.Bytes())
	f.buf.Reset()
	if len(para) == 0 {
		return nil
	}
	return [][]byte{wrapMessage(string(para))}
}

// bodyFramer treats the entire stream as one payload. Used for the api
// executor, whose response is a single JSON document.
type bodyFramer struct {
	buf bytes.Buffer
}

// NewBodyFramer returns a framer that emits the whole stream as one payload
// at end of stream.
func NewBodyFramer() Framer {
	return &bodyFramer{}
}

func (f *bodyFramer) Feed(p []byte) [][]byte {
	f.buf.Write(p)
	return nil
}

func (f *bodyFramer) Flush() [][]byte {
	body := bytes.TrimSpace(f.buf.Bytes())
	f.buf.Reset()
	if len(body) == 0 {
		return nil
	}
	return [][]byte{append([]byte(nil), body...)}
}
