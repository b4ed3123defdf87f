package trace

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/packet"
)

const maxJSONLine = 256 << 20

// JSONWriter writes one call document per line.
type JSONWriter struct {
	w  *bufio.Writer
	pr *packet.Projector
}

func NewJSONWriter(w io.Writer, pr *packet.Projector) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), pr: pr}
}

func (j *JSONWriter) Write(p *packet.Packet) error {
	b, err := j.pr.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

func (j *JSONWriter) Flush() error { return j.w.Flush() }

// JSONOption configures a JSONReader.
type JSONOption func(*JSONReader)

// WithFuncs keeps only documents whose "func" is one of names. Other lines
// are skipped without being parsed.
func WithFuncs(names ...string) JSONOption {
	return func(r *JSONReader) {
		if len(names) == 0 {
			return
		}
		r.funcs = make(map[string]bool, len(names))
		for _, n := range names {
			r.funcs[n] = true
		}
	}
}

// WithContext keeps only documents recorded on one context.
func WithContext(ctx uint64) JSONOption {
	return func(r *JSONReader) { r.ctx = &ctx }
}

// JSONReader parses a JSON-lines trace back into packets.
type JSONReader struct {
	sc    *bufio.Scanner
	pr    *packet.Projector
	funcs map[string]bool
	ctx   *uint64
	line  int
}

func NewJSONReader(r io.Reader, pr *packet.Projector, opts ...JSONOption) *JSONReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxJSONLine)
	jr := &JSONReader{sc: sc, pr: pr}
	for _, opt := range opts {
		opt(jr)
	}
	return jr
}

// Line is the number of the last line read.
func (j *JSONReader) Line() int { return j.line }

// Next returns the next matching packet, or io.EOF.
func (j *JSONReader) Next() (*packet.Packet, error) {
	for j.sc.Scan() {
		j.line++
		b := bytes.TrimSpace(j.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if !gjson.ValidBytes(b) {
			return nil, fmt.Errorf("line %d: invalid json: %w", j.line, core.ErrBadDocument)
		}
		if !j.keep(b) {
			continue
		}
		p, err := j.pr.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", j.line, err)
		}
		return p, nil
	}
	if err := j.sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", j.line+1, err)
	}
	return nil, io.EOF
}

func (j *JSONReader) keep(b []byte) bool {
	if j.funcs != nil && !j.funcs[gjson.GetBytes(b, "func").String()] {
		return false
	}
	if j.ctx != nil && gjson.GetBytes(b, "context").Uint() != *j.ctx {
		return false
	}
	return true
}
