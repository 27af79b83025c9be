package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// csvBuilder buffers a CSV document; the first write error sticks.
type csvBuilder struct {
	buf    bytes.Buffer
	writer *csv.Writer
	err    error
}

func newCSV(headers ...string) *csvBuilder {
	b := &csvBuilder{}
	b.writer = csv.NewWriter(&b.buf)
	b.row(headers...)
	return b
}

func (b *csvBuilder) row(fields ...string) {
	if b.err != nil {
		return
	}
	if err := b.writer.Write(fields); err != nil {
		b.err = fmt.Errorf("failed to write row: %w", err)
	}
}

func (b *csvBuilder) reader() (io.Reader, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.writer.Flush()
	if err := b.writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return &b.buf, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', 2, 32)
}
