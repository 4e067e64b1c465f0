package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufferSize = 4096

// StreamOption configures Stream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	logger  *slog.Logger
	bufSize int
}

// WithStreamLogger sets where dropped records are reported (debug level).
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(o *streamOptions) {
		o.logger = l
	}
}

// WithReadBufferSize sets the size of each read from body.
func WithReadBufferSize(n int) StreamOption {
	return func(o *streamOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// Stream decodes body until it ends, calling onDelta with every non-empty
// content fragment in order. It returns nil when the body ends normally and a
// *TransportError when reading fails. ctx is checked before every read.
func Stream(ctx context.Context, body io.Reader, onDelta func(string), opts ...StreamOption) error {
	o := streamOptions{
		logger:  slog.New(slog.DiscardHandler),
		bufSize: readBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, o.bufSize)
	var lines LineSplitter

	handle := func(line string) {
		rec := ParseRecord(line)
		switch {
		case rec.Kind == RecordParsed && rec.Delta != "":
			onDelta(rec.Delta)
		case rec.Malformed():
			o.logger.Debug("dropped stream record",
				slog.String("kind", rec.Kind.String()),
				slog.Int("length", len(line)),
				slog.String("error", rec.Err.Error()),
			)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return &TransportError{Op: "read", Err: err}
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(string(buf[:n])) {
				handle(line)
			}
		}
		if errors.Is(err, io.EOF) {
			if tail := lines.Flush(); tail != "" {
				handle(tail)
			}
			return nil
		}
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
	}
}
