package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// Format names a corpus encoding.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatMsgpack Format = "msgpack"
	FormatSQLite  Format = "sqlite"
)

// ErrUnknownFormat is returned for a format name Open does not know.
var ErrUnknownFormat = errors.New("unknown corpus format")

// Sink receives records one at a time. Write is not safe for concurrent
// use; callers serialize.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// Open creates a sink. An empty path writes the stream formats to stdout;
// SQLite always needs a path.
func Open(format Format, path string, stdout io.Writer) (Sink, error) {
	switch format {
	case FormatJSONL, "":
		w, closer, err := output(path, stdout)
		if err != nil {
			return nil, err
		}
		return &jsonlSink{w: w, enc: json.NewEncoder(w), closer: closer}, nil
	case FormatMsgpack:
		w, closer, err := output(path, stdout)
		if err != nil {
			return nil, err
		}
		return &msgpackSink{w: w, enc: msgpack.NewEncoder(w), closer: closer}, nil
	case FormatSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite corpus needs an output path")
		}
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func output(path string, stdout io.Writer) (*bufio.Writer, io.Closer, error) {
	if path == "" {
		return bufio.NewWriter(stdout), nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create corpus file: %w", err)
	}
	return bufio.NewWriter(f), f, nil
}

type jsonlSink struct {
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

func (s *jsonlSink) Write(_ context.Context, r Record) error {
	return s.enc.Encode(r)
}

func (s *jsonlSink) Close() error {
	return flushClose(s.w, s.closer)
}

type msgpackSink struct {
	w      *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
}

func (s *msgpackSink) Write(_ context.Context, r Record) error {
	return s.enc.Encode(&r)
}

func (s *msgpackSink) Close() error {
	return flushClose(s.w, s.closer)
}

func flushClose(w *bufio.Writer, c io.Closer) error {
	err := w.Flush()
	if c != nil {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Read decodes every record of a JSONL or msgpack stream.
func Read(format Format, r io.Reader) ([]Record, error) {
	var out []Record
	switch format {
	case FormatJSONL, "":
		dec := json.NewDecoder(r)
		for {
			var rec Record
			if err := dec.Decode(&rec); err != nil {
				if errors.Is(err, io.EOF) {
					return out, nil
				}
				return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
			}
			out = append(out, rec)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bufio.NewReader(r))
		for {
			var rec Record
			if err := dec.Decode(&rec); err != nil {
				if errors.Is(err, io.EOF) {
					return out, nil
				}
				return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
			}
			out = append(out, rec)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Load reads a corpus snapshot from path in any format.
func Load(ctx context.Context, format Format, path string) ([]Record, error) {
	if format == FormatSQLite {
		return LoadSQLite(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(format, f)
}
