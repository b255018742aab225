package checkpoint

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Compression selects how checkpoint files are written.
type Compression int

// Supported compressions.
const (
	None Compression = iota
	Gzip
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// ParseCompression parses "none" or "gzip".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	}
	return None, fmt.Errorf("unknown checkpoint compression %q", s)
}

var gzipMagic = []byte{0x1f, 0x8b}

type writeStack struct {
	io.Writer
	closers []io.Closer
}

func (s *writeStack) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type readStack struct {
	io.Reader
	closers []io.Closer
}

func (s *readStack) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Create opens path for writing with the given compression.
func Create(path string, c Compression) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	switch c {
	case None:
		return &writeStack{Writer: f, closers: []io.Closer{f}}, nil
	case Gzip:
		zw := gzip.NewWriter(f)
		return &writeStack{Writer: zw, closers: []io.Closer{zw, f}}, nil
	}

	f.Close()
	return nil, fmt.Errorf("create %s: unsupported %s", path, c)
}

// Open opens path for reading. Gzip-compressed files are recognized by their
// leading magic bytes.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	head, err := br.Peek(len(gzipMagic))
	if err == nil && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return &readStack{Reader: zr, closers: []io.Closer{zr, f}}, nil
	}

	return &readStack{Reader: br, closers: []io.Closer{f}}, nil
}

// SaveFile creates path and lets write fill it. Errors carry the file name.
func SaveFile(path string, c Compression, write func(io.Writer) error) error {
	w, err := Create(path, c)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	if err := write(w); err != nil {
		w.Close()
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return nil
}

// LoadFile opens path and lets read consume it. Errors carry the file name.
func LoadFile(path string, read func(io.Reader) error) error {
	r, err := Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	defer r.Close()

	if err := read(r); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return nil
}
