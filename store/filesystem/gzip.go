package filesystem

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/mdpipe/mdcache/store"
)

// codec compresses entries. Built lazily on the first write or read and
// reused for the lifetime of the store.
type codec struct {
	writers sync.Pool
}

func newCodec() *codec {
	c := &codec{}
	c.writers.New = func() any {
		zw, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return zw
	}
	return c
}

func (c *codec) compress(w io.Writer, data []byte) error {
	zw := c.writers.Get().(*gzip.Writer)
	defer c.writers.Put(zw)
	zw.Reset(w)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	return zw.Close()
}

// decompress reads a whole gzip stream. Format errors are reported as
// store.ErrCorrupt; errors from r itself are returned as-is.
func (c *codec) decompress(r io.Reader) ([]byte, error) {
	cr := &countingReader{r: r}
	zr, err := gzip.NewReader(cr)
	if err != nil {
		return nil, c.classify(cr, err)
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, c.classify(cr, err)
	}
	return buf.Bytes(), nil
}

func (c *codec) classify(cr *countingReader, err error) error {
	if cr.err != nil && !errors.Is(cr.err, io.EOF) {
		return cr.err
	}
	return errors.Join(store.ErrCorrupt, err)
}

// countingReader remembers the first non-nil error from the underlying file so
// I/O failures are not mistaken for corruption.
type countingReader struct {
	r   io.Reader
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
