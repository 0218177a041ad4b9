// Package ioutil carries the io plumbing used by checkpoint writing:
// buffered wrappers, closer composition, and a fan-out writer that
// drives several destinations in parallel.
package ioutil

import (
	"bufio"
	"errors"
	"io"
)

const DefaultBufSize = 64 * 1024 // 64KB

// WithBufferedWrites buffers writes to w. Close flushes the buffer; it
// does not close w.
func WithBufferedWrites(w io.Writer) io.WriteCloser {
	bufw := bufio.NewWriterSize(w, DefaultBufSize)
	return WriterWithCloser(bufw, bufw.Flush)
}

// WithBufferedReads buffers reads from r.
func WithBufferedReads(r io.Reader) io.Reader {
	return bufio.NewReaderSize(r, DefaultBufSize)
}

// WriterWithCloser attaches closer to w.
func WriterWithCloser(w io.Writer, closer func() error) io.WriteCloser {
	return &writeCloser{Writer: w, closer: closer}
}

type writeCloser struct {
	io.Writer
	closer func() error
}

func (wc *writeCloser) Close() error {
	return wc.closer()
}

// CloseAll closes every closer, returning the joined errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
