package ioutil

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// FanoutWriter writes every byte to all destinations, each fed through
// its own pipe on its own goroutine so a slow destination does not
// serialize the rest. Close flushes, waits for all copies to finish, and
// reports the first copy error.
func FanoutWriter(writers ...io.Writer) io.WriteCloser {
	if len(writers) == 0 {
		return WriterWithCloser(io.Discard, func() error { return nil })
	}
	if len(writers) == 1 {
		return WithBufferedWrites(writers[0])
	}

	var eg errgroup.Group
	pipeWriters := make([]io.Writer, 0, len(writers))
	pipeEnds := make([]io.Closer, 0, len(writers))
	for _, w := range writers {
		pr, pw := io.Pipe()
		pipeWriters = append(pipeWriters, pw)
		pipeEnds = append(pipeEnds, pw)
		eg.Go(func() error {
			buf := make([]byte, DefaultBufSize)
			_, err := io.CopyBuffer(w, pr, buf)
			if err != nil {
				// Unblock the producer side; its writes fail with err
				// instead of stalling on a dead pipe.
				pr.CloseWithError(err)
			}
			return err
		})
	}

	buffered := WithBufferedWrites(io.MultiWriter(pipeWriters...))
	return WriterWithCloser(buffered, func() error {
		flushErr := buffered.Close()
		closeErr := CloseAll(pipeEnds...)
		copyErr := eg.Wait()
		switch {
		case flushErr != nil:
			return flushErr
		case closeErr != nil:
			return closeErr
		default:
			return copyErr
		}
	})
}
