package checkpoint

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/garethgeorge/govaspace/internal/ioutil"
	"github.com/garethgeorge/govaspace/internal/regionalloc"
)

// WriteFiles writes one checkpoint of a to every path at once through a
// fan-out writer, so replicas are identical byte for byte.
func WriteFiles(a *regionalloc.Allocator, opts Options, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no checkpoint paths given")
	}

	files := make([]*os.File, 0, len(paths))
	writers := make([]io.Writer, 0, len(paths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, path := range paths {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create checkpoint file %s: %w", path, err)
		}
		files = append(files, f)
		writers = append(writers, f)
	}

	fanout := ioutil.FanoutWriter(writers...)
	if err := Write(fanout, a, opts); err != nil {
		fanout.Close()
		return err
	}
	if err := fanout.Close(); err != nil {
		return fmt.Errorf("flush checkpoint replicas: %w", err)
	}

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	files = files[:0]
	if len(errs) > 0 {
		return fmt.Errorf("close checkpoint files: %v", errs)
	}
	return nil
}

// VerifyFiles checks that every checkpoint replica has identical
// contents by hashing the raw file bytes in parallel and comparing the
// checksums.
func VerifyFiles(paths ...string) error {
	if len(paths) < 2 {
		return fmt.Errorf("need at least two replicas to verify, got %d", len(paths))
	}

	var checksumsMu sync.Mutex
	checksums := make(map[string]uint64)

	var eg errgroup.Group
	for _, path := range paths {
		eg.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open checkpoint file %s: %w", path, err)
			}
			defer f.Close()

			hasher := xxhash.New()
			if _, err := io.Copy(hasher, ioutil.WithBufferedReads(f)); err != nil {
				return fmt.Errorf("hash checkpoint file %s: %w", path, err)
			}
			checksumsMu.Lock()
			checksums[path] = hasher.Sum64()
			checksumsMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	want := checksums[paths[0]]
	for _, path := range paths[1:] {
		if checksums[path] != want {
			return fmt.Errorf("checkpoint replica %s differs from %s", path, paths[0])
		}
	}
	return nil
}
