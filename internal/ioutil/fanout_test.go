package ioutil

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutWriter_AllDestinationsMatch(t *testing.T) {
	payload := make([]byte, 1<<20)
	rng := rand.New(rand.NewSource(7))
	_, err := rng.Read(payload)
	require.NoError(t, err)

	for _, n := range []int{1, 2, 4} {
		bufs := make([]*bytes.Buffer, n)
		writers := make([]io.Writer, n)
		for i := range bufs {
			bufs[i] = &bytes.Buffer{}
			writers[i] = bufs[i]
		}

		w := FanoutWriter(writers...)
		// Write in uneven chunks to exercise internal buffering.
		for off := 0; off < len(payload); {
			chunk := rng.Intn(70000) + 1
			if off+chunk > len(payload) {
				chunk = len(payload) - off
			}
			_, err := w.Write(payload[off : off+chunk])
			require.NoError(t, err)
			off += chunk
		}
		require.NoError(t, w.Close())

		for i, buf := range bufs {
			assert.Equal(t, payload, buf.Bytes(), "destination %d of %d differs", i, n)
		}
	}
}

func TestFanoutWriter_NoDestinations(t *testing.T) {
	w := FanoutWriter()
	_, err := w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestFanoutWriter_PropagatesError(t *testing.T) {
	var ok bytes.Buffer
	w := FanoutWriter(&ok, failWriter{})
	_, _ = w.Write(bytes.Repeat([]byte("x"), 1<<20))
	err := w.Close()
	assert.Error(t, err)
}
