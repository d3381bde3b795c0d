package png

import (
	"bytes"
	"errors"
	"hash/adler32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(index int, final bool, marker byte) *compressedChunk {
	raw := bytes.Repeat([]byte{marker}, 64)
	return &compressedChunk{
		index:   index,
		payload: bytes.Repeat([]byte{marker}, 32),
		adler:   adler32.Checksum(raw),
		rawLen:  int64(len(raw)),
		final:   final,
	}
}

// Chunks delivered out of completion order must still hit the sink in
// ascending index order.
func TestSequencer_ReordersCompletions(t *testing.T) {
	var buf bytes.Buffer
	s := newSequencer(&CountingWriter{Writer: &buf}, nil, 6)

	markers := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4}
	last := len(markers) - 1
	// worker completion order: 3, 1, 4, 0, 2
	for _, idx := range []int{3, 1, 4, 0, 2} {
		s.deliver(testChunk(idx, idx == last, markers[idx]), nil)
	}

	require.NoError(t, s.failed())
	require.Equal(t, len(markers), s.emitted())

	out := buf.Bytes()
	prevAt := -1
	for i, m := range markers {
		at := bytes.Index(out, bytes.Repeat([]byte{m}, 32))
		require.GreaterOrEqual(t, at, 0, "chunk %d missing from output", i)
		assert.Greater(t, at, prevAt, "chunk %d emitted out of order", i)
		prevAt = at
	}
}

func TestSequencer_HoldsUntilGapFills(t *testing.T) {
	var buf bytes.Buffer
	s := newSequencer(&CountingWriter{Writer: &buf}, nil, 6)

	s.deliver(testChunk(1, false, 0xB1), nil)
	s.deliver(testChunk(2, true, 0xB2), nil)
	assert.Zero(t, buf.Len(), "later chunks must not be written before chunk 0")
	assert.Zero(t, s.emitted())

	s.deliver(testChunk(0, false, 0xB0), nil)
	assert.Equal(t, 3, s.emitted(), "filling the gap drains everything contiguous")
}

func TestSequencer_WorkerErrorStopsEmission(t *testing.T) {
	var buf bytes.Buffer
	s := newSequencer(&CountingWriter{Writer: &buf}, nil, 6)

	boom := errors.New("deflate exploded")
	s.deliver(nil, boom)
	require.ErrorIs(t, s.failed(), boom)

	n := buf.Len()
	s.deliver(testChunk(0, false, 0xC0), nil)
	assert.Equal(t, n, buf.Len(), "no emission after failure")
}

func TestSequencer_ZlibFraming(t *testing.T) {
	var buf bytes.Buffer
	s := newSequencer(&CountingWriter{Writer: &buf}, nil, 6)

	s.deliver(testChunk(0, false, 0xD0), nil)
	s.deliver(testChunk(1, true, 0xD1), nil)
	require.NoError(t, s.failed())

	out := buf.Bytes()
	// first IDAT payload starts with the zlib header
	hdr := zlibHeader(6)
	require.Equal(t, "IDAT", string(out[4:8]))
	assert.Equal(t, hdr[:], out[8:10])
	// last IDAT is 4 bytes longer than its deflate fragment: the
	// combined adler32 trailer rides along
	want := adlerCombine(adlerCombine(1, adler32.Checksum(bytes.Repeat([]byte{0xD0}, 64)), 64),
		adler32.Checksum(bytes.Repeat([]byte{0xD1}, 64)), 64)
	assert.Equal(t, want, s.adler)
}

// A sink that accepts a limited number of bytes, then reports a short
// write.
type shortWriter struct {
	limit int
	n     int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		allowed := w.limit - w.n
		if allowed < 0 {
			allowed = 0
		}
		w.n += allowed
		return allowed, nil
	}
	w.n += len(p)
	return len(p), nil
}

func TestSequencer_ShortWriteIsFatal(t *testing.T) {
	s := newSequencer(&CountingWriter{Writer: &shortWriter{limit: 10}}, nil, 6)
	s.deliver(testChunk(0, true, 0xE0), nil)
	require.Error(t, s.failed())
}
