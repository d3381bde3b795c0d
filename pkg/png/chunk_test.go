package png

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteChunk_Framing(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello png")
	require.NoError(t, writeChunk(&buf, typeIDAT, payload))

	out := buf.Bytes()
	require.Len(t, out, 8+len(payload)+4)
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(out[:4]))
	assert.Equal(t, "IDAT", string(out[4:8]))
	assert.Equal(t, payload, out[8:8+len(payload)])

	crc := crc32.NewIEEE()
	crc.Write(out[4 : 8+len(payload)])
	assert.Equal(t, crc.Sum32(), binary.BigEndian.Uint32(out[8+len(payload):]))
}

func TestWriteChunk_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, typeIEND, nil))
	assert.Len(t, buf.Bytes(), 12)
}

func TestWriteChunk_SplitsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, maxChunkLen+100)
	require.NoError(t, writeChunk(&buf, typeIDAT, payload))

	// Walk needs a full container; wrap the chunks with signature and IEND.
	var file bytes.Buffer
	file.Write(Signature[:])
	file.Write(buf.Bytes())
	require.NoError(t, writeChunk(&file, typeIEND, nil))

	chunks, err := Walk(bytes.NewReader(file.Bytes()))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, uint32(maxChunkLen), chunks[0].Length)
	assert.Equal(t, uint32(100), chunks[1].Length)
	for _, c := range chunks[:2] {
		assert.Equal(t, "IDAT", c.Type)
		assert.True(t, c.CRCOK)
	}
}

func TestWalk_RejectsBadSignature(t *testing.T) {
	_, err := Walk(bytes.NewReader([]byte("definitely not a png")))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestCountingWriter_ShortWrite(t *testing.T) {
	cw := &CountingWriter{Writer: &shortWriter{limit: 4}}
	n, err := cw.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = cw.Write([]byte("efgh"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, int64(4), cw.Count.Load())
}
