package png

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync/atomic"
)

// Signature is the 8-byte PNG file signature.
var Signature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Chunk type tags emitted by the encoder.
var (
	typeIHDR = [4]byte{'I', 'H', 'D', 'R'}
	typePLTE = [4]byte{'P', 'L', 'T', 'E'}
	typeIDAT = [4]byte{'I', 'D', 'A', 'T'}
	typeIEND = [4]byte{'I', 'E', 'N', 'D'}
)

// maxChunkLen caps the payload of a single emitted chunk. The format
// allows up to 2^31-1; a smaller cap keeps streaming consumers from
// having to buffer a whole oversized chunk before its CRC arrives.
const maxChunkLen = 1 << 23

// CountingWriter wraps a writer and tracks the running byte count. A
// short write from the underlying writer is surfaced as
// io.ErrShortWrite so it aborts the encode.
type CountingWriter struct {
	Count  atomic.Int64
	Writer io.Writer
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err == nil {
		c.Count.Add(int64(n))
	}
	return n, err
}

// writeChunk emits one framed chunk: big-endian length, 4-byte type,
// payload, then CRC32 (IEEE) over type+payload. Payloads larger than
// maxChunkLen are split into consecutive chunks of the same type.
func writeChunk(w io.Writer, typ [4]byte, data []byte) error {
	for {
		part := data
		if len(part) > maxChunkLen {
			part = data[:maxChunkLen]
		}
		data = data[len(part):]

		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[:4], uint32(len(part)))
		copy(hdr[4:], typ[:])
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("chunk %s header: %w", typ[:], err)
		}
		if len(part) > 0 {
			if _, err := w.Write(part); err != nil {
				return fmt.Errorf("chunk %s payload: %w", typ[:], err)
			}
		}
		crc := crc32.NewIEEE()
		crc.Write(typ[:])
		crc.Write(part)
		var tail [4]byte
		binary.BigEndian.PutUint32(tail[:], crc.Sum32())
		if _, err := w.Write(tail[:]); err != nil {
			return fmt.Errorf("chunk %s crc: %w", typ[:], err)
		}
		if len(data) == 0 {
			return nil
		}
	}
}

// ihdrPayload serializes the 13-byte IHDR body. Compression, filter
// method and interlace are always 0: deflate, adaptive-per-row, none.
func ihdrPayload(width, height uint32, color ColorType, depth uint8) []byte {
	p := make([]byte, 13)
	binary.BigEndian.PutUint32(p[0:4], width)
	binary.BigEndian.PutUint32(p[4:8], height)
	p[8] = depth
	p[9] = uint8(color)
	return p
}

// ChunkInfo describes one framed chunk found while walking a PNG
// container. Payload bytes are not retained.
type ChunkInfo struct {
	Type   string
	Length uint32
	Offset int64
	CRCOK  bool
}

var ErrBadSignature = errors.New("png: bad file signature")

// Walk reads the container structure of a PNG stream, returning one
// entry per chunk in file order. Chunk payloads are CRC-checked but not
// otherwise interpreted; this does not decode pixel data.
func Walk(r io.Reader) ([]ChunkInfo, error) {
	var sig [8]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return nil, fmt.Errorf("png: reading signature: %w", err)
	}
	if sig != Signature {
		return nil, ErrBadSignature
	}

	var chunks []ChunkInfo
	offset := int64(8)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return chunks, nil
			}
			return chunks, fmt.Errorf("png: reading chunk header: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		crc := crc32.NewIEEE()
		crc.Write(hdr[4:])
		if _, err := io.CopyN(crc, r, int64(length)); err != nil {
			return chunks, fmt.Errorf("png: reading chunk payload: %w", err)
		}
		var tail [4]byte
		if _, err := io.ReadFull(r, tail[:]); err != nil {
			return chunks, fmt.Errorf("png: reading chunk crc: %w", err)
		}
		chunks = append(chunks, ChunkInfo{
			Type:   string(hdr[4:]),
			Length: length,
			Offset: offset,
			CRCOK:  binary.BigEndian.Uint32(tail[:]) == crc.Sum32(),
		})
		offset += 8 + int64(length) + 4
		if string(hdr[4:]) == "IEND" {
			return chunks, nil
		}
	}
}
