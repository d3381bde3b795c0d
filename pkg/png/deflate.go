package png

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// dictSize is the deflate window; the compressor for chunk k is seeded
// with up to this many trailing bytes of chunk k-1's uncompressed
// filtered data, so back-references still reach across the chunk split.
const dictSize = 32768

// DefaultCompressionLevel is the deflate level used unless overridden
// with SetCompressionLevel.
const DefaultCompressionLevel = flate.DefaultCompression

// compressChunk deflates one chunk's filtered bytes into a raw deflate
// fragment. Non-final fragments end on a sync flush (byte-aligned, no
// stream-final block) so consecutive fragments concatenate into one
// valid deflate stream; the final fragment closes the stream.
func compressChunk(filtered, dict []byte, level int, final bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(filtered)/2 + 64)

	var (
		fw  *flate.Writer
		err error
	)
	if len(dict) > 0 {
		fw, err = flate.NewWriterDict(&buf, level, dict)
	} else {
		fw, err = flate.NewWriter(&buf, level)
	}
	if err != nil {
		return nil, fmt.Errorf("png: deflate init: %w", err)
	}
	if _, err := fw.Write(filtered); err != nil {
		return nil, fmt.Errorf("png: deflate: %w", err)
	}
	if final {
		if err := fw.Close(); err != nil {
			return nil, fmt.Errorf("png: deflate close: %w", err)
		}
	} else if err := fw.Flush(); err != nil {
		return nil, fmt.Errorf("png: deflate flush: %w", err)
	}
	return buf.Bytes(), nil
}

// dictTail returns the trailing window of a chunk's filtered bytes for
// seeding the next chunk's compressor.
func dictTail(filtered []byte) []byte {
	if len(filtered) <= dictSize {
		return filtered
	}
	return filtered[len(filtered)-dictSize:]
}

// zlibHeader builds the 2-byte zlib stream header for the given deflate
// level: 32K window, with the FCHECK bits making the pair a multiple of
// 31.
func zlibHeader(level int) [2]byte {
	const cmf = 0x78
	var flevel byte
	switch {
	case level == 0 || level == 1 || level == flate.HuffmanOnly:
		flevel = 0
	case level >= 2 && level <= 5:
		flevel = 1
	case level == 6 || level == flate.DefaultCompression:
		flevel = 2
	default:
		flevel = 3
	}
	flg := uint16(flevel) << 6
	flg += (31 - (uint16(cmf)<<8|flg)%31) % 31
	return [2]byte{cmf, byte(flg)}
}

const adlerBase = 65521

// adlerCombine merges the adler32 of two byte sequences into the
// adler32 of their concatenation, given the second sequence's length.
// Same math as zlib's adler32_combine.
func adlerCombine(ad1, ad2 uint32, len2 int64) uint32 {
	rem := uint32(len2 % adlerBase)
	sum1 := ad1 & 0xffff
	sum2 := (rem * sum1) % adlerBase
	sum1 += (ad2 & 0xffff) + adlerBase - 1
	sum2 += ((ad1 >> 16) & 0xffff) + ((ad2 >> 16) & 0xffff) + adlerBase - rem
	if sum1 >= adlerBase {
		sum1 -= adlerBase
	}
	if sum1 >= adlerBase {
		sum1 -= adlerBase
	}
	if sum2 >= adlerBase<<1 {
		sum2 -= adlerBase << 1
	}
	if sum2 >= adlerBase {
		sum2 -= adlerBase
	}
	return sum1 | sum2<<16
}
