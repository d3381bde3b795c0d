// Package png implements a parallel PNG encoder. Image rows are split
// into row-aligned chunks which are filtered and deflate-compressed on a
// worker pool, then reassembled in order into a single zlib stream across
// IDAT chunks, so the output is structurally identical to the output of a
// conventional single-threaded encoder.
package png

import (
	"errors"
	"fmt"
)

// ColorType is the PNG color type as stored in the IHDR chunk.
type ColorType uint8

const (
	Greyscale      ColorType = 0
	Truecolor      ColorType = 2
	Indexed        ColorType = 3
	GreyscaleAlpha ColorType = 4
	TruecolorAlpha ColorType = 6
)

func (c ColorType) String() string {
	switch c {
	case Greyscale:
		return "greyscale"
	case Truecolor:
		return "truecolor"
	case Indexed:
		return "indexed"
	case GreyscaleAlpha:
		return "greyscale+alpha"
	case TruecolorAlpha:
		return "truecolor+alpha"
	}
	return fmt.Sprintf("colortype(%d)", uint8(c))
}

// Channels returns the number of samples per pixel for the color type.
func (c ColorType) Channels() int {
	switch c {
	case Greyscale, Indexed:
		return 1
	case GreyscaleAlpha:
		return 2
	case Truecolor:
		return 3
	case TruecolorAlpha:
		return 4
	}
	return 0
}

// validDepths per https://www.w3.org/TR/PNG/#table111
var validDepths = map[ColorType][]uint8{
	Greyscale:      {1, 2, 4, 8, 16},
	Truecolor:      {8, 16},
	Indexed:        {1, 2, 4, 8},
	GreyscaleAlpha: {8, 16},
	TruecolorAlpha: {8, 16},
}

// ValidColorDepth reports whether the color type and bit depth form a
// combination allowed by the PNG specification.
func ValidColorDepth(c ColorType, depth uint8) bool {
	for _, d := range validDepths[c] {
		if d == depth {
			return true
		}
	}
	return false
}

const (
	// MinChunkSize is the smallest allowed per-chunk raw byte floor.
	// Chunks below a full deflate window would stop the dictionary
	// carry-over from covering the whole window, hurting ratio.
	MinChunkSize = 32768

	// DefaultChunkSize is the raw byte floor used when the caller does
	// not override it.
	DefaultChunkSize = 128 * 1024
)

var (
	ErrInvalidSize       = errors.New("png: width and height must be nonzero")
	ErrInvalidColorDepth = errors.New("png: invalid color type / bit depth combination")
	ErrChunkSizeTooSmall = errors.New("png: chunk size below minimum")
	ErrSequence          = errors.New("png: call out of sequence")
	ErrTooManyRows       = errors.New("png: more rows supplied than image height")
	ErrMissingRows       = errors.New("png: finish called before all rows were supplied")
	ErrRowStride         = errors.New("png: row data length is not a multiple of the row stride")
	ErrEncoderFinished   = errors.New("png: encoder already finished")
	ErrEncoderFailed     = errors.New("png: encoder is in failed state")
	ErrPaletteRequired   = errors.New("png: indexed color requires a palette")
	ErrPaletteSize       = errors.New("png: palette must hold 1..256 entries")
)

// rowStride returns the packed byte length of one scanline.
func rowStride(width uint32, c ColorType, depth uint8) int {
	bits := int(width) * c.Channels() * int(depth)
	return (bits + 7) / 8
}

// filterOffset returns the byte distance between a sample and the
// corresponding sample of the previous pixel, used by the Sub, Average
// and Paeth filters. Sub-byte depths predict from the previous byte.
func filterOffset(c ColorType, depth uint8) int {
	bpp := c.Channels() * int(depth) / 8
	if bpp < 1 {
		bpp = 1
	}
	return bpp
}
