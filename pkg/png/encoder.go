package png

import (
	"errors"
	"fmt"
	"hash/adler32"
	"io"
	"log/slog"
	"sync"

	"github.com/parng/parng/pkg/pool"
)

type state uint8

const (
	stateConfiguring state = iota
	stateHeaderWritten
	stateWriting
	stateFinished
	stateFailed
)

// Flusher is implemented by sinks that can push buffered output to
// their consumer. When the destination writer implements it, the
// encoder flushes after the header and after every emitted IDAT chunk
// so a streaming reader can decode rows as they arrive.
type Flusher interface {
	Flush() error
}

// Encoder encodes a single PNG image and is then spent. Configure it
// with the Set* methods, call WriteHeader, supply rows with WriteImage
// or WriteImageRows, then call Finish. Methods must be called from one
// goroutine; compression itself fans out over the pool.
type Encoder struct {
	w     *CountingWriter
	flush func() error
	pool  *pool.Pool

	width     uint32
	height    uint32
	color     ColorType
	depth     uint8
	filterMod Filter
	filterSet bool
	chunkSize int
	level     int
	palette   []byte

	state state
	err   error

	stride       int
	rowsPerChunk int
	numChunks    int

	rowsIn     uint32
	chunkIndex int
	chunkBuf   []byte
	chunkRows  int
	prevRow    []byte

	dictCh   []chan []byte
	inflight sync.WaitGroup
	seq      *sequencer
	detached bool
}

// NewEncoder creates an encoder writing to w, which must not be nil.
// A nil pool selects the shared process-wide pool. The caller must keep
// a non-default pool alive until Finish or Abort returns.
func NewEncoder(w io.Writer, p *pool.Pool) (*Encoder, error) {
	if w == nil {
		return nil, errors.New("png: output writer is required")
	}
	if p == nil {
		p = pool.Default()
	}
	if err := p.Attach(); err != nil {
		return nil, err
	}
	e := &Encoder{
		w:         &CountingWriter{Writer: w},
		pool:      p,
		color:     TruecolorAlpha,
		depth:     8,
		chunkSize: DefaultChunkSize,
		level:     DefaultCompressionLevel,
	}
	if f, ok := w.(Flusher); ok {
		e.flush = f.Flush
	}
	return e, nil
}

// fail moves the encoder to its terminal failed state. All further
// calls return the recorded error without touching the sink again.
func (e *Encoder) fail(err error) error {
	if e.state != stateFailed {
		e.state = stateFailed
		e.err = err
		e.detach()
	}
	return e.err
}

func (e *Encoder) detach() {
	if !e.detached {
		e.detached = true
		e.pool.Detach()
	}
}

func (e *Encoder) configurable() error {
	switch e.state {
	case stateConfiguring:
		return nil
	case stateFailed:
		return e.err
	case stateFinished:
		return ErrEncoderFinished
	default:
		return fmt.Errorf("%w: configuration is frozen after WriteHeader", ErrSequence)
	}
}

// SetSize sets the image dimensions in pixels. Both must be nonzero.
func (e *Encoder) SetSize(width, height uint32) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return ErrInvalidSize
	}
	e.width, e.height = width, height
	return nil
}

// SetColor sets the color type and bit depth. The default is 8-bit
// truecolor with alpha.
func (e *Encoder) SetColor(color ColorType, depth uint8) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if !ValidColorDepth(color, depth) {
		return fmt.Errorf("%w: %s depth %d", ErrInvalidColorDepth, color, depth)
	}
	e.color, e.depth = color, depth
	return nil
}

// SetFilter overrides filter selection. The default is adaptive
// per-row selection, or None for indexed images.
func (e *Encoder) SetFilter(f Filter) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if !f.valid() {
		return fmt.Errorf("png: invalid filter mode %d", f)
	}
	e.filterMod = f
	e.filterSet = true
	return nil
}

// SetChunkSize overrides the per-chunk raw byte floor used to split
// rows into parallel compression units. Must be at least MinChunkSize.
func (e *Encoder) SetChunkSize(n int) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if n < MinChunkSize {
		return fmt.Errorf("%w: %d < %d", ErrChunkSizeTooSmall, n, MinChunkSize)
	}
	e.chunkSize = n
	return nil
}

// SetCompressionLevel sets the deflate level, from flate.BestSpeed to
// flate.BestCompression.
func (e *Encoder) SetCompressionLevel(level int) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if level < -2 || level > 9 {
		return fmt.Errorf("png: invalid compression level %d", level)
	}
	e.level = level
	return nil
}

// SetPalette sets the PLTE entries as packed RGB triples. Required for
// indexed images, ignored otherwise.
func (e *Encoder) SetPalette(rgb []byte) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if len(rgb) == 0 || len(rgb)%3 != 0 || len(rgb) > 256*3 {
		return ErrPaletteSize
	}
	e.palette = append([]byte(nil), rgb...)
	return nil
}

// WriteHeader freezes the configuration, computes the row-to-chunk
// partition and emits the PNG signature, IHDR and, for indexed images,
// PLTE. It must be called exactly once before supplying rows.
func (e *Encoder) WriteHeader() error {
	switch e.state {
	case stateFailed:
		return e.err
	case stateFinished:
		return ErrEncoderFinished
	case stateConfiguring:
	default:
		return fmt.Errorf("%w: header already written", ErrSequence)
	}
	if e.width == 0 || e.height == 0 {
		return ErrInvalidSize
	}
	if e.color == Indexed && e.palette == nil {
		return ErrPaletteRequired
	}
	if !e.filterSet {
		e.filterMod = defaultFilter(e.color)
	}

	e.stride = rowStride(e.width, e.color, e.depth)
	e.rowsPerChunk = (e.chunkSize + e.stride - 1) / e.stride
	e.numChunks = (int(e.height) + e.rowsPerChunk - 1) / e.rowsPerChunk
	e.dictCh = make([]chan []byte, e.numChunks)
	for i := range e.dictCh {
		e.dictCh[i] = make(chan []byte, 1)
	}
	e.seq = newSequencer(e.w, e.flush, e.level)
	e.prevRow = make([]byte, e.stride)
	e.chunkBuf = make([]byte, 0, e.rowsForChunk(0)*e.stride)

	if _, err := e.w.Write(Signature[:]); err != nil {
		return e.fail(fmt.Errorf("png: writing signature: %w", err))
	}
	if err := writeChunk(e.w, typeIHDR, ihdrPayload(e.width, e.height, e.color, e.depth)); err != nil {
		return e.fail(err)
	}
	if e.color == Indexed {
		if err := writeChunk(e.w, typePLTE, e.palette); err != nil {
			return e.fail(err)
		}
	}
	if e.flush != nil {
		if err := e.flush(); err != nil {
			return e.fail(fmt.Errorf("png: flushing header: %w", err))
		}
	}
	e.state = stateHeaderWritten
	return nil
}

// rowsForChunk returns how many rows chunk k covers. Every chunk holds
// rowsPerChunk rows except possibly the last.
func (e *Encoder) rowsForChunk(k int) int {
	rows := int(e.height) - k*e.rowsPerChunk
	if rows > e.rowsPerChunk {
		rows = e.rowsPerChunk
	}
	return rows
}

// WriteImageRows supplies one or more packed scanlines. The byte count
// must be an exact multiple of the row stride, and the total row count
// across calls must not exceed the image height. Completed chunks are
// handed to the pool as they fill.
func (e *Encoder) WriteImageRows(p []byte) error {
	switch e.state {
	case stateFailed:
		return e.err
	case stateFinished:
		return ErrEncoderFinished
	case stateHeaderWritten, stateWriting:
	default:
		return fmt.Errorf("%w: rows before WriteHeader", ErrSequence)
	}
	if len(p)%e.stride != 0 {
		return e.fail(fmt.Errorf("%w: %d bytes, stride %d", ErrRowStride, len(p), e.stride))
	}
	rows := len(p) / e.stride
	if e.rowsIn+uint32(rows) > e.height {
		return e.fail(ErrTooManyRows)
	}
	e.state = stateWriting

	for r := 0; r < rows; r++ {
		e.chunkBuf = append(e.chunkBuf, p[r*e.stride:(r+1)*e.stride]...)
		e.chunkRows++
		e.rowsIn++
		if e.chunkRows == e.rowsForChunk(e.chunkIndex) {
			e.submitChunk()
		}
	}
	if err := e.seq.failed(); err != nil {
		return e.fail(err)
	}
	return nil
}

// WriteImage drives the encoder in pull mode, reading exactly one row
// stride from r per remaining row. A short read is fatal.
func (e *Encoder) WriteImage(r io.Reader) error {
	row := make([]byte, e.stride)
	for e.state == stateHeaderWritten || e.state == stateWriting {
		if e.rowsIn == e.height {
			return nil
		}
		if _, err := io.ReadFull(r, row); err != nil {
			return e.fail(fmt.Errorf("png: reading row %d: %w", e.rowsIn, err))
		}
		if err := e.WriteImageRows(row); err != nil {
			return err
		}
	}
	if e.state == stateFailed {
		return e.err
	}
	if e.state == stateFinished {
		return ErrEncoderFinished
	}
	return fmt.Errorf("%w: WriteImage before WriteHeader", ErrSequence)
}

// submitChunk hands the buffered rows off to the pool. The last raw row
// is retained so the next chunk's first row still filters against its
// true predecessor.
func (e *Encoder) submitChunk() {
	var (
		idx    = e.chunkIndex
		rows   = e.chunkBuf
		nrows  = e.chunkRows
		prev   = e.prevRow
		final  = idx == e.numChunks-1
		stride = e.stride
	)
	e.prevRow = append([]byte(nil), rows[len(rows)-stride:]...)
	e.chunkIndex++
	e.chunkRows = 0
	if !final {
		e.chunkBuf = make([]byte, 0, e.rowsForChunk(e.chunkIndex)*stride)
	} else {
		e.chunkBuf = nil
	}

	mode, color, depth, level := e.filterMod, e.color, e.depth, e.level
	seq, dictCh, numChunks := e.seq, e.dictCh, e.numChunks

	e.inflight.Add(1)
	e.pool.Submit(func() {
		defer e.inflight.Done()

		rf := newRowFilterer(mode, color, depth, stride)
		filtered := make([]byte, 0, nrows*(stride+1))
		cur := prev
		for r := 0; r < nrows; r++ {
			next := rows[r*stride : (r+1)*stride]
			filtered = rf.filter(filtered, next, cur)
			cur = next
		}

		// Publish the dictionary tail before compressing, so the
		// next chunk's worker never waits on this chunk's deflate.
		if idx+1 < numChunks {
			dictCh[idx+1] <- dictTail(filtered)
		}
		var dict []byte
		if idx > 0 {
			dict = <-dictCh[idx]
		}

		payload, err := compressChunk(filtered, dict, level, final)
		if err != nil {
			seq.deliver(nil, err)
			return
		}
		seq.deliver(&compressedChunk{
			index:   idx,
			payload: payload,
			adler:   adler32.Checksum(filtered),
			rawLen:  int64(len(filtered)),
			final:   final,
		}, nil)
	})
}

// Finish waits for all in-flight chunk compression, emits IEND, flushes
// the sink and spends the encoder. It fails with a sequencing error if
// fewer than height rows were supplied; no trailer is written then.
func (e *Encoder) Finish() error {
	switch e.state {
	case stateFailed:
		return e.err
	case stateFinished:
		return ErrEncoderFinished
	case stateHeaderWritten, stateWriting:
	default:
		return fmt.Errorf("%w: Finish before WriteHeader", ErrSequence)
	}
	if e.rowsIn < e.height {
		return e.fail(fmt.Errorf("%w: got %d of %d", ErrMissingRows, e.rowsIn, e.height))
	}

	e.inflight.Wait()
	if err := e.seq.failed(); err != nil {
		return e.fail(err)
	}
	if n := e.seq.emitted(); n != e.numChunks {
		return e.fail(fmt.Errorf("png: emitted %d of %d chunks", n, e.numChunks))
	}
	if err := writeChunk(e.w, typeIEND, nil); err != nil {
		return e.fail(err)
	}
	if e.flush != nil {
		if err := e.flush(); err != nil {
			return e.fail(fmt.Errorf("png: final flush: %w", err))
		}
	}
	e.detach()
	e.state = stateFinished
	slog.Debug("png encode complete",
		"width", e.width, "height", e.height,
		"color", e.color.String(), "depth", e.depth,
		"chunks", e.numChunks, "bytes", e.w.Count.Load())
	return nil
}

// Abort tears the encoder down early, waiting out any in-flight work
// and detaching from the pool. The instance is unusable afterwards.
func (e *Encoder) Abort() {
	if e.state == stateFinished || e.state == stateFailed {
		e.detach()
		return
	}
	e.inflight.Wait()
	e.fail(errors.New("png: encode aborted"))
}
