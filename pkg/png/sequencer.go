package png

import (
	"encoding/binary"
	"sync"
)

// compressedChunk is one worker's finished output: a raw deflate
// fragment plus the adler32 and length of the filtered bytes it was
// built from, needed to assemble the zlib trailer.
type compressedChunk struct {
	index   int
	payload []byte
	adler   uint32
	rawLen  int64
	final   bool
}

// sequencer collects compressed chunks arriving in arbitrary order and
// writes them out strictly by ascending chunk index. Whichever worker
// delivers the chunk that fills the current gap drains everything that
// is now contiguous, so emission needs no dedicated goroutine while the
// sink still sees a single writer at a time.
type sequencer struct {
	mu      sync.Mutex
	w       *CountingWriter
	flush   func() error
	header  [2]byte
	pending map[int]*compressedChunk
	next    int
	adler   uint32
	err     error
}

func newSequencer(w *CountingWriter, flush func() error, level int) *sequencer {
	return &sequencer{
		w:       w,
		flush:   flush,
		header:  zlibHeader(level),
		pending: make(map[int]*compressedChunk),
		adler:   1,
	}
}

// deliver hands a completed chunk (or a worker failure) to the
// sequencer. Chunks arriving after a failure are dropped.
func (s *sequencer) deliver(cc *compressedChunk, werr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if werr != nil {
		s.err = werr
		return
	}
	s.pending[cc.index] = cc
	for {
		head, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		if err := s.emit(head); err != nil {
			s.err = err
			return
		}
		s.next++
	}
}

// emit frames one compressed chunk as IDAT. Chunk 0 carries the zlib
// header; the final chunk carries the combined adler32 trailer.
func (s *sequencer) emit(cc *compressedChunk) error {
	payload := cc.payload
	if cc.index == 0 {
		payload = append(s.header[:], payload...)
	}
	s.adler = adlerCombine(s.adler, cc.adler, cc.rawLen)
	if cc.final {
		var trailer [4]byte
		binary.BigEndian.PutUint32(trailer[:], s.adler)
		payload = append(payload, trailer[:]...)
	}
	if err := writeChunk(s.w, typeIDAT, payload); err != nil {
		return err
	}
	if s.flush != nil {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

// failed returns the first error recorded by any worker or emission.
func (s *sequencer) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emitted returns how many chunks have been written out.
func (s *sequencer) emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
