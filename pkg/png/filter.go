package png

// Filter selects the per-row predictive transform. FilterAdaptive picks
// the cheapest of the five standard filters for each row; the others fix
// a single filter for the whole image.
type Filter int8

const (
	FilterAdaptive Filter = -1
	FilterNone     Filter = 0
	FilterSub      Filter = 1
	FilterUp       Filter = 2
	FilterAverage  Filter = 3
	FilterPaeth    Filter = 4
)

func (f Filter) valid() bool {
	return f >= FilterAdaptive && f <= FilterPaeth
}

func (f Filter) String() string {
	switch f {
	case FilterAdaptive:
		return "adaptive"
	case FilterNone:
		return "none"
	case FilterSub:
		return "sub"
	case FilterUp:
		return "up"
	case FilterAverage:
		return "average"
	case FilterPaeth:
		return "paeth"
	}
	return "filter(?)"
}

// paeth is the PNG Paeth predictor: whichever of left, above and
// upper-left is closest to left+above-upperleft.
func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := p-int(a), p-int(b), p-int(c)
	if pa < 0 {
		pa = -pa
	}
	if pb < 0 {
		pb = -pb
	}
	if pc < 0 {
		pc = -pc
	}
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

// filterRow applies one filter to cur, predicting against prev (the
// previous raw row, all zero for the first row of the image). dst must
// be len(cur)+1; dst[0] becomes the filter tag. bpp is the pixel byte
// offset for horizontal prediction.
func filterRow(f Filter, dst, cur, prev []byte, bpp int) {
	dst[0] = byte(f)
	out := dst[1:]
	switch f {
	case FilterNone:
		copy(out, cur)
	case FilterSub:
		for i := range cur {
			var left uint8
			if i >= bpp {
				left = cur[i-bpp]
			}
			out[i] = cur[i] - left
		}
	case FilterUp:
		for i := range cur {
			out[i] = cur[i] - prev[i]
		}
	case FilterAverage:
		for i := range cur {
			var left uint8
			if i >= bpp {
				left = cur[i-bpp]
			}
			out[i] = cur[i] - uint8((int(left)+int(prev[i]))/2)
		}
	case FilterPaeth:
		for i := range cur {
			var left, ul uint8
			if i >= bpp {
				left = cur[i-bpp]
				ul = prev[i-bpp]
			}
			out[i] = cur[i] - paeth(left, prev[i], ul)
		}
	}
}

// filterCost is the adaptive heuristic: the sum of filtered bytes taken
// as absolute signed residuals. Smaller sums tend to compress better.
func filterCost(row []byte) uint64 {
	var sum uint64
	for _, b := range row {
		if b < 128 {
			sum += uint64(b)
		} else {
			sum += 256 - uint64(b)
		}
	}
	return sum
}

// rowFilterer filters scanlines one at a time, either with a fixed
// filter or adaptively. Scratch buffers are reused across rows, so a
// rowFilterer must not be shared between goroutines.
type rowFilterer struct {
	mode    Filter
	bpp     int
	scratch [5][]byte
}

func newRowFilterer(mode Filter, color ColorType, depth uint8, stride int) *rowFilterer {
	rf := &rowFilterer{mode: mode, bpp: filterOffset(color, depth)}
	if mode == FilterAdaptive {
		for i := range rf.scratch {
			rf.scratch[i] = make([]byte, stride+1)
		}
	} else {
		rf.scratch[0] = make([]byte, stride+1)
	}
	return rf
}

// filter transforms cur against prev and appends the tagged filtered
// row to dst, returning the extended slice. For adaptive mode all five
// candidates are produced and the lowest-cost one wins; ties go to the
// lowest filter number.
func (rf *rowFilterer) filter(dst []byte, cur, prev []byte) []byte {
	if rf.mode != FilterAdaptive {
		filterRow(rf.mode, rf.scratch[0], cur, prev, rf.bpp)
		return append(dst, rf.scratch[0]...)
	}

	best := 0
	bestCost := ^uint64(0)
	for f := FilterNone; f <= FilterPaeth; f++ {
		buf := rf.scratch[f]
		filterRow(f, buf, cur, prev, rf.bpp)
		if cost := filterCost(buf[1:]); cost < bestCost {
			bestCost = cost
			best = int(f)
		}
	}
	return append(dst, rf.scratch[best]...)
}

// defaultFilter returns the filter mode used when the caller does not
// pick one. Predictive filters rarely help palette indices, so indexed
// images default to None.
func defaultFilter(color ColorType) Filter {
	if color == Indexed {
		return FilterNone
	}
	return FilterAdaptive
}
