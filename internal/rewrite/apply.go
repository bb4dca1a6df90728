package rewrite

import (
	"bytes"
	"fmt"
	"sort"

	"fortio.org/safecast"
)

// spansConflict reports whether two replacements' spans overlap. Spans are
// half-open. A zero-length replacement conflicts with a non-empty one when
// its position is within [Start, End), and with another zero-length one at
// the same position.
func spansConflict(a, b Edit) bool {
	aStart, aEnd := a.Anchor.Start, a.Anchor.End
	bStart, bEnd := b.Anchor.Start, b.Anchor.End

	if aStart == aEnd && bStart == bEnd {
		return aStart == bStart
	}
	if aStart == aEnd {
		return bStart <= aStart && aStart < bEnd
	}
	if bStart == bEnd {
		return aStart <= bStart && bStart < aEnd
	}
	return aStart < bEnd && bStart < aEnd
}

// Validate checks every edit against the source bounds and against each
// other. Replacements may not overlap; an insertion may not land strictly
// inside a replaced range. Insertions at a shared boundary never conflict.
func (s *EditSet) Validate() error {
	size, err := safecast.Conv[uint32](len(s.src))
	if err != nil {
		return fmt.Errorf("source too large for edit offsets: %w", err)
	}

	var replaces []Edit
	for _, e := range s.edits {
		if e.Anchor.Start > e.Anchor.End || e.Anchor.End > size {
			return fmt.Errorf("%w: %s in %d bytes", ErrSpanOutOfRange, e, size)
		}
		if e.Kind == Replace {
			replaces = append(replaces, e)
		}
	}

	sort.SliceStable(replaces, func(i, j int) bool {
		if replaces[i].Anchor.Start == replaces[j].Anchor.Start {
			return replaces[i].Anchor.End < replaces[j].Anchor.End
		}
		return replaces[i].Anchor.Start < replaces[j].Anchor.Start
	})
	for i := 1; i < len(replaces); i++ {
		if spansConflict(replaces[i-1], replaces[i]) {
			return &ConflictError{A: replaces[i-1], B: replaces[i]}
		}
	}
	for i, widest := 1, 0; i < len(replaces); i++ {
		if spansConflict(replaces[widest], replaces[i]) {
			return &ConflictError{A: replaces[widest], B: replaces[i]}
		}
		if replaces[i].Anchor.End > replaces[widest].Anchor.End {
			widest = i
		}
	}

	for _, e := range s.edits {
		if e.Kind == Replace {
			continue
		}
		pos := e.Pos()
		i := sort.Search(len(replaces), func(i int) bool {
			return replaces[i].Anchor.Start >= pos
		})
		if i == 0 {
			continue
		}
		r := replaces[i-1]
		if r.Anchor.Start < pos && pos < r.Anchor.End {
			return &ConflictError{A: r, B: e}
		}
	}
	return nil
}

// kindRank orders edits that take effect at the same offset: text closing
// a preceding span, then text opening a following span, then replacements.
func kindRank(k Kind) int {
	switch k {
	case InsertAfter:
		return 0
	case InsertBefore:
		return 1
	}
	return 2
}

// ordered returns the edits in application order. At one offset, closing
// insertions run innermost first and opening insertions outermost first,
// so independently collected wrappers nest correctly. Ties on identical
// anchors fall back to collection order: the first-collected wrapper is
// the outermost.
func (s *EditSet) ordered() []Edit {
	out := s.Edits()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pos() != b.Pos() {
			return a.Pos() < b.Pos()
		}
		if kindRank(a.Kind) != kindRank(b.Kind) {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		switch a.Kind {
		case InsertAfter:
			if a.Anchor.Start != b.Anchor.Start {
				return a.Anchor.Start > b.Anchor.Start
			}
			return a.seq > b.seq
		case InsertBefore:
			if a.Anchor.End != b.Anchor.End {
				return a.Anchor.End > b.Anchor.End
			}
			return a.seq < b.seq
		}
		if a.Anchor.End != b.Anchor.End {
			return a.Anchor.End < b.Anchor.End
		}
		return a.seq < b.seq
	})
	return out
}

// Apply validates the set and renders the rewritten text. Either every
// edit applies or an error is returned and nothing is produced.
func (s *EditSet) Apply() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(s.src) + 16*len(s.edits))
	var cursor uint32
	for _, e := range s.ordered() {
		if pos := e.Pos(); pos > cursor {
			out.Write(s.src[cursor:pos])
			cursor = pos
		}
		out.WriteString(e.payload())
		if e.Kind == Replace {
			cursor = e.Anchor.End
		}
	}
	out.Write(s.src[cursor:])
	return out.Bytes(), nil
}
