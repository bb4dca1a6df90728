// Package rewrite is a transactional edit log over one file's original
// text. Edits are collected against original byte offsets, validated for
// overlap, and applied in a single pass.
package rewrite

import (
	"errors"
	"fmt"

	"github.com/robert-at-pretension-io/cforge/internal/source"
)

// Kind selects how an edit's payload lands relative to its anchor.
type Kind int

const (
	// InsertBefore places the payload at Anchor.Start.
	InsertBefore Kind = iota
	// InsertAfter places the payload at Anchor.End.
	InsertAfter
	// Replace swaps the anchored bytes for the payload.
	Replace
)

func (k Kind) String() string {
	switch k {
	case InsertBefore:
		return "insert-before"
	case InsertAfter:
		return "insert-after"
	case Replace:
		return "replace"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrEditConflict   = errors.New("conflicting edits")
	ErrSpanOutOfRange = errors.New("edit span out of range")
)

// Generator produces a payload at apply time, after every edit for the
// file has been collected.
type Generator func() string

// Edit is one pending change. Origin names the rule that produced it and
// only shows up in diagnostics.
type Edit struct {
	Kind   Kind
	Anchor source.Span
	Text   string
	Gen    Generator
	Origin string

	seq int
}

// Pos is the offset at which the edit takes effect.
func (e Edit) Pos() uint32 {
	if e.Kind == InsertAfter {
		return e.Anchor.End
	}
	return e.Anchor.Start
}

func (e Edit) payload() string {
	if e.Gen != nil {
		return e.Gen()
	}
	return e.Text
}

func (e Edit) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Anchor, e.Origin)
}

// ConflictError names the two edits that collide.
type ConflictError struct {
	A, B Edit
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s overlaps %s", ErrEditConflict, e.A, e.B)
}

func (e *ConflictError) Unwrap() error { return ErrEditConflict }

// EditSet accumulates edits for one file. It is not safe for concurrent
// use; each unit owns its own.
type EditSet struct {
	src   []byte
	edits []Edit
}

func NewEditSet(src []byte) *EditSet {
	return &EditSet{src: src}
}

func (s *EditSet) add(e Edit) {
	e.seq = len(s.edits)
	s.edits = append(s.edits, e)
}

func (s *EditSet) InsertBefore(anchor source.Span, text, origin string) {
	s.add(Edit{Kind: InsertBefore, Anchor: anchor, Text: text, Origin: origin})
}

func (s *EditSet) InsertAfter(anchor source.Span, text, origin string) {
	s.add(Edit{Kind: InsertAfter, Anchor: anchor, Text: text, Origin: origin})
}

func (s *EditSet) Replace(anchor source.Span, text, origin string) {
	s.add(Edit{Kind: Replace, Anchor: anchor, Text: text, Origin: origin})
}

// Generate records an edit whose payload is rendered during Apply.
func (s *EditSet) Generate(kind Kind, anchor source.Span, gen Generator, origin string) {
	s.add(Edit{Kind: kind, Anchor: anchor, Gen: gen, Origin: origin})
}

func (s *EditSet) Len() int { return len(s.edits) }

// Edits returns a copy of the collected edits in collection order.
func (s *EditSet) Edits() []Edit {
	return append([]Edit(nil), s.edits...)
}
