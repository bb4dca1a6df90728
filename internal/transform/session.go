// Package transform holds the rewriting passes that run over one parsed
// unit: expression and statement tagging, call elimination, extern
// removal and renaming. Every pass only collects edits into the unit's
// Session; nothing touches the text until Apply.
package transform

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/rewrite"
	"github.com/robert-at-pretension-io/cforge/internal/tags"
)

// ErrNoSuchFunction is returned when the target definition is not in the
// unit.
var ErrNoSuchFunction = errors.New("function definition not found")

// Options configure the passes of one session.
type Options struct {
	// Target restricts call elimination, extern removal and renaming to a
	// single function definition. Empty means every definition.
	Target string
	// Exclude lists definitions the passes skip when Target is empty.
	Exclude []string

	RenamePrefix string
	RenameLength int
	// Seed makes generated names reproducible. Zero picks a random seed.
	Seed uint64
}

// Session is the per-unit context every pass runs against. It owns the
// unit's edit log, tag allocator and name generator, and is discarded
// once the unit's output has been produced.
type Session struct {
	Unit  *cast.Unit
	Edits *rewrite.EditSet
	Tags  *tags.Allocator
	Names *Renamer

	opts   Options
	logger *zap.Logger

	headerQueued bool
	marked       map[int]bool

	calls   []CallSite
	renames []RenameRecord
}

func NewSession(u *cast.Unit, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Unit:   u,
		Edits:  rewrite.NewEditSet(u.Src()),
		Tags:   tags.NewAllocator(),
		Names:  NewRenamer(opts.RenamePrefix, opts.RenameLength, opts.Seed, identifiers(u)),
		opts:   opts,
		logger: logger.With(zap.String("file", u.Path())),
		marked: make(map[int]bool),
	}
}

// Renames returns every rename performed so far.
func (s *Session) Renames() []RenameRecord { return s.renames }

// Apply validates and applies the collected edits.
func (s *Session) Apply() ([]byte, error) {
	out, err := s.Edits.Apply()
	if err != nil {
		s.logger.Error("apply edits", zap.Int("edits", s.Edits.Len()), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", s.Unit.Path(), err)
	}
	s.logger.Debug("applied edits", zap.Int("edits", s.Edits.Len()), zap.Int("tags", s.Tags.Len()))
	return out, nil
}

// targets returns the function definitions a pass should visit.
func (s *Session) targets() ([]*cast.Decl, error) {
	var out []*cast.Decl
	for _, d := range s.Unit.Functions() {
		if !d.IsDefinition {
			continue
		}
		if s.opts.Target != "" && d.Name != s.opts.Target {
			continue
		}
		if s.opts.Target == "" && slices.Contains(s.opts.Exclude, d.Name) {
			continue
		}
		out = append(out, d)
	}
	if s.opts.Target != "" && len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchFunction, s.opts.Target)
	}
	return out, nil
}

func identifiers(u *cast.Unit) []string {
	var out []string
	for _, n := range u.Nodes() {
		switch n.Type {
		case "identifier", "type_identifier", "field_identifier", "statement_identifier":
			out = append(out, u.Text(n))
		}
	}
	return out
}
