package transform

import (
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/source"
)

const (
	DefaultRenamePrefix = "fn_"
	DefaultRenameLength = 5
	alphabet            = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// RenameRecord is one rename applied within Scope, the function whose
// lexical extent the new name is confined to.
type RenameRecord struct {
	Old   string `json:"old"`
	New   string `json:"new"`
	Scope string `json:"scope"`
}

// Renamer generates identifiers of the form prefix + random suffix that
// collide with nothing already in the unit or previously generated.
type Renamer struct {
	prefix string
	length int
	rng    *rand.Rand
	taken  map[string]bool
}

func NewRenamer(prefix string, length int, seed uint64, taken []string) *Renamer {
	if prefix == "" {
		prefix = DefaultRenamePrefix
	}
	if length <= 0 {
		length = DefaultRenameLength
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	r := &Renamer{
		prefix: prefix,
		length: length,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		taken:  make(map[string]bool, len(taken)),
	}
	for _, name := range taken {
		r.taken[name] = true
	}
	return r
}

// Fresh returns a new unused identifier and reserves it.
func (r *Renamer) Fresh() string {
	var b strings.Builder
	for {
		b.Reset()
		b.WriteString(r.prefix)
		for range r.length {
			b.WriteByte(alphabet[r.rng.IntN(len(alphabet))])
		}
		if name := b.String(); !r.taken[name] {
			r.taken[name] = true
			return name
		}
	}
}

// RenameFunctions gives each target definition a fresh name, rewriting
// the name token everywhere it refers to the function inside its own
// definition. Call sites elsewhere are left alone.
func (s *Session) RenameFunctions() ([]RenameRecord, error) {
	defs, err := s.targets()
	if err != nil {
		return nil, err
	}
	u := s.Unit
	var out []RenameRecord
	for _, d := range defs {
		fresh := s.Names.Fresh()
		s.Edits.Replace(d.NameNode.Span, fresh, "rename-function")
		d.Node.Walk(func(n *cast.Node) bool {
			if n.Type != "identifier" || n == d.NameNode {
				return true
			}
			if ref := u.Ref(n); ref != nil && ref.Kind == cast.DeclFunction && ref.Name == d.Name {
				s.Edits.Replace(n.Span, fresh, "rename-function")
			}
			return true
		})
		out = append(out, RenameRecord{Old: d.Name, New: fresh, Scope: d.Name})
	}
	s.renames = append(s.renames, out...)
	s.logger.Debug("renamed functions", zap.Int("count", len(out)))
	return out, nil
}

// RenameGlobals suffixes each global referenced inside a target function
// with that function's name, in the declaration and in every reference
// within the function. References in other functions are not touched.
// When several target functions share a global, its declarator is
// repeated once per function so each gets its own copy.
func (s *Session) RenameGlobals() ([]RenameRecord, error) {
	defs, err := s.targets()
	if err != nil {
		return nil, err
	}
	u := s.Unit

	users := make(map[string][]string)
	var order []string
	for _, d := range defs {
		seen := make(map[string]bool)
		d.Node.Walk(func(n *cast.Node) bool {
			if n.Type != "identifier" {
				return true
			}
			ref := u.Ref(n)
			if ref == nil || ref.Kind != cast.DeclGlobal {
				return true
			}
			s.Edits.InsertAfter(n.Span, "_"+d.Name, "rename-global-ref")
			if !seen[ref.Name] {
				seen[ref.Name] = true
				if _, ok := users[ref.Name]; !ok {
					order = append(order, ref.Name)
				}
				users[ref.Name] = append(users[ref.Name], d.Name)
			}
			return true
		})
	}

	var out []RenameRecord
	for _, name := range order {
		fns := users[name]
		for _, g := range u.Globals() {
			if g.Name != name {
				continue
			}
			if len(fns) == 1 {
				s.Edits.InsertAfter(g.NameNode.Span, "_"+fns[0], "rename-global-decl")
				continue
			}
			s.Edits.Replace(g.Declarator.Span, s.copies(g, fns), "rename-global-decl")
		}
		for _, fn := range fns {
			out = append(out, RenameRecord{Old: name, New: name + "_" + fn, Scope: fn})
		}
	}
	s.renames = append(s.renames, out...)
	s.logger.Debug("renamed globals", zap.Int("count", len(out)))
	return out, nil
}

// copies renders g's declarator once per function, each with the name
// suffixed for that function.
func (s *Session) copies(g *cast.Decl, fns []string) string {
	u := s.Unit
	before := u.File.Slice(source.Span{Start: g.Declarator.Span.Start, End: g.NameNode.Span.End})
	after := u.File.Slice(source.Span{Start: g.NameNode.Span.End, End: g.Declarator.Span.End})
	parts := make([]string, len(fns))
	for i, fn := range fns {
		parts[i] = before + "_" + fn + after
	}
	return strings.Join(parts, ", ")
}
