package transform

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/source"
	"github.com/robert-at-pretension-io/cforge/internal/synth"
)

// CallSite is one invocation seen by EliminateCalls.
type CallSite struct {
	Node   *cast.Node
	Callee string
	Type   cast.TypeDescriptor
	// Replacement is the literal the call was replaced with, or empty when
	// its type has no placeholder and the call was left as written.
	Replacement string
}

// Resolvable reports whether the call was replaced.
func (c CallSite) Resolvable() bool { return c.Replacement != "" }

// EliminateCalls replaces calls in the target definitions with typed
// placeholders. A resolvable call is replaced whole, which subsumes any
// calls nested in its arguments; an unresolvable call keeps its text and
// its arguments are searched for calls in turn. The result equals
// repeatedly eliminating innermost calls until none change.
func (s *Session) EliminateCalls() ([]CallSite, error) {
	defs, err := s.targets()
	if err != nil {
		return nil, err
	}
	start := len(s.calls)
	for _, d := range defs {
		body := d.Node.Child("body")
		if body == nil {
			continue
		}
		if err := s.eliminateIn(body); err != nil {
			return nil, fmt.Errorf("eliminate calls in %s: %w", d.Name, err)
		}
	}
	sites := s.calls[start:]
	unresolved := 0
	for _, c := range sites {
		if !c.Resolvable() {
			unresolved++
		}
	}
	s.logger.Debug("eliminated calls", zap.Int("calls", len(sites)), zap.Int("unresolved", unresolved))
	return sites, nil
}

func (s *Session) eliminateIn(n *cast.Node) error {
	if n.Type != "call_expression" {
		for _, ch := range n.Children {
			if err := s.eliminateIn(ch); err != nil {
				return err
			}
		}
		return nil
	}

	u := s.Unit
	site := CallSite{
		Node:   n,
		Callee: u.Text(n.Child("function")),
		Type:   u.TypeOf(n),
	}
	lit, err := synth.Placeholder(site.Type)
	switch {
	case err == nil:
		site.Replacement = lit
		s.calls = append(s.calls, site)
		s.Edits.Replace(n.Span, "("+lit+")", "eliminate-call")
		return nil
	case errors.Is(err, synth.ErrUnresolvable):
		s.calls = append(s.calls, site)
		s.logger.Debug("call left in place", zap.String("callee", site.Callee), zap.String("type", site.Type.Spelling))
	default:
		return err
	}
	for _, ch := range n.Children {
		if err := s.eliminateIn(ch); err != nil {
			return err
		}
	}
	return nil
}

// RemoveExterns deletes every function declaration that is not the
// definition being processed. With a target, other definitions go too.
func (s *Session) RemoveExterns() (int, error) {
	if _, err := s.targets(); err != nil {
		return 0, err
	}
	u := s.Unit
	var removed []*cast.Node
	inRemoved := func(n *cast.Node) bool {
		for _, r := range removed {
			if r.IsAncestorOf(n) {
				return true
			}
		}
		return false
	}

	count := 0
	for _, n := range u.Nodes() {
		switch n.Type {
		case "function_definition":
			if s.opts.Target == "" || inRemoved(n) {
				continue
			}
			if d := u.DefinitionAt(n); d != nil && d.Name == s.opts.Target {
				continue
			}
			removed = append(removed, n)
			s.Edits.Replace(n.Span, "", "remove-definition")
			count++
		case "declaration":
			if inRemoved(n) {
				continue
			}
			dropped, whole := s.dropPrototypes(n)
			if whole {
				removed = append(removed, n)
			}
			count += dropped
		}
	}
	s.logger.Debug("removed function declarations", zap.Int("count", count))
	return count, nil
}

// dropPrototypes deletes the function declarators of declaration n. When
// every declarator goes, the whole declaration is deleted and whole is
// true. Otherwise each dropped declarator takes one separating comma
// with it, leaving the remaining declarators and their initializers
// untouched.
func (s *Session) dropPrototypes(n *cast.Node) (dropped int, whole bool) {
	declarators := n.ChildrenByField("declarator")
	isProto := make([]bool, len(declarators))
	firstKept := -1
	for i, d := range declarators {
		isProto[i] = cast.FunctionDeclarator(d) != nil
		if isProto[i] {
			dropped++
		} else if firstKept < 0 {
			firstKept = i
		}
	}
	switch {
	case dropped == 0:
		return 0, false
	case firstKept < 0:
		s.Edits.Replace(n.Span, "", "remove-prototype")
		return dropped, true
	}

	if firstKept > 0 {
		s.Edits.Replace(source.Span{
			Start: declarators[0].Span.Start,
			End:   declarators[firstKept].Span.Start,
		}, "", "remove-prototype")
	}
	for i := firstKept + 1; i < len(declarators); i++ {
		if !isProto[i] {
			continue
		}
		s.Edits.Replace(source.Span{
			Start: declarators[i-1].Span.End,
			End:   declarators[i].Span.End,
		}, "", "remove-prototype")
	}
	return dropped, false
}
