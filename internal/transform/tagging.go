package transform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/rewrite"
	"github.com/robert-at-pretension-io/cforge/internal/source"
	"github.com/robert-at-pretension-io/cforge/internal/tags"
)

const entryFunction = "main"

// TagExpressions wraps every qualifying value expression in a Tag<id>(...)
// marker and brackets its statement with boundary comments.
func (s *Session) TagExpressions() error {
	return s.tag(tags.StyleExpression)
}

// TagStatements wraps qualifying values of the fixed statement type set,
// scoped by their enclosing statement's block.
func (s *Session) TagStatements() error {
	return s.tag(tags.StyleStatement)
}

// queueHeader schedules the macro prelude at the top of the file. It is
// rendered at apply time so it covers every id allocated by then.
func (s *Session) queueHeader() {
	if s.headerQueued {
		return
	}
	s.headerQueued = true
	s.Edits.Generate(rewrite.InsertBefore, source.Span{}, s.Tags.Header, "tag-header")
}

func (s *Session) tag(style tags.Style) error {
	s.queueHeader()
	u := s.Unit
	count := 0
	for _, n := range u.Nodes() {
		decl := s.candidate(n, style)
		if decl == nil {
			continue
		}
		stmt := u.Statement(n)
		if stmt == nil || !s.eligible(n, decl, style) {
			continue
		}

		t := u.TypeOf(n)
		var scope, parent cast.ScopeID
		if style == tags.StyleStatement {
			scope, parent = u.ScopeOf(stmt)
		} else {
			scope, parent = s.declScope(decl)
		}

		if style == tags.StyleExpression && !s.marked[stmt.ID] {
			s.marked[stmt.ID] = true
			s.Edits.InsertBefore(stmt.Span, tags.StatementBefore(stmt.ID), "stmt-marker")
			s.Edits.InsertAfter(stmt.Span, tags.StatementAfter(stmt.ID), "stmt-marker")
		}

		stmtID := stmt.ID
		id, err := s.Tags.Allocate(t, scope, parent, &stmtID, style)
		if err != nil {
			return fmt.Errorf("tag %q at byte %d: %w", u.Text(n), n.Span.Start, err)
		}
		origin := "tag-" + string(style)
		s.Edits.InsertBefore(n.Span, tags.Open(s.Tags.Tag(id)), origin)
		s.Edits.InsertAfter(n.Span, tags.Close, origin)
		count++
	}
	s.logger.Debug("tagged", zap.String("style", string(style)), zap.Int("count", count))
	return nil
}

// declScope is the scope of the declaration an observed value comes from.
func (s *Session) declScope(d *cast.Decl) (cast.ScopeID, cast.ScopeID) {
	if d.NameNode == nil {
		return d.Scope, cast.ScopeFunction
	}
	return s.Unit.ScopeOf(d.NameNode)
}

// candidate reports whether n has one of the shapes a pass tags and, if
// so, returns the variable whose value it observes.
func (s *Session) candidate(n *cast.Node, style tags.Style) *cast.Decl {
	u := s.Unit
	switch n.Type {
	case "identifier":
		d := u.Ref(n)
		if d == nil || !d.IsVariable() {
			return nil
		}
		if style == tags.StyleExpression && n.Ancestor("field_expression") != nil {
			return nil
		}
		if style == tags.StyleStatement && n.Parent.Type == "field_expression" {
			return nil
		}
		return d
	case "pointer_expression":
		if n.Op != "*" {
			return nil
		}
		return s.firstVariable(n)
	case "subscript_expression":
		base := s.firstVariable(n.Child("argument"))
		if base == nil {
			return nil
		}
		if style == tags.StyleExpression {
			if len(s.variableRefs(n)) != 1 || n.Ancestor("field_expression") != nil {
				return nil
			}
		}
		return base
	case "field_expression":
		if style != tags.StyleExpression {
			return nil
		}
		return s.firstVariable(n)
	}
	return nil
}

// eligible applies the context filters shared by both passes.
func (s *Session) eligible(n *cast.Node, d *cast.Decl, style tags.Style) bool {
	u := s.Unit
	t := u.TypeOf(n)
	if style == tags.StyleStatement {
		if !tags.StatementEligible(t) {
			return false
		}
	} else if !t.IsIntegerLike() {
		return false
	}

	if n.Ancestor("compound_statement") == nil {
		return false
	}
	fn := u.EnclosingFunction(n)
	if fn == nil {
		return false
	}
	if def := u.DefinitionAt(fn); def != nil && def.Name == entryFunction {
		return false
	}
	if isAssignmentTarget(n) {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == "pointer_expression" && p.Op == "&" {
			return false
		}
		if p.Type == "update_expression" {
			return false
		}
	}
	hasUpdate := false
	n.Walk(func(x *cast.Node) bool {
		if x.Type == "update_expression" {
			hasUpdate = true
		}
		return !hasUpdate
	})
	if hasUpdate {
		return false
	}
	return !s.loopCounter(n, d)
}

// isAssignmentTarget reports whether n, looking through parentheses, is
// the left operand of an assignment.
func isAssignmentTarget(n *cast.Node) bool {
	cur := n
	for cur.Parent != nil && cur.Parent.Type == "parenthesized_expression" {
		cur = cur.Parent
	}
	return cur.Parent != nil && cur.Parent.Type == "assignment_expression" && cur.Field == "left"
}

// loopCounter reports whether n sits in the header of a for statement
// whose initializer declares or assigns d.
func (s *Session) loopCounter(n *cast.Node, d *cast.Decl) bool {
	for child, p := n, n.Parent; p != nil; child, p = p, p.Parent {
		if p.Type != "for_statement" {
			continue
		}
		switch child.Field {
		case "initializer", "condition", "update":
		default:
			continue
		}
		for _, init := range p.ChildrenByField("initializer") {
			if d.Node == init {
				return true
			}
			for _, ref := range s.variableRefs(init) {
				if ref == d {
					return true
				}
			}
		}
	}
	return false
}

// firstVariable returns the first variable referenced at or below n.
func (s *Session) firstVariable(n *cast.Node) *cast.Decl {
	refs := s.variableRefs(n)
	if len(refs) == 0 {
		return nil
	}
	return refs[0]
}

// variableRefs lists the variables referenced at or below n in pre-order.
func (s *Session) variableRefs(n *cast.Node) []*cast.Decl {
	if n == nil {
		return nil
	}
	var out []*cast.Decl
	n.Walk(func(x *cast.Node) bool {
		if x.Type == "identifier" {
			if d := s.Unit.Ref(x); d != nil && d.IsVariable() {
				out = append(out, d)
			}
		}
		return true
	})
	return out
}
