// Package cast parses C translation units with tree-sitter and exposes an
// owned, read-only view of them: nodes with stable pre-order ids, lexical
// scopes, declarations, name resolution and expression types.
package cast

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"

	"github.com/robert-at-pretension-io/cforge/internal/source"
)

// ErrSyntax reports a unit whose parse contains ERROR or MISSING nodes.
var ErrSyntax = errors.New("syntax errors in translation unit")

// Node is one named node of a parsed unit. Anonymous tokens are folded
// into their parent: an operator token becomes Op, everything else is
// only visible through the node's text.
type Node struct {
	ID       int
	Type     string
	Field    string
	Op       string
	Span     source.Span
	Row      uint32
	Parent   *Node
	Children []*Node
}

// Child returns the first child carrying the given field name.
func (n *Node) Child(field string) *Node {
	if n == nil {
		return nil
	}
	for _, ch := range n.Children {
		if ch.Field == field {
			return ch
		}
	}
	return nil
}

// ChildrenByField returns every child carrying the given field name.
func (n *Node) ChildrenByField(field string) []*Node {
	var out []*Node
	for _, ch := range n.Children {
		if ch.Field == field {
			out = append(out, ch)
		}
	}
	return out
}

// Ancestor returns the nearest strict ancestor of one of the given types.
func (n *Node) Ancestor(types ...string) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		for _, t := range types {
			if p.Type == t {
				return p
			}
		}
	}
	return nil
}

// IsAncestorOf reports whether n is a strict ancestor of other.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other.Parent; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, ch := range n.Children {
		ch.Walk(fn)
	}
}

// Parser turns C source into Units.
type Parser struct {
	lang *sitter.Language
}

func NewParser() *Parser {
	return &Parser{lang: c.GetLanguage()}
}

// Parse parses one file. A tree-sitter parser is not safe for concurrent
// use, so every call gets its own.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) (*Unit, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	u := &Unit{File: source.File{Path: path, Text: src}}
	root := tree.RootNode()
	u.syntaxErrors = root.HasError()
	u.Root = u.build(root, nil, "")
	u.analyze()
	return u, nil
}

// build copies the tree-sitter subtree into owned nodes, numbering named
// non-comment nodes in pre-order.
func (u *Unit) build(sn *sitter.Node, parent *Node, field string) *Node {
	span := source.Span{Start: sn.StartByte(), End: sn.EndByte()}
	n := &Node{
		ID:     len(u.nodes),
		Type:   sn.Type(),
		Field:  field,
		Span:   span,
		Row:    sn.StartPoint().Row,
		Parent: parent,
	}
	u.nodes = append(u.nodes, n)
	if sn.IsMissing() {
		u.syntaxErrors = true
	}

	for i := 0; i < int(sn.ChildCount()); i++ {
		ch := sn.Child(i)
		if ch == nil {
			continue
		}
		fieldName := sn.FieldNameForChild(i)
		if !ch.IsNamed() {
			if fieldName == "operator" {
				n.Op = ch.Type()
			}
			if ch.IsMissing() {
				u.syntaxErrors = true
			}
			continue
		}
		if ch.Type() == "comment" {
			continue
		}
		n.Children = append(n.Children, u.build(ch, n, fieldName))
	}
	return n
}
