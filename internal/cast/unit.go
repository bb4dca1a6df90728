package cast

import (
	"strconv"

	"github.com/robert-at-pretension-io/cforge/internal/source"
)

// Unit is one parsed translation unit. It is immutable once Parse returns;
// every derived table is computed up front.
type Unit struct {
	File source.File
	Root *Node

	nodes        []*Node
	syntaxErrors bool

	scopes []scopeInfo

	decls     []*Decl
	fileScope map[string]*Decl
	refs      map[int]*Decl
	typedefs  map[string]string
	members   map[string]map[string]string
	anonNames map[int]string
}

// NodeInfo is the per-node lookup record: span plus lexical scope.
type NodeInfo struct {
	ID          int
	Span        source.Span
	Scope       ScopeID
	ParentScope ScopeID
}

func (u *Unit) Path() string { return u.File.Path }
func (u *Unit) Src() []byte   { return u.File.Text }

// HasErrors reports whether the parse recovered from syntax errors.
func (u *Unit) HasErrors() bool { return u.syntaxErrors }

// Text returns the exact source text of n.
func (u *Unit) Text(n *Node) string {
	if n == nil {
		return ""
	}
	return u.File.Slice(n.Span)
}

// Node returns the node with the given pre-order id, or nil.
func (u *Unit) Node(id int) *Node {
	if id < 0 || id >= len(u.nodes) {
		return nil
	}
	return u.nodes[id]
}

// Nodes returns every node in pre-order.
func (u *Unit) Nodes() []*Node { return u.nodes }

// Lookup returns span and scope for the node with the given id.
func (u *Unit) Lookup(id int) (NodeInfo, bool) {
	n := u.Node(id)
	if n == nil {
		return NodeInfo{}, false
	}
	sc := u.scopes[id]
	return NodeInfo{ID: id, Span: n.Span, Scope: sc.scope, ParentScope: sc.parent}, true
}

// ScopeOf returns the innermost enclosing block id of n and that block's
// parent id.
func (u *Unit) ScopeOf(n *Node) (ScopeID, ScopeID) {
	sc := u.scopes[n.ID]
	return sc.scope, sc.parent
}

// ScopeID identifies a compound statement by node id. Two sentinels cover
// the levels above any block.
type ScopeID int

const (
	ScopeGlobal   ScopeID = -1
	ScopeFunction ScopeID = -2
)

func (s ScopeID) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeFunction:
		return "function"
	default:
		return strconv.Itoa(int(s))
	}
}

func (s ScopeID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ScopeID) UnmarshalText(b []byte) error {
	switch string(b) {
	case "global":
		*s = ScopeGlobal
	case "function":
		*s = ScopeFunction
	default:
		v, err := strconv.Atoi(string(b))
		if err != nil {
			return err
		}
		*s = ScopeID(v)
	}
	return nil
}

type scopeInfo struct {
	scope  ScopeID
	parent ScopeID
}

func (u *Unit) analyze() {
	u.scopes = make([]scopeInfo, len(u.nodes))
	u.assignScopes(u.Root, ScopeGlobal, ScopeGlobal, nil)
	u.collectTypes()
	u.resolve()
}

// assignScopes records, for every node, the nearest enclosing compound
// statement and the block one level above it. body is the top-level block
// of the function being walked.
func (u *Unit) assignScopes(n *Node, scope, parent ScopeID, body *Node) {
	u.scopes[n.ID] = scopeInfo{scope: scope, parent: parent}

	switch n.Type {
	case "compound_statement":
		childParent := scope
		if n == body || body == nil {
			childParent = ScopeFunction
		}
		for _, ch := range n.Children {
			u.assignScopes(ch, ScopeID(n.ID), childParent, body)
		}
		return
	case "function_definition":
		fnBody := n.Child("body")
		for _, ch := range n.Children {
			u.assignScopes(ch, scope, parent, fnBody)
		}
		if fnBody == nil {
			return
		}
		if params := FunctionDeclarator(n.Child("declarator")).Child("parameters"); params != nil {
			u.assignScopes(params, ScopeID(fnBody.ID), ScopeFunction, fnBody)
		}
		return
	}
	for _, ch := range n.Children {
		u.assignScopes(ch, scope, parent, body)
	}
}

// Statement returns the statement that immediately encloses n: the nearest
// ancestor-or-self whose parent is a compound statement.
func (u *Unit) Statement(n *Node) *Node {
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		if cur.Parent.Type == "compound_statement" {
			return cur
		}
	}
	return nil
}

// EnclosingFunction returns the function definition containing n.
func (u *Unit) EnclosingFunction(n *Node) *Node {
	if n.Type == "function_definition" {
		return n
	}
	return n.Ancestor("function_definition")
}
