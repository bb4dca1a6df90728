package cast

import (
	"strconv"
	"strings"
)

// DeclKind distinguishes the declarations a unit exposes.
type DeclKind int

const (
	DeclFunction DeclKind = iota
	DeclGlobal
	DeclTypedef
	DeclLocal
	DeclParam
	DeclEnumConst
)

func (k DeclKind) String() string {
	switch k {
	case DeclFunction:
		return "function"
	case DeclGlobal:
		return "global"
	case DeclTypedef:
		return "typedef"
	case DeclLocal:
		return "local"
	case DeclParam:
		return "param"
	case DeclEnumConst:
		return "enumerator"
	}
	return "unknown"
}

// Decl is one declared name. For functions Type is the return type.
type Decl struct {
	Kind DeclKind
	Name string
	Type string

	// Node is the enclosing declaration, function_definition,
	// type_definition or parameter_declaration.
	Node *Node
	// Declarator is the top-level declarator child of Node that introduces
	// this name, including any initializer.
	Declarator *Node
	NameNode   *Node

	Params       []Param
	Variadic     bool
	IsDefinition bool
	Storage      string
	Scope        ScopeID
}

// Param is one function parameter. Unnamed prototype parameters have an
// empty Name.
type Param struct {
	Name string
	Type string
	Node *Node
}

// HasLocalStorage reports automatic storage: parameters and block-scope
// variables that are neither static nor extern.
func (d *Decl) HasLocalStorage() bool {
	switch d.Kind {
	case DeclParam:
		return true
	case DeclLocal:
		return d.Storage != "static" && d.Storage != "extern"
	}
	return false
}

// IsVariable reports whether d names an object rather than a function,
// type or enumerator.
func (d *Decl) IsVariable() bool {
	return d.Kind == DeclGlobal || d.Kind == DeclLocal || d.Kind == DeclParam
}

// Decls returns every declaration in source order.
func (u *Unit) Decls() []*Decl { return u.decls }

// Functions returns file-scope function declarations and definitions.
func (u *Unit) Functions() []*Decl { return u.filter(DeclFunction, true) }

// Globals returns file-scope variable declarations.
func (u *Unit) Globals() []*Decl { return u.filter(DeclGlobal, true) }

func (u *Unit) Typedefs() []*Decl { return u.filter(DeclTypedef, true) }

func (u *Unit) filter(kind DeclKind, fileScope bool) []*Decl {
	var out []*Decl
	for _, d := range u.decls {
		if d.Kind != kind {
			continue
		}
		if fileScope && d.Scope != ScopeGlobal {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Definition returns the function definition named name, if any.
func (u *Unit) Definition(name string) *Decl {
	for _, d := range u.decls {
		if d.Kind == DeclFunction && d.IsDefinition && d.Name == name {
			return d
		}
	}
	return nil
}

// Ref returns the declaration an identifier resolves to, or nil when the
// identifier is not a reference or names nothing declared in the unit.
func (u *Unit) Ref(n *Node) *Decl {
	if n == nil {
		return nil
	}
	return u.refs[n.ID]
}

// IsReference reports whether n is an identifier used as an expression.
func (u *Unit) IsReference(n *Node) bool {
	if n == nil || n.Type != "identifier" {
		return false
	}
	_, ok := u.refs[n.ID]
	return ok
}

// declarator is the result of walking a declarator chain.
type declarator struct {
	name     *Node
	typ      string
	function *Node // function_declarator when the name is a function
}

// walkDeclarator peels pointer, array, function and parenthesized layers
// off d, building the declared type from base. sizes receives array size
// expressions so callers can resolve names inside them.
func (u *Unit) walkDeclarator(d *Node, base string, sizes func(*Node)) declarator {
	if d == nil {
		return declarator{typ: base}
	}
	switch d.Type {
	case "identifier", "field_identifier", "type_identifier", "primitive_type":
		return declarator{name: d, typ: base}
	case "init_declarator", "attributed_declarator":
		return u.walkDeclarator(d.Child("declarator"), base, sizes)
	case "parenthesized_declarator":
		if len(d.Children) == 0 {
			return declarator{typ: base}
		}
		return u.walkDeclarator(d.Children[0], base, sizes)
	case "pointer_declarator", "abstract_pointer_declarator":
		t := pointerTo(base)
		for _, ch := range d.Children {
			if ch.Type == "type_qualifier" {
				t += " " + u.Text(ch)
			}
		}
		return u.walkDeclarator(d.Child("declarator"), t, sizes)
	case "array_declarator", "abstract_array_declarator":
		size := d.Child("size")
		if size != nil && sizes != nil {
			sizes(size)
		}
		return u.walkDeclarator(d.Child("declarator"), arrayOf(base, u.Text(size)), sizes)
	case "function_declarator", "abstract_function_declarator":
		inner := unwrapParens(d.Child("declarator"))
		if inner != nil && inner.Type == "identifier" {
			return declarator{name: inner, typ: base, function: d}
		}
		res := u.walkDeclarator(inner, base, sizes)
		return declarator{name: res.name, typ: base + " (*)()"}
	}
	return declarator{typ: base}
}

func unwrapParens(n *Node) *Node {
	for n != nil && n.Type == "parenthesized_declarator" && len(n.Children) > 0 {
		n = n.Children[0]
	}
	return n
}

func pointerTo(t string) string {
	if strings.HasSuffix(t, "*") {
		return t + "*"
	}
	return t + " *"
}

func arrayOf(t, size string) string {
	dim := "[" + strings.TrimSpace(size) + "]"
	if i := strings.Index(t, "["); i >= 0 {
		return t[:i] + dim + t[i:]
	}
	return t + " " + dim
}

// FunctionDeclarator finds the function_declarator that names a function
// through any pointer layers of its return type.
func FunctionDeclarator(d *Node) *Node {
	for d != nil {
		switch d.Type {
		case "function_declarator":
			if inner := unwrapParens(d.Child("declarator")); inner != nil && inner.Type == "identifier" {
				return d
			}
			d = d.Child("declarator")
		case "parenthesized_declarator":
			d = unwrapParens(d)
		case "pointer_declarator", "init_declarator", "attributed_declarator", "array_declarator":
			d = d.Child("declarator")
		default:
			return nil
		}
	}
	return nil
}

// baseType renders the specifier part of a declaration: qualifiers plus
// the type field, normalized.
func (u *Unit) baseType(decl *Node) string {
	var quals []string
	for _, ch := range decl.Children {
		if ch.Type == "type_qualifier" {
			quals = append(quals, u.Text(ch))
		}
	}
	t := u.specifier(decl.Child("type"))
	if len(quals) > 0 {
		return strings.Join(quals, " ") + " " + t
	}
	return t
}

func (u *Unit) storage(decl *Node) string {
	for _, ch := range decl.Children {
		if ch.Type == "storage_class_specifier" {
			return u.Text(ch)
		}
	}
	return ""
}

// specifier spells a type specifier node.
func (u *Unit) specifier(t *Node) string {
	if t == nil {
		return "int"
	}
	switch t.Type {
	case "sized_type_specifier":
		return canonicalInteger(strings.Fields(u.Text(t)))
	case "primitive_type":
		return u.Text(t)
	case "struct_specifier", "union_specifier", "enum_specifier":
		kw := strings.TrimSuffix(t.Type, "_specifier")
		if name := t.Child("name"); name != nil {
			return kw + " " + u.Text(name)
		}
		if n, ok := u.anonNames[t.ID]; ok {
			return n
		}
		return kw + " <anonymous>"
	}
	return strings.Join(strings.Fields(u.Text(t)), " ")
}

// canonicalInteger spells sized integer specifiers the way clang prints
// them: "unsigned long int" becomes "unsigned long".
func canonicalInteger(words []string) string {
	var unsigned, signed bool
	var longs, shorts int
	base := ""
	for _, w := range words {
		switch w {
		case "unsigned":
			unsigned = true
		case "signed":
			signed = true
		case "long":
			longs++
		case "short":
			shorts++
		case "int":
		default:
			base = w
		}
	}
	var size string
	switch {
	case shorts > 0:
		size = "short"
	case longs >= 2:
		size = "long long"
	case longs == 1:
		size = "long"
	}
	switch base {
	case "char":
		switch {
		case unsigned:
			return "unsigned char"
		case signed:
			return "signed char"
		}
		return "char"
	case "double":
		if size == "long" {
			return "long double"
		}
		return "double"
	case "":
	default:
		size = strings.TrimSpace(size + " " + base)
	}
	if size == "" {
		size = "int"
	}
	if unsigned {
		return "unsigned " + size
	}
	return size
}

// collectTypes gathers struct/union member tables, typedefs and enum
// constants. Anonymous aggregates get unique spellings first so typedefs of
// them can be followed to their members.
func (u *Unit) collectTypes() {
	u.typedefs = make(map[string]string)
	u.members = make(map[string]map[string]string)
	u.anonNames = make(map[int]string)

	for _, n := range u.nodes {
		switch n.Type {
		case "struct_specifier", "union_specifier", "enum_specifier":
			if n.Child("name") == nil {
				kw := strings.TrimSuffix(n.Type, "_specifier")
				u.anonNames[n.ID] = kw + " __anon" + strconv.Itoa(n.ID)
			}
		}
	}

	for _, n := range u.nodes {
		switch n.Type {
		case "struct_specifier", "union_specifier":
			body := n.Child("body")
			if body == nil {
				continue
			}
			key := u.specifier(n)
			fields := make(map[string]string)
			for _, fd := range body.Children {
				if fd.Type != "field_declaration" {
					continue
				}
				base := u.baseType(fd)
				for _, d := range fd.ChildrenByField("declarator") {
					res := u.walkDeclarator(d, base, nil)
					if res.name != nil {
						fields[u.Text(res.name)] = res.typ
					}
				}
			}
			u.members[key] = fields
		case "type_definition":
			base := u.baseType(n)
			for _, d := range n.ChildrenByField("declarator") {
				res := u.walkDeclarator(d, base, nil)
				if res.name == nil {
					continue
				}
				name := u.Text(res.name)
				u.typedefs[name] = res.typ
				u.decls = append(u.decls, &Decl{
					Kind:       DeclTypedef,
					Name:       name,
					Type:       res.typ,
					Node:       n,
					Declarator: d,
					NameNode:   res.name,
					Scope:      u.scopes[n.ID].scope,
				})
			}
		}
	}
}

// Members returns the member types of a struct or union spelling.
func (u *Unit) Members(spelling string) map[string]string {
	return u.members[u.aggregateKey(spelling)]
}

func (u *Unit) aggregateKey(spelling string) string {
	s := stripQualifiers(spelling)
	for range maxTypedefDepth {
		if strings.HasPrefix(s, "struct ") || strings.HasPrefix(s, "union ") {
			return s
		}
		next, ok := u.typedefs[s]
		if !ok {
			return s
		}
		s = stripQualifiers(next)
	}
	return s
}
