package cast

import (
	"sort"
	"strings"
)

// env is one level of the block-scoped symbol table.
type env struct {
	names map[string]*Decl
	outer *env
}

func (e *env) lookup(name string) *Decl {
	for cur := e; cur != nil; cur = cur.outer {
		if d, ok := cur.names[name]; ok {
			return d
		}
	}
	return nil
}

func (e *env) push() *env {
	return &env{names: make(map[string]*Decl), outer: e}
}

// resolve binds declarations and maps every identifier in expression
// position to its declaration. File-scope names are visible everywhere;
// block-scope names only after their declarator.
func (u *Unit) resolve() {
	u.refs = make(map[int]*Decl)
	u.fileScope = make(map[string]*Decl)

	file := &env{names: u.fileScope}
	for _, d := range u.decls {
		if d.Kind == DeclTypedef && d.Scope == ScopeGlobal {
			file.names[d.Name] = d
		}
	}
	u.collectEnums(file)
	u.declareFileScope(u.Root, file)
	u.walk(u.Root, file)

	sort.SliceStable(u.decls, func(i, j int) bool {
		return declPos(u.decls[i]) < declPos(u.decls[j])
	})
}

func declPos(d *Decl) uint32 {
	if d.NameNode != nil {
		return d.NameNode.Span.Start
	}
	return d.Node.Span.Start
}

func (u *Unit) collectEnums(file *env) {
	for _, n := range u.nodes {
		if n.Type != "enumerator" {
			continue
		}
		name := n.Child("name")
		if name == nil {
			continue
		}
		d := &Decl{
			Kind:     DeclEnumConst,
			Name:     u.Text(name),
			Type:     "int",
			Node:     n,
			NameNode: name,
			Scope:    ScopeGlobal,
		}
		u.decls = append(u.decls, d)
		file.names[d.Name] = d
	}
}

// declareFileScope binds every file-scope function and variable before
// bodies are walked. A definition wins over earlier prototypes.
func (u *Unit) declareFileScope(n *Node, file *env) {
	for _, ch := range n.Children {
		switch ch.Type {
		case "function_definition":
			d := u.functionDecl(ch, ch.Child("declarator"), u.baseType(ch), ScopeGlobal)
			if d == nil {
				continue
			}
			d.IsDefinition = true
			d.Declarator = ch.Child("declarator")
			u.decls = append(u.decls, d)
			file.names[d.Name] = d
		case "declaration":
			for _, d := range u.declaration(ch, ScopeGlobal, nil) {
				if prev, ok := file.names[d.Name]; ok && prev.Kind == DeclFunction && prev.IsDefinition {
					continue
				}
				if prev, ok := file.names[d.Name]; ok && prev.Kind == DeclGlobal && d.Storage == "extern" {
					continue
				}
				file.names[d.Name] = d
			}
		case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "preproc_elifdef", "linkage_specification", "declaration_list":
			u.declareFileScope(ch, file)
		}
	}
}

// declaration records every declarator of a declaration node. bind, when
// set, resolves initializer and array size expressions.
func (u *Unit) declaration(n *Node, scope ScopeID, bind func(*Node)) []*Decl {
	base := u.baseType(n)
	storage := u.storage(n)
	var out []*Decl
	for _, dn := range n.ChildrenByField("declarator") {
		if FunctionDeclarator(dn) != nil {
			if d := u.functionDecl(n, dn, base, scope); d != nil {
				d.Storage = storage
				d.Declarator = dn
				u.decls = append(u.decls, d)
				out = append(out, d)
			}
			continue
		}
		res := u.walkDeclarator(dn, base, bind)
		if res.name == nil {
			continue
		}
		kind := DeclLocal
		if scope == ScopeGlobal {
			kind = DeclGlobal
		}
		d := &Decl{
			Kind:         kind,
			Name:         u.Text(res.name),
			Type:         res.typ,
			Node:         n,
			Declarator:   dn,
			NameNode:     res.name,
			Storage:      storage,
			Scope:        scope,
			IsDefinition: storage != "extern",
		}
		u.decls = append(u.decls, d)
		out = append(out, d)
	}
	return out
}

// functionDecl builds a function declaration from the declarator chain
// ending in a function_declarator.
func (u *Unit) functionDecl(n, dn *Node, base string, scope ScopeID) *Decl {
	res := u.walkDeclarator(dn, base, nil)
	if res.name == nil || res.function == nil {
		return nil
	}
	d := &Decl{
		Kind:     DeclFunction,
		Name:     u.Text(res.name),
		Type:     res.typ,
		Node:     n,
		NameNode: res.name,
		Storage:  u.storage(n),
		Scope:    scope,
	}
	params := res.function.Child("parameters")
	if params == nil {
		return d
	}
	d.Variadic = strings.HasSuffix(strings.TrimSuffix(strings.TrimSpace(u.Text(params)), ")"), "...")
	for _, p := range params.Children {
		switch p.Type {
		case "parameter_declaration":
			pr := u.walkDeclarator(p.Child("declarator"), u.baseType(p), nil)
			if pr.name == nil && pr.typ == "void" {
				continue
			}
			param := Param{Type: pr.typ, Node: p}
			if pr.name != nil {
				param.Name = u.Text(pr.name)
			}
			d.Params = append(d.Params, param)
		}
	}
	return d
}

// walk resolves identifiers below n against e.
func (u *Unit) walk(n *Node, e *env) {
	switch n.Type {
	case "identifier":
		if d := e.lookup(u.Text(n)); d != nil {
			u.refs[n.ID] = d
		} else {
			u.refs[n.ID] = nil
		}
		return
	case "function_definition":
		u.walkFunction(n, e)
		return
	case "declaration":
		u.walkDeclaration(n, e)
		return
	case "compound_statement", "for_statement":
		inner := e.push()
		for _, ch := range n.Children {
			u.walk(ch, inner)
		}
		return
	case "preproc_def", "preproc_function_def", "preproc_call", "preproc_include",
		"type_definition", "type_descriptor", "struct_specifier", "union_specifier",
		"enum_specifier", "field_identifier", "statement_identifier", "sizeof_type":
		return
	case "preproc_if", "preproc_ifdef", "preproc_elif", "preproc_elifdef":
		for _, ch := range n.Children {
			if ch.Field == "condition" || ch.Field == "name" {
				continue
			}
			u.walk(ch, e)
		}
		return
	case "cast_expression", "compound_literal_expression":
		if v := n.Child("value"); v != nil {
			u.walk(v, e)
		}
		return
	case "sizeof_expression", "alignof_expression":
		if v := n.Child("value"); v != nil {
			u.walk(v, e)
		}
		return
	}
	for _, ch := range n.Children {
		u.walk(ch, e)
	}
}

// walkDeclaration handles both file-scope declarations, already bound by
// declareFileScope, and block-scope ones, bound here in order.
func (u *Unit) walkDeclaration(n *Node, e *env) {
	bind := func(x *Node) { u.walk(x, e) }
	if e.outer == nil {
		for _, dn := range n.ChildrenByField("declarator") {
			u.walkInitializer(dn, bind)
		}
		return
	}
	scope := u.scopes[n.ID].scope
	for _, d := range u.declaration(n, scope, bind) {
		e.names[d.Name] = d
		u.walkInitializer(d.Declarator, bind)
	}
}

func (u *Unit) walkInitializer(dn *Node, bind func(*Node)) {
	if dn == nil || dn.Type != "init_declarator" {
		return
	}
	if v := dn.Child("value"); v != nil {
		bind(v)
	}
}

func (u *Unit) walkFunction(n *Node, file *env) {
	d := u.DefinitionAt(n)
	body := n.Child("body")
	if d == nil || body == nil {
		return
	}
	params := file.push()
	bodyScope := ScopeID(body.ID)
	for _, p := range d.Params {
		if p.Name == "" {
			continue
		}
		pd := &Decl{
			Kind:     DeclParam,
			Name:     p.Name,
			Type:     p.Type,
			Node:     p.Node,
			NameNode: u.walkDeclarator(p.Node.Child("declarator"), p.Type, nil).name,
			Scope:    bodyScope,
		}
		u.decls = append(u.decls, pd)
		params.names[p.Name] = pd
	}
	u.walk(body, params)
}

// DefinitionAt returns the function declaration built for a
// function_definition node.
func (u *Unit) DefinitionAt(n *Node) *Decl {
	for _, d := range u.decls {
		if d.Kind == DeclFunction && d.IsDefinition && d.Node == n {
			return d
		}
	}
	return nil
}
