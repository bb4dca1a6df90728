package cast

import (
	"strings"
)

// TypeOf classifies the static type of an expression node.
func (u *Unit) TypeOf(n *Node) TypeDescriptor {
	return u.Classify(u.typeSpelling(n))
}

// TypeSpelling returns the static type of an expression as written. An
// empty string means the type could not be determined.
func (u *Unit) TypeSpelling(n *Node) string {
	return u.typeSpelling(n)
}

func (u *Unit) typeSpelling(n *Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case "parenthesized_expression":
		if len(n.Children) == 0 {
			return ""
		}
		return u.typeSpelling(n.Children[len(n.Children)-1])
	case "identifier":
		d := u.Ref(n)
		if d == nil {
			return ""
		}
		return d.Type
	case "number_literal":
		return numberType(u.Text(n))
	case "char_literal":
		return "int"
	case "string_literal", "concatenated_string":
		return "char *"
	case "true", "false":
		return "int"
	case "null":
		return "void *"
	case "binary_expression":
		return u.binaryType(n)
	case "unary_expression":
		if n.Op == "!" {
			return "int"
		}
		return u.promote(u.typeSpelling(n.Child("argument")))
	case "update_expression":
		return u.typeSpelling(n.Child("argument"))
	case "pointer_expression":
		arg := u.typeSpelling(n.Child("argument"))
		if n.Op == "&" {
			if arg == "" {
				return ""
			}
			return pointerTo(arg)
		}
		return u.deref(arg)
	case "subscript_expression":
		if t := u.deref(u.typeSpelling(n.Child("argument"))); t != "" {
			return t
		}
		return u.deref(u.typeSpelling(n.Child("index")))
	case "field_expression":
		obj := u.typeSpelling(n.Child("argument"))
		if n.Op == "->" {
			obj = u.deref(obj)
		}
		return u.Members(obj)[u.Text(n.Child("field"))]
	case "call_expression":
		fn := n.Child("function")
		if fn == nil || fn.Type != "identifier" {
			return ""
		}
		d := u.Ref(fn)
		switch {
		case d == nil:
			return "int"
		case d.Kind == DeclFunction:
			return d.Type
		}
		return ""
	case "cast_expression", "compound_literal_expression":
		return u.typeName(n.Child("type"))
	case "conditional_expression":
		a := u.typeSpelling(n.Child("consequence"))
		b := u.typeSpelling(n.Child("alternative"))
		if u.Classify(a).IsScalar() && u.Classify(b).IsScalar() {
			return u.arith(a, b)
		}
		if a != "" {
			return a
		}
		return b
	case "assignment_expression":
		return u.typeSpelling(n.Child("left"))
	case "sizeof_expression", "alignof_expression", "offsetof_expression":
		return "unsigned long"
	case "comma_expression":
		return u.typeSpelling(n.Child("right"))
	}
	return ""
}

// typeName spells a type_descriptor node.
func (u *Unit) typeName(t *Node) string {
	if t == nil {
		return ""
	}
	if t.Type != "type_descriptor" {
		return u.specifier(t)
	}
	return u.walkDeclarator(t.Child("declarator"), u.baseType(t), nil).typ
}

func (u *Unit) binaryType(n *Node) string {
	left := u.typeSpelling(n.Child("left"))
	right := u.typeSpelling(n.Child("right"))
	switch n.Op {
	case "==", "!=", "<", ">", "<=", ">=", "&&", "||":
		return "int"
	case "<<", ">>":
		return u.promote(left)
	case "+", "-":
		lt, rt := u.Classify(left), u.Classify(right)
		lp := lt.Class == ClassPointer || lt.Class == ClassAggregate
		rp := rt.Class == ClassPointer || rt.Class == ClassAggregate
		switch {
		case lp && rp && n.Op == "-":
			return "long"
		case lp:
			return decay(left)
		case rp && n.Op == "+":
			return decay(right)
		}
	}
	return u.arith(left, right)
}

// decay turns an array spelling into a pointer to its element.
func decay(t string) string {
	if i := strings.Index(t, "["); i >= 0 {
		j := strings.Index(t[i:], "]")
		elem := strings.TrimSpace(t[:i] + t[i+j+1:])
		return pointerTo(elem)
	}
	return t
}

// deref strips one pointer or array level.
func (u *Unit) deref(t string) string {
	s := strings.TrimSpace(t)
	for _, q := range []string{" const", " volatile", " restrict"} {
		s = strings.TrimSuffix(s, q)
	}
	if strings.HasSuffix(s, "*") {
		return strings.TrimSpace(strings.TrimSuffix(s, "*"))
	}
	if i := strings.Index(s, "["); i >= 0 {
		j := strings.Index(s[i:], "]")
		return strings.TrimSpace(s[:i] + s[i+j+1:])
	}
	if next, ok := u.typedefs[stripQualifiers(s)]; ok {
		return u.deref(next)
	}
	return ""
}

// promote applies integer promotion: anything ranked below int becomes int.
func (u *Unit) promote(t string) string {
	td := u.Classify(t)
	if !td.IsIntegerLike() {
		return t
	}
	if rank, _ := integerRank(td.Canonical); rank < 3 {
		return "int"
	}
	return stripQualifiers(t)
}

// arith applies the usual arithmetic conversions to two operand types.
func (u *Unit) arith(a, b string) string {
	ta, tb := u.Classify(a), u.Classify(b)
	if ta.Class == ClassFloat || tb.Class == ClassFloat {
		for _, f := range []string{"long double", "double", "float"} {
			if ta.Canonical == f || tb.Canonical == f {
				return f
			}
		}
	}
	if !ta.IsIntegerLike() || !tb.IsIntegerLike() {
		if ta.IsIntegerLike() {
			return u.promote(a)
		}
		if tb.IsIntegerLike() {
			return u.promote(b)
		}
		return ""
	}
	pa, pb := u.promote(a), u.promote(b)
	if pa == pb {
		return pa
	}
	ra, ua := integerRank(u.Classify(pa).Canonical)
	rb, _ := integerRank(u.Classify(pb).Canonical)
	switch {
	case ra > rb:
		return pa
	case rb > ra:
		return pb
	case ua:
		return pa
	default:
		return pb
	}
}

// numberType infers the type of an integer or floating literal from its
// suffix.
func numberType(lit string) string {
	s := strings.ToLower(lit)
	hex := strings.HasPrefix(s, "0x")
	isFloat := strings.Contains(s, ".") ||
		(!hex && strings.Contains(s, "e")) ||
		(hex && strings.Contains(s, "p"))
	if isFloat {
		switch {
		case strings.HasSuffix(s, "f"):
			return "float"
		case strings.HasSuffix(s, "l"):
			return "long double"
		}
		return "double"
	}
	suffix := strings.TrimLeft(s, "0123456789'")
	if hex {
		suffix = strings.TrimLeft(strings.TrimPrefix(s, "0x"), "0123456789abcdef'")
	}
	unsigned := strings.Contains(suffix, "u")
	longs := strings.Count(suffix, "l")
	var t string
	switch longs {
	case 0:
		t = "int"
	case 1:
		t = "long"
	default:
		t = "long long"
	}
	if unsigned {
		return "unsigned " + t
	}
	return t
}
