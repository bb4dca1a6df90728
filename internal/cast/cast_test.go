package cast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := NewParser().Parse(context.Background(), "test.c", []byte(src))
	require.NoError(t, err)
	require.False(t, u.HasErrors(), "unexpected syntax errors in fixture")
	return u
}

// findNode returns the first node in pre-order with the given type and text.
func findNode(t *testing.T, u *Unit, typ, text string) *Node {
	t.Helper()
	for _, n := range u.Nodes() {
		if n.Type == typ && u.Text(n) == text {
			return n
		}
	}
	t.Fatalf("no %s node with text %q", typ, text)
	return nil
}

func findDecl(t *testing.T, u *Unit, name string, kind DeclKind) *Decl {
	t.Helper()
	for _, d := range u.Decls() {
		if d.Name == name && d.Kind == kind {
			return d
		}
	}
	t.Fatalf("no %s declaration named %q", kind, name)
	return nil
}

func TestPreOrderIDs(t *testing.T) {
	u := parse(t, "int a; /* note */ int f(void) { return a; }\n")
	require.Equal(t, 0, u.Root.ID)
	for i, n := range u.Nodes() {
		assert.Equal(t, i, n.ID)
		assert.NotEqual(t, "comment", n.Type)
		if n.Parent != nil {
			assert.Less(t, n.Parent.ID, n.ID)
		}
	}
}

func TestSyntaxErrorsAreReported(t *testing.T) {
	u, err := NewParser().Parse(context.Background(), "bad.c", []byte("int f( {\n"))
	require.NoError(t, err)
	assert.True(t, u.HasErrors())
}

func TestScopes(t *testing.T) {
	u := parse(t, `int g;
int f(int p) {
  int a = p;
  {
    int b = a;
  }
  return a;
}
`)
	fn := u.Root.Children[1]
	require.Equal(t, "function_definition", fn.Type)
	body := fn.Child("body")
	require.NotNil(t, body)
	var inner *Node
	for _, ch := range body.Children {
		if ch.Type == "compound_statement" {
			inner = ch
		}
	}
	require.NotNil(t, inner)

	tests := []struct {
		name   string
		decl   *Decl
		scope  ScopeID
		parent ScopeID
	}{
		{"global", findDecl(t, u, "g", DeclGlobal), ScopeGlobal, ScopeGlobal},
		{"param", findDecl(t, u, "p", DeclParam), ScopeID(body.ID), ScopeFunction},
		{"top-level local", findDecl(t, u, "a", DeclLocal), ScopeID(body.ID), ScopeFunction},
		{"nested local", findDecl(t, u, "b", DeclLocal), ScopeID(inner.ID), ScopeID(body.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, parent := u.ScopeOf(tt.decl.NameNode)
			assert.Equal(t, tt.scope, scope)
			assert.Equal(t, tt.parent, parent)
			assert.Equal(t, tt.scope, tt.decl.Scope)

			info, ok := u.Lookup(tt.decl.NameNode.ID)
			require.True(t, ok)
			assert.Equal(t, tt.decl.NameNode.Span, info.Span)
			assert.Equal(t, scope, info.Scope)
			assert.Equal(t, parent, info.ParentScope)
		})
	}

	again := parse(t, string(u.Src()))
	assert.Equal(t, len(u.Nodes()), len(again.Nodes()))
	b2 := findDecl(t, again, "b", DeclLocal)
	s1, _ := u.ScopeOf(findDecl(t, u, "b", DeclLocal).NameNode)
	s2, _ := again.ScopeOf(b2.NameNode)
	assert.Equal(t, s1, s2, "scope ids must be reproducible")
}

func TestDeclarations(t *testing.T) {
	u := parse(t, `typedef unsigned int u32;
static const int k = 3;
int arr[4], m[2][3];
unsigned long long big;
int (*fp)(int);
char *name(const char *s, unsigned n, ...);
u32 twice(u32 v) { return v * 2; }
int none(void) { return 0; }
`)
	assert.Equal(t, "unsigned int", findDecl(t, u, "u32", DeclTypedef).Type)

	k := findDecl(t, u, "k", DeclGlobal)
	assert.Equal(t, "const int", k.Type)
	assert.Equal(t, "static", k.Storage)

	assert.Equal(t, "int [4]", findDecl(t, u, "arr", DeclGlobal).Type)
	assert.Equal(t, "int [2][3]", findDecl(t, u, "m", DeclGlobal).Type)
	assert.Equal(t, "unsigned long long", findDecl(t, u, "big", DeclGlobal).Type)
	assert.Equal(t, ClassOther, u.Classify(findDecl(t, u, "fp", DeclGlobal).Type).Class)

	name := findDecl(t, u, "name", DeclFunction)
	assert.Equal(t, "char *", name.Type)
	assert.False(t, name.IsDefinition)
	assert.True(t, name.Variadic)
	require.Len(t, name.Params, 2)
	assert.Equal(t, "const char *", name.Params[0].Type)
	assert.Equal(t, "unsigned int", name.Params[1].Type)

	twice := u.Definition("twice")
	require.NotNil(t, twice)
	assert.Equal(t, "u32", twice.Type)
	require.Len(t, twice.Params, 1)
	assert.Equal(t, "v", twice.Params[0].Name)

	none := u.Definition("none")
	require.NotNil(t, none)
	assert.Empty(t, none.Params)

	var names []string
	for _, d := range u.Functions() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"name", "twice", "none"}, names)
	assert.Len(t, u.Globals(), 5)
}

func TestResolveShadowing(t *testing.T) {
	u := parse(t, `int x;
int f(void) {
  int y = x;
  {
    int x = 2;
    y = x;
  }
  return x;
}
`)
	var kinds []DeclKind
	for _, n := range u.Nodes() {
		if n.Type == "identifier" && u.Text(n) == "x" && u.IsReference(n) {
			d := u.Ref(n)
			require.NotNil(t, d)
			kinds = append(kinds, d.Kind)
		}
	}
	assert.Equal(t, []DeclKind{DeclGlobal, DeclLocal, DeclGlobal}, kinds)
}

func TestTypeOf(t *testing.T) {
	u := parse(t, `struct P { int x; char *name; };
typedef struct P P;
int f(struct P *p, P q, unsigned char c, long l, int *ip, unsigned u) {
  int r;
  r = p->x;
  r = q.x;
  r = c + c;
  r = c + l;
  r = *ip;
  r = u + 1;
  r = ip - ip;
  r = 'a';
  r = sizeof(q);
  r = p->name[0];
  r = 1.5f;
  r = g(r);
  return r;
}
`)
	tests := []struct {
		expr string
		want string
	}{
		{"p->x", "int"},
		{"q.x", "int"},
		{"c + c", "int"},
		{"c + l", "long"},
		{"*ip", "int"},
		{"u + 1", "unsigned int"},
		{"ip - ip", "long"},
		{"'a'", "int"},
		{"sizeof(q)", "unsigned long"},
		{"p->name[0]", "char"},
		{"1.5f", "float"},
		{"g(r)", "int"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			var rhs *Node
			for _, n := range u.Nodes() {
				if n.Field == "right" && n.Parent.Type == "assignment_expression" && u.Text(n) == tt.expr {
					rhs = n
					break
				}
			}
			require.NotNil(t, rhs)
			assert.Equal(t, tt.want, u.TypeSpelling(rhs))
		})
	}

	p := findDecl(t, u, "p", DeclParam)
	assert.Equal(t, "struct P *", p.Type)
	assert.Equal(t, ClassAggregate, u.Classify(findDecl(t, u, "q", DeclParam).Type).Class)
}

func TestStatementAndFunction(t *testing.T) {
	u := parse(t, "int f(int *p) { int r; r = p[0] + 1; return r; }\n")
	idx := findNode(t, u, "subscript_expression", "p[0]")
	stmt := u.Statement(idx)
	require.NotNil(t, stmt)
	assert.Equal(t, "expression_statement", stmt.Type)
	assert.Equal(t, "r = p[0] + 1;", u.Text(stmt))

	fn := u.EnclosingFunction(idx)
	require.NotNil(t, fn)
	assert.Equal(t, "f", u.DefinitionAt(fn).Name)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		spelling string
		class    Class
	}{
		{"int", ClassInteger},
		{"unsigned long", ClassInteger},
		{"uint8_t", ClassInteger},
		{"enum color", ClassInteger},
		{"char", ClassCharacter},
		{"const unsigned char", ClassCharacter},
		{"float", ClassFloat},
		{"long double", ClassFloat},
		{"const char *", ClassPointer},
		{"char *const", ClassPointer},
		{"unsigned char*", ClassPointer},
		{"int * volatile *", ClassPointer},
		{"struct S", ClassAggregate},
		{"int [4]", ClassAggregate},
		{"void", ClassOther},
		{"int (*)()", ClassOther},
		{"", ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.spelling, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.spelling).Class)
		})
	}

	ptr := Classify("char *const")
	require.Equal(t, ClassPointer, ptr.Class)
	require.NotNil(t, ptr.Pointee)
	assert.Equal(t, ClassCharacter, ptr.Pointee.Class)
	assert.True(t, ptr.PointsTo(TypeDescriptor.IsIntegerLike))
	assert.Equal(t, "char *", ptr.Canonical)
	assert.Equal(t, "char **", Classify("char * const *").Canonical)
	assert.Equal(t, ptr.Canonical, Classify("char * const").Canonical)
}

func TestClassifyFollowsTypedefs(t *testing.T) {
	u := parse(t, `typedef unsigned int u32;
typedef u32 word;
typedef char *str;
typedef struct { int a; } pair_t;
`)
	word := u.Classify("word")
	assert.Equal(t, ClassInteger, word.Class)
	assert.Equal(t, "word", word.Spelling)
	assert.Equal(t, "unsigned int", word.Canonical)

	assert.Equal(t, ClassPointer, u.Classify("str").Class)
	assert.Equal(t, ClassAggregate, u.Classify("pair_t").Class)
	assert.Equal(t, map[string]string{"a": "int"}, u.Members("pair_t"))
}

func TestCanonicalInteger(t *testing.T) {
	tests := map[string][]string{
		"unsigned int":       {"unsigned"},
		"long":               {"long", "int"},
		"unsigned long long": {"unsigned", "long", "long", "int"},
		"short":              {"short", "int"},
		"signed char":        {"signed", "char"},
		"long double":        {"long", "double"},
		"int":                {"signed"},
	}
	for want, words := range tests {
		assert.Equal(t, want, canonicalInteger(words), "%v", words)
	}
}

func TestNumberType(t *testing.T) {
	tests := map[string]string{
		"10":    "int",
		"10u":   "unsigned int",
		"10UL":  "unsigned long",
		"10ll":  "long long",
		"0x1F":  "int",
		"0xFFu": "unsigned int",
		"1.0":   "double",
		"1e3":   "double",
		"2.5f":  "float",
	}
	for lit, want := range tests {
		assert.Equal(t, want, numberType(lit), lit)
	}
}

func TestScopeIDText(t *testing.T) {
	for _, s := range []ScopeID{ScopeGlobal, ScopeFunction, 42} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back ScopeID
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	assert.Equal(t, "global", ScopeGlobal.String())
	assert.Equal(t, "function", ScopeFunction.String())
}
