package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/rewrite"
)

func newSession(t *testing.T, src string, opts Options) *Session {
	t.Helper()
	u, err := cast.NewParser().Parse(context.Background(), "unit.c", []byte(src))
	require.NoError(t, err)
	require.False(t, u.HasErrors(), "fixture does not parse cleanly")
	return NewSession(u, opts, zaptest.NewLogger(t))
}

func apply(t *testing.T, s *Session) string {
	t.Helper()
	out, err := s.Apply()
	require.NoError(t, err)
	return string(out)
}

func nodeID(t *testing.T, s *Session, typ, text string) int {
	t.Helper()
	for _, n := range s.Unit.Nodes() {
		if n.Type == typ && s.Unit.Text(n) == text {
			return n.ID
		}
	}
	t.Fatalf("no %s node with text %q", typ, text)
	return 0
}

func header(ids int) string {
	var b strings.Builder
	b.WriteString("#include<stdint.h>\n#include<inttypes.h>\n")
	for i := 0; i < ids; i++ {
		fmt.Fprintf(&b, "#define Tag%d(x) (x)\n", i)
	}
	return b.String()
}

func TestEliminateCallsAndRemoveExterns(t *testing.T) {
	s := newSession(t, "int g(int);\nint f(int x) { return g(x) + 2; }\n", Options{Target: "f"})

	sites, err := s.EliminateCalls()
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "g", sites[0].Callee)
	assert.Equal(t, "1", sites[0].Replacement)

	removed, err := s.RemoveExterns()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.Equal(t, "\nint f(int x) { return (1) + 2; }\n", apply(t, s))
}

func TestEliminateCallsOuterCallSubsumesInner(t *testing.T) {
	s := newSession(t, "int h(int);\nint g(int);\nint f(int x) { return g(h(x)); }\n", Options{})
	sites, err := s.EliminateCalls()
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Contains(t, apply(t, s), "int f(int x) { return (1); }")
}

func TestEliminateCallsLeavesUnresolvableCalls(t *testing.T) {
	src := "double d(int);\nint g(void);\nint f(void) { return (int)d(g()); }\n"
	s := newSession(t, src, Options{Target: "f"})

	sites, err := s.EliminateCalls()
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "d", sites[0].Callee)
	assert.False(t, sites[0].Resolvable())
	assert.True(t, sites[1].Resolvable())

	assert.Contains(t, apply(t, s), "return (int)d((1));")
}

func TestRemoveExternsInTargetMode(t *testing.T) {
	s := newSession(t, "int g(void) { return 1; }\nint f(void) { return g(); }\n", Options{Target: "f"})
	_, err := s.EliminateCalls()
	require.NoError(t, err)
	removed, err := s.RemoveExterns()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, "\nint f(void) { return (1); }\n", apply(t, s))
}

func TestRemoveExternsKeepsVariablesInMixedDeclarations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "prototype in the middle",
			src:  "int a, p(void), b = 2;\n",
			want: "int a, b = 2;\n",
		},
		{
			name: "leading prototypes",
			src:  "int p(void), q(int), a;\n",
			want: "int a;\n",
		},
		{
			name: "prototype only",
			src:  "int p(void);\nint a;\n",
			want: "\nint a;\n",
		},
		{
			name: "no prototypes",
			src:  "int a, *b;\n",
			want: "int a, *b;\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, tt.src, Options{})
			_, err := s.RemoveExterns()
			require.NoError(t, err)
			assert.Equal(t, tt.want, apply(t, s))
		})
	}
}

func TestUnknownTarget(t *testing.T) {
	s := newSession(t, "int f(void) { return 0; }\n", Options{Target: "missing"})
	_, err := s.EliminateCalls()
	assert.ErrorIs(t, err, ErrNoSuchFunction)
	_, err = s.RemoveExterns()
	assert.ErrorIs(t, err, ErrNoSuchFunction)
	_, err = s.RenameFunctions()
	assert.ErrorIs(t, err, ErrNoSuchFunction)
}

func TestTagExpressionsWithoutCandidatesOnlyAddsHeader(t *testing.T) {
	src := "int f(void) { return 1; }\n"
	s := newSession(t, src, Options{})
	require.NoError(t, s.TagExpressions())
	assert.Equal(t, 1, s.Tags.Len())
	assert.Equal(t, header(1)+src, apply(t, s))
}

func TestTagExpressions(t *testing.T) {
	s := newSession(t, "int f(int x) {\n  return x + 1;\n}\n", Options{})
	require.NoError(t, s.TagExpressions())

	body := nodeID(t, s, "compound_statement", "{\n  return x + 1;\n}")
	stmt := nodeID(t, s, "return_statement", "return x + 1;")
	want := header(2) + fmt.Sprintf(
		"int f(int x) {\n  /*bef_stmt:%d*/\nreturn Tag1(/*int:%d:function:%d:e*/x) + 1;\n/*aft_stmt:%d*/\n}\n",
		stmt, body, stmt, stmt)
	assert.Equal(t, want, apply(t, s))

	tag := s.Tags.Tag(1)
	assert.Equal(t, cast.ScopeID(body), tag.Scope)
	assert.Equal(t, cast.ScopeFunction, tag.ParentScope)
	assert.Equal(t, "PRId32", tag.Format)
}

func TestTagExpressionsInNestedBlock(t *testing.T) {
	src := "int f(int x) {\n  if (x) {\n    int y = x;\n    return y;\n  }\n  return 0;\n}\n"
	s := newSession(t, src, Options{})
	require.NoError(t, s.TagExpressions())

	body := nodeID(t, s, "compound_statement", "{\n  if (x) {\n    int y = x;\n    return y;\n  }\n  return 0;\n}")
	inner := nodeID(t, s, "compound_statement", "{\n    int y = x;\n    return y;\n  }")
	ret := nodeID(t, s, "return_statement", "return y;")

	var found bool
	for _, tag := range s.Tags.Table()[1:] {
		if tag.Statement == nil || *tag.Statement != ret {
			continue
		}
		found = true
		assert.Equal(t, cast.ScopeID(inner), tag.Scope, "y is declared in the inner block")
		assert.Equal(t, cast.ScopeID(body), tag.ParentScope)
	}
	require.True(t, found, "return y; was not tagged")
	assert.Contains(t, apply(t, s), fmt.Sprintf("return Tag%d(/*int:%d:%d:%d:e*/y);", s.Tags.Len()-1, inner, body, ret))
}

func TestTagIDsAreContiguous(t *testing.T) {
	s := newSession(t, "int g;\nint f(int a, int b) { int c = a * b; return c + g; }\n", Options{})
	require.NoError(t, s.TagExpressions())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, s.Tags.Table().IDs())

	out := apply(t, s)
	assert.True(t, strings.HasPrefix(out, header(5)))
	assert.Equal(t, 2, strings.Count(out, "/*bef_stmt:"), "one marker pair per statement")
	assert.Equal(t, 2, strings.Count(out, "/*aft_stmt:"))
}

func TestTagExpressionsSkipsMain(t *testing.T) {
	s := newSession(t, "int main(void) { int x = 1; return x; }\n", Options{})
	require.NoError(t, s.TagExpressions())
	assert.Equal(t, 1, s.Tags.Len())
}

func TestTagExpressionsSkipsLoopCounters(t *testing.T) {
	src := "int f(int n) { int s = 0; for (int i = 0; i < n; i++) s += i; return s; }\n"
	s := newSession(t, src, Options{})
	require.NoError(t, s.TagExpressions())
	assert.Equal(t, 4, s.Tags.Len())

	out := apply(t, s)
	assert.Contains(t, out, "(int i = 0; i < Tag")
	assert.Contains(t, out, "; i++)")
	assert.Contains(t, out, "s += Tag")
}

func TestTagExpressionsSkipsAssignmentTargetsAndAddresses(t *testing.T) {
	s := newSession(t, "void g(int *);\nvoid f(int x) { x = 2; g(&x); }\n", Options{})
	require.NoError(t, s.TagExpressions())
	assert.Equal(t, 1, s.Tags.Len())
}

func TestTagExpressionsNestsSubscripts(t *testing.T) {
	s := newSession(t, "int a[4];\nint f(void) { return a[2]; }\n", Options{})
	require.NoError(t, s.TagExpressions())
	require.Equal(t, 2, s.Tags.Len(), "the array itself is an aggregate")
	assert.Contains(t, apply(t, s), "return Tag1(/*int:global:global:")
}

func TestTagStatements(t *testing.T) {
	s := newSession(t, "unsigned int g;\nint f(void) { return g; }\n", Options{})
	require.NoError(t, s.TagStatements())

	body := nodeID(t, s, "compound_statement", "{ return g; }")
	stmt := nodeID(t, s, "return_statement", "return g;")
	want := header(2) + fmt.Sprintf(
		"unsigned int g;\nint f(void) { return Tag1(/*unsigned int:%d:function:%d:s*/g); }\n", body, stmt)
	assert.Equal(t, want, apply(t, s))
}

func TestTagStatementsRejectsTypesOutsideTheSet(t *testing.T) {
	s := newSession(t, "short g;\nint f(void) { return g; }\n", Options{})
	require.NoError(t, s.TagStatements())
	assert.Equal(t, 1, s.Tags.Len())
}

func TestRenameGlobalsForTarget(t *testing.T) {
	src := "int counter = 0;\nvoid tick(void) { counter++; }\nvoid reset(void) { counter = 0; }\n"
	s := newSession(t, src, Options{Target: "tick"})

	recs, err := s.RenameGlobals()
	require.NoError(t, err)
	assert.Equal(t, []RenameRecord{{Old: "counter", New: "counter_tick", Scope: "tick"}}, recs)
	assert.Equal(t,
		"int counter_tick = 0;\nvoid tick(void) { counter_tick++; }\nvoid reset(void) { counter = 0; }\n",
		apply(t, s))
}

func TestRenameGlobalsDuplicatesSharedGlobals(t *testing.T) {
	src := "int counter = 0, other;\nvoid tick(void) { counter++; }\nvoid reset(void) { counter = 0; }\n"
	s := newSession(t, src, Options{})

	recs, err := s.RenameGlobals()
	require.NoError(t, err)
	assert.Equal(t, []RenameRecord{
		{Old: "counter", New: "counter_tick", Scope: "tick"},
		{Old: "counter", New: "counter_reset", Scope: "reset"},
	}, recs)
	assert.Equal(t,
		"int counter_tick = 0, counter_reset = 0, other;\nvoid tick(void) { counter_tick++; }\nvoid reset(void) { counter_reset = 0; }\n",
		apply(t, s))
	assert.Equal(t, recs, s.Renames())
}

func TestRenameFunctions(t *testing.T) {
	src := "int fact(int n) { return n ? n * fact(n - 1) : 1; }\nint main(void) { return fact(3); }\n"
	run := func() (RenameRecord, string) {
		s := newSession(t, src, Options{Target: "fact", Seed: 42})
		recs, err := s.RenameFunctions()
		require.NoError(t, err)
		require.Len(t, recs, 1)
		return recs[0], apply(t, s)
	}

	rec, out := run()
	assert.Equal(t, "fact", rec.Old)
	assert.Regexp(t, `^fn_[A-Za-z0-9]{5}$`, rec.New)
	assert.Contains(t, out, "int "+rec.New+"(int n)")
	assert.Contains(t, out, "n * "+rec.New+"(n - 1)")
	assert.Contains(t, out, "return fact(3);")

	again, _ := run()
	assert.Equal(t, rec.New, again.New, "same seed, same name")
}

func TestRenameFunctionsHonoursExclude(t *testing.T) {
	src := "int add(int a, int b) { return a + b; }\nint main(void) { return 0; }\n"
	s := newSession(t, src, Options{Exclude: []string{"main"}, Seed: 3})
	recs, err := s.RenameFunctions()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "add", recs[0].Old)
	assert.Contains(t, apply(t, s), "int main(void)")
}

func TestRenamerAvoidsTakenNames(t *testing.T) {
	r := NewRenamer("v", 2, 7, []string{"va", "vb"})
	pattern := regexp.MustCompile(`^v[A-Za-z0-9]{2}$`)
	seen := map[string]bool{"va": true, "vb": true}
	for range 200 {
		name := r.Fresh()
		require.Regexp(t, pattern, name)
		require.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
}

func TestConflictingPassesFailOnApply(t *testing.T) {
	s := newSession(t, "int g(int);\nint f(int x) { return g(x); }\n", Options{})
	require.NoError(t, s.TagExpressions())
	_, err := s.EliminateCalls()
	require.NoError(t, err)
	_, err = s.Apply()
	assert.ErrorIs(t, err, rewrite.ErrEditConflict)
}
