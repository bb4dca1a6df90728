package rewrite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/cforge/internal/source"
)

func span(start, end uint32) source.Span {
	return source.Span{Start: start, End: end}
}

func TestApplyNoEditsIsIdentity(t *testing.T) {
	src := []byte("int x = 1;\n")
	out, err := NewEditSet(src).Apply()
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestApplyReplaceAndInserts(t *testing.T) {
	src := []byte("return g(x) + 2;")
	set := NewEditSet(src)
	set.Replace(span(7, 11), "(1)", "call")
	set.InsertBefore(span(0, 16), "/*b*/", "stmt")
	set.InsertAfter(span(0, 16), "/*a*/", "stmt")

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "/*b*/return (1) + 2;/*a*/", string(out))
}

func TestNestedWrappersAtSharedBoundaries(t *testing.T) {
	// a[i] + b: the subscript and its base start at the same offset.
	src := []byte("a[i] + b")
	set := NewEditSet(src)
	set.InsertBefore(span(0, 1), "T2(", "base")
	set.InsertAfter(span(0, 1), ")", "base")
	set.InsertBefore(span(0, 4), "T1(", "subscript")
	set.InsertAfter(span(0, 4), ")", "subscript")
	set.InsertBefore(span(7, 8), "T3(", "rhs")
	set.InsertAfter(span(7, 8), ")", "rhs")

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "T1(T2(a)[i]) + T3(b)", string(out))
}

func TestIdenticalAnchorsNestInCollectionOrder(t *testing.T) {
	src := []byte("x;")
	set := NewEditSet(src)
	set.InsertBefore(span(0, 1), "A(", "first")
	set.InsertAfter(span(0, 1), ")", "first")
	set.InsertBefore(span(0, 1), "B(", "second")
	set.InsertAfter(span(0, 1), "]", "second")

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "A(B(x]);", string(out))
}

func TestClosingBeforeOpeningAtSameOffset(t *testing.T) {
	src := []byte("a;b;")
	set := NewEditSet(src)
	set.InsertBefore(span(2, 4), "<", "second")
	set.InsertAfter(span(0, 2), ">", "first")

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "a;><b;", string(out))
}

func TestGeneratorRendersAtApplyTime(t *testing.T) {
	src := []byte("int x;")
	set := NewEditSet(src)
	count := 0
	set.Generate(InsertBefore, span(0, 0), func() string {
		return "/* " + string(rune('0'+count)) + " */"
	}, "header")
	count = 3

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "/* 3 */int x;", string(out))
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		name  string
		edits func(*EditSet)
	}{
		{"overlapping replaces", func(s *EditSet) {
			s.Replace(span(0, 5), "a", "r1")
			s.Replace(span(3, 8), "b", "r2")
		}},
		{"nested replaces", func(s *EditSet) {
			s.Replace(span(0, 10), "a", "outer")
			s.Replace(span(2, 4), "b", "inner")
		}},
		{"identical replaces", func(s *EditSet) {
			s.Replace(span(2, 4), "a", "r1")
			s.Replace(span(2, 4), "a", "r2")
		}},
		{"insert inside replace", func(s *EditSet) {
			s.Replace(span(0, 10), "a", "r")
			s.InsertBefore(span(4, 6), "(", "tag")
		}},
		{"covered by earlier wide replace", func(s *EditSet) {
			s.Replace(span(0, 10), "a", "wide")
			s.Replace(span(1, 2), "b", "r1")
			s.Replace(span(5, 6), "c", "r2")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewEditSet([]byte("0123456789abc"))
			tt.edits(set)
			err := set.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEditConflict))
			var ce *ConflictError
			require.True(t, errors.As(err, &ce))
			assert.NotEqual(t, ce.A.Origin, ce.B.Origin)

			out, err := set.Apply()
			assert.Error(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestBoundaryInsertsDoNotConflictWithReplace(t *testing.T) {
	set := NewEditSet([]byte("f(x)"))
	set.Replace(span(0, 4), "(1)", "call")
	set.InsertBefore(span(0, 4), "T1(", "tag")
	set.InsertAfter(span(0, 4), ")", "tag")

	out, err := set.Apply()
	require.NoError(t, err)
	assert.Equal(t, "T1((1))", string(out))
}

func TestSpanOutOfRange(t *testing.T) {
	set := NewEditSet([]byte("abc"))
	set.Replace(span(2, 9), "x", "bad")
	err := set.Validate()
	assert.ErrorIs(t, err, ErrSpanOutOfRange)
}

func TestEditsAreCopied(t *testing.T) {
	set := NewEditSet([]byte("abc"))
	set.InsertBefore(span(0, 1), "x", "a")
	edits := set.Edits()
	edits[0].Text = "changed"
	assert.Equal(t, "x", set.Edits()[0].Text)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, uint32(0), edits[0].Pos())
}
