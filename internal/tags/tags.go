// Package tags allocates profiling tag ids for one translation unit and
// renders the text that marks tagged expressions and statements.
package tags

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
)

// ErrInvariantViolation is returned when a caller asks for a tag on a type
// that must have been filtered out upstream.
var ErrInvariantViolation = errors.New("tag allocation invariant violated")

// Style is the tagging pass a tag came from.
type Style string

const (
	StyleExpression Style = "expression"
	StyleStatement  Style = "statement"
)

// Letter is the single-character marker written into the tag comment.
func (s Style) Letter() string {
	if s == StyleStatement {
		return "s"
	}
	return "e"
}

// Tag is one allocated tag. Id 0 is the reserved no-op entry.
type Tag struct {
	ID          int          `json:"id"`
	Type        string       `json:"type"`
	Scope       cast.ScopeID `json:"scope"`
	ParentScope cast.ScopeID `json:"parent_scope"`
	Statement   *int         `json:"statement,omitempty"`
	Style       Style        `json:"style,omitempty"`
	Format      string       `json:"format,omitempty"`
}

// Table is the append-only tag table; index equals id.
type Table []Tag

// IDs returns every id in table order.
func (t Table) IDs() []int {
	ids := make([]int, len(t))
	for i, tag := range t {
		ids[i] = tag.ID
	}
	return ids
}

// Allocator issues consecutive tag ids for one unit. It is owned by a
// single unit's processing and must not be shared.
type Allocator struct {
	table Table
}

func NewAllocator() *Allocator {
	return &Allocator{table: Table{{ID: 0, Scope: cast.ScopeGlobal, ParentScope: cast.ScopeGlobal}}}
}

// Allocate records a tag and returns its id. Aggregate and array types
// are rejected with ErrInvariantViolation.
func (a *Allocator) Allocate(t cast.TypeDescriptor, scope, parent cast.ScopeID, stmt *int, style Style) (int, error) {
	if t.Class == cast.ClassAggregate {
		return 0, fmt.Errorf("%w: aggregate type %q", ErrInvariantViolation, t.Spelling)
	}
	spelling := stripConst(t.Spelling)
	tag := Tag{
		ID:          len(a.table),
		Type:        spelling,
		Scope:       scope,
		ParentScope: parent,
		Style:       style,
		Format:      FormatFor(t),
	}
	if stmt != nil {
		id := *stmt
		tag.Statement = &id
	}
	a.table = append(a.table, tag)
	return tag.ID, nil
}

// Tag returns the entry for id.
func (a *Allocator) Tag(id int) Tag { return a.table[id] }

// Len is the number of entries including the reserved id 0.
func (a *Allocator) Len() int { return len(a.table) }

// Table returns a copy of the tag table.
func (a *Allocator) Table() Table {
	return append(Table(nil), a.table...)
}

// Header renders the macro prelude: the format headers followed by one
// no-op wrapper per allocated id, in id order.
func (a *Allocator) Header() string {
	var b strings.Builder
	b.WriteString("#include<stdint.h>\n#include<inttypes.h>\n")
	for _, tag := range a.table {
		fmt.Fprintf(&b, "#define Tag%d(x) (x)\n", tag.ID)
	}
	return b.String()
}

// Open is the text inserted before a tagged expression.
func Open(tag Tag) string {
	stmt := "0"
	if tag.Statement != nil {
		stmt = strconv.Itoa(*tag.Statement)
	}
	return fmt.Sprintf("Tag%d(/*%s:%s:%s:%s:%s*/", tag.ID, tag.Type, tag.Scope, tag.ParentScope, stmt, tag.Style.Letter())
}

// Close is the text inserted after a tagged expression.
const Close = ")"

func StatementBefore(id int) string {
	return fmt.Sprintf("/*bef_stmt:%d*/\n", id)
}

func StatementAfter(id int) string {
	return fmt.Sprintf("\n/*aft_stmt:%d*/", id)
}

func stripConst(spelling string) string {
	words := strings.Fields(spelling)
	out := words[:0]
	for _, w := range words {
		if w != "const" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}
