package cast

import (
	"strings"
)

// Class is the coarse category a type spelling falls into.
type Class int

const (
	ClassOther Class = iota
	ClassInteger
	ClassCharacter
	ClassFloat
	ClassPointer
	ClassAggregate
)

func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "integer"
	case ClassCharacter:
		return "character"
	case ClassFloat:
		return "float"
	case ClassPointer:
		return "pointer"
	case ClassAggregate:
		return "aggregate"
	}
	return "other"
}

// TypeDescriptor is a classified type spelling. Pointers carry their
// pointee; Canonical is the spelling after typedefs are followed.
type TypeDescriptor struct {
	Class     Class
	Spelling  string
	Canonical string
	Pointee   *TypeDescriptor
}

// IsIntegerLike reports integer or character class.
func (t TypeDescriptor) IsIntegerLike() bool {
	return t.Class == ClassInteger || t.Class == ClassCharacter
}

// IsScalar reports integer, character or float class.
func (t TypeDescriptor) IsScalar() bool {
	return t.IsIntegerLike() || t.Class == ClassFloat
}

// PointsTo reports whether t is a pointer whose pointee satisfies ok.
func (t TypeDescriptor) PointsTo(ok func(TypeDescriptor) bool) bool {
	return t.Class == ClassPointer && t.Pointee != nil && ok(*t.Pointee)
}

const maxTypedefDepth = 16

var qualifiers = map[string]bool{
	"const":      true,
	"volatile":   true,
	"restrict":   true,
	"__restrict": true,
	"_Atomic":    true,
	"register":   true,
}

var characterTypes = map[string]bool{
	"char":          true,
	"signed char":   true,
	"unsigned char": true,
}

var integerTypes = map[string]bool{
	"short": true, "unsigned short": true,
	"int": true, "unsigned int": true,
	"long": true, "unsigned long": true,
	"long long": true, "unsigned long long": true,
	"_Bool": true, "bool": true,
	"int8_t": true, "uint8_t": true,
	"int16_t": true, "uint16_t": true,
	"int32_t": true, "uint32_t": true,
	"int64_t": true, "uint64_t": true,
	"int_least8_t": true, "uint_least8_t": true,
	"int_least16_t": true, "uint_least16_t": true,
	"int_least32_t": true, "uint_least32_t": true,
	"int_least64_t": true, "uint_least64_t": true,
	"int_fast8_t": true, "uint_fast8_t": true,
	"int_fast16_t": true, "uint_fast16_t": true,
	"int_fast32_t": true, "uint_fast32_t": true,
	"int_fast64_t": true, "uint_fast64_t": true,
	"intmax_t": true, "uintmax_t": true,
	"intptr_t": true, "uintptr_t": true,
	"size_t": true, "ssize_t": true, "ptrdiff_t": true,
	"wchar_t": true, "off_t": true,
}

var floatTypes = map[string]bool{
	"float":       true,
	"double":      true,
	"long double": true,
}

// stripQualifiers drops cv and storage qualifier words from a spelling.
// A qualifier glued to a star, as in "char *const", counts as its own word.
func stripQualifiers(s string) string {
	if !strings.Contains(s, "(") {
		s = strings.ReplaceAll(s, "*", "* ")
	}
	var b strings.Builder
	prevStar := false
	for _, w := range strings.Fields(s) {
		if qualifiers[w] {
			continue
		}
		star := strings.Trim(w, "*") == ""
		if b.Len() > 0 && !(star && prevStar) {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		prevStar = star
	}
	return b.String()
}

// Classify maps a type spelling onto a TypeDescriptor, following the
// unit's typedefs.
func (u *Unit) Classify(spelling string) TypeDescriptor {
	return classify(spelling, u.typedefs, 0)
}

// Classify maps a type spelling with no typedef context.
func Classify(spelling string) TypeDescriptor {
	return classify(spelling, nil, 0)
}

func classify(spelling string, typedefs map[string]string, depth int) TypeDescriptor {
	td := TypeDescriptor{Spelling: strings.TrimSpace(spelling)}
	s := stripQualifiers(td.Spelling)
	td.Canonical = s

	switch {
	case s == "" || depth > maxTypedefDepth:
		return td
	case strings.Contains(s, "("):
		return td
	case strings.Contains(s, "["):
		td.Class = ClassAggregate
		return td
	case strings.HasSuffix(s, "*"):
		pointee := classify(strings.TrimSuffix(s, "*"), typedefs, depth)
		td.Class = ClassPointer
		td.Pointee = &pointee
		return td
	case strings.HasPrefix(s, "struct ") || strings.HasPrefix(s, "union "):
		td.Class = ClassAggregate
		return td
	case strings.HasPrefix(s, "enum "):
		td.Class = ClassInteger
		return td
	case characterTypes[s]:
		td.Class = ClassCharacter
		return td
	case integerTypes[s]:
		td.Class = ClassInteger
		return td
	case floatTypes[s]:
		td.Class = ClassFloat
		return td
	}

	if next, ok := typedefs[s]; ok {
		under := classify(next, typedefs, depth+1)
		under.Spelling = td.Spelling
		return under
	}
	return td
}

// integerRank orders integer spellings for the usual arithmetic
// conversions. Unknown spellings rank as int.
func integerRank(canonical string) (rank int, unsigned bool) {
	switch canonical {
	case "_Bool", "bool":
		return 0, false
	case "char", "signed char", "int8_t":
		return 1, false
	case "unsigned char", "uint8_t":
		return 1, true
	case "short", "int16_t":
		return 2, false
	case "unsigned short", "uint16_t":
		return 2, true
	case "int", "int32_t", "wchar_t":
		return 3, false
	case "unsigned int", "uint32_t":
		return 3, true
	case "long", "int64_t", "ssize_t", "ptrdiff_t", "intptr_t", "intmax_t", "off_t":
		return 4, false
	case "unsigned long", "uint64_t", "size_t", "uintptr_t", "uintmax_t":
		return 4, true
	case "long long":
		return 5, false
	case "unsigned long long":
		return 5, true
	}
	return 3, strings.HasPrefix(canonical, "unsigned ") || strings.HasPrefix(canonical, "uint")
}
