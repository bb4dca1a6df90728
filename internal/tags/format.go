package tags

import (
	"github.com/robert-at-pretension-io/cforge/internal/cast"
)

var formats = map[string]string{
	"char":               "PRId8",
	"signed char":        "PRId8",
	"unsigned char":      "PRIu8",
	"short":              "PRId16",
	"unsigned short":     "PRIu16",
	"int":                "PRId32",
	"unsigned int":       "PRIu32",
	"long":               "PRId64",
	"unsigned long":      "PRIu64",
	"long long":          "PRId64",
	"unsigned long long": "PRIu64",
	"int8_t":             "PRId8",
	"uint8_t":            "PRIu8",
	"int16_t":            "PRId16",
	"uint16_t":           "PRIu16",
	"int32_t":            "PRId32",
	"uint32_t":           "PRIu32",
	"int64_t":            "PRId64",
	"uint64_t":           "PRIu64",
}

// statementTypes is the fixed set of spellings the statement pass tags.
var statementTypes = map[string]bool{
	"int":          true,
	"unsigned int": true,
	"long":         true,
	"char":         true,
	"int8_t":       true,
	"uint8_t":      true,
	"int16_t":      true,
	"uint16_t":     true,
	"int32_t":      true,
	"uint32_t":     true,
	"int64_t":      true,
	"uint64_t":     true,
}

// FormatFor returns the <inttypes.h> conversion macro for an integer type,
// looking through typedefs, or "" when none applies.
func FormatFor(t cast.TypeDescriptor) string {
	if f, ok := formats[stripConst(t.Spelling)]; ok {
		return f
	}
	return formats[t.Canonical]
}

// StatementEligible reports whether the statement pass may tag a value of
// type t. Only the exact spellings in the fixed set qualify, with or
// without const.
func StatementEligible(t cast.TypeDescriptor) bool {
	return statementTypes[stripConst(t.Spelling)]
}
