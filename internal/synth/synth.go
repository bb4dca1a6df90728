// Package synth produces literal placeholders that stand in for values of
// a given type.
package synth

import (
	"errors"
	"fmt"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
)

// ErrUnresolvable is returned for types with no literal placeholder:
// aggregates, arrays, floats, void and pointers other than char pointers.
var ErrUnresolvable = errors.New("no placeholder for type")

// Placeholder returns a literal of type t.
func Placeholder(t cast.TypeDescriptor) (string, error) {
	switch {
	case t.PointsTo(func(p cast.TypeDescriptor) bool { return p.Class == cast.ClassCharacter }):
		return `""`, nil
	case t.Class == cast.ClassInteger:
		return "1", nil
	case t.Class == cast.ClassCharacter:
		return "'a'", nil
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnresolvable, t.Class, t.Spelling)
}
