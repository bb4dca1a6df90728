package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
)

func TestPlaceholder(t *testing.T) {
	tests := []struct {
		spelling string
		want     string
	}{
		{"int", "1"},
		{"unsigned long", "1"},
		{"uint8_t", "1"},
		{"enum mode", "1"},
		{"char", "'a'"},
		{"unsigned char", "'a'"},
		{"char *", `""`},
		{"const char *", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.spelling, func(t *testing.T) {
			got, err := Placeholder(cast.Classify(tt.spelling))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlaceholderUnresolvable(t *testing.T) {
	for _, spelling := range []string{"float", "double", "void", "struct S", "int [3]", "int *", "void *", "char **", ""} {
		_, err := Placeholder(cast.Classify(spelling))
		assert.ErrorIs(t, err, ErrUnresolvable, spelling)
	}
}
