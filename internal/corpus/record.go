// Package corpus turns selected declarations into corpus records and
// writes them out as JSONL, msgpack or SQLite.
package corpus

import (
	"strings"

	"github.com/google/uuid"

	"github.com/robert-at-pretension-io/cforge/internal/extractor"
)

// recordNamespace seeds the name-based record ids so the same declaration
// text from the same file always gets the same id.
var recordNamespace = uuid.MustParse("6f1d6a52-35a8-4d4e-9a57-3c1a3f0b8e21")

// Record is one corpus entry.
type Record struct {
	ID             string   `json:"id" msgpack:"id"`
	Kind           string   `json:"kind" msgpack:"kind"`
	Name           string   `json:"name" msgpack:"name"`
	Text           string   `json:"text" msgpack:"text"`
	ParameterTypes []string `json:"parameter_types,omitempty" msgpack:"parameter_types,omitempty"`
	ReturnType     string   `json:"return_type,omitempty" msgpack:"return_type,omitempty"`
	Globals        []string `json:"globals,omitempty" msgpack:"globals,omitempty"`
	Misc           []string `json:"misc,omitempty" msgpack:"misc,omitempty"`
	SrcFile        string   `json:"src_file" msgpack:"src_file"`
	Line           int      `json:"line" msgpack:"line"`
	Tokens         int      `json:"tokens" msgpack:"tokens"`
}

// NewRecord builds the record for one match from file.
func NewRecord(file string, m extractor.Match) Record {
	key := strings.Join([]string{file, string(m.Kind), m.Name, m.Text}, "\x00")
	return Record{
		ID:             uuid.NewSHA1(recordNamespace, []byte(key)).String(),
		Kind:           string(m.Kind),
		Name:           m.Name,
		Text:           m.Text,
		ParameterTypes: m.ParameterTypes,
		ReturnType:     m.ReturnType,
		Globals:        m.Globals,
		Misc:           m.Misc,
		SrcFile:        file,
		Line:           m.Line,
		Tokens:         Tokens(m.Text),
	}
}

// Records converts a selection result.
func Records(res extractor.Result) []Record {
	out := make([]Record, 0, len(res.Matches))
	for _, m := range res.Matches {
		out = append(out, NewRecord(res.File, m))
	}
	return out
}

// Tokens counts whitespace separated tokens in a function's body, or in
// the whole text when there is no body.
func Tokens(text string) int {
	if i := strings.IndexByte(text, '{'); i >= 0 {
		text = text[i:]
	}
	return len(strings.Fields(text))
}
