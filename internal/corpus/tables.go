package corpus

import (
	"sort"
	"strings"
)

// Tables is the relational view of a corpus: one table per declaration
// kind plus the files the rows came from.
type Tables struct {
	Files     []FileRow     `json:"files"`
	Functions []FunctionRow `json:"functions"`
	Typedefs  []TypedefRow  `json:"typedefs"`
	Globals   []GlobalRow   `json:"globals"`
}

type FileRow struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
}

type FunctionRow struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	File           string   `json:"file"`
	Line           int      `json:"line"`
	ParameterTypes string   `json:"parameter_types"`
	ReturnType     string   `json:"return_type"`
	Globals        string   `json:"globals"`
	Misc           []string `json:"misc"`
	Tokens         int      `json:"tokens"`
	Text           string   `json:"text"`
}

type TypedefRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type GlobalRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ParamSeparator joins parameter type spellings in FunctionRow.
const ParamSeparator = ", "

// BuildTables groups records by kind. Rows keep record order; files are
// sorted by path.
func BuildTables(records []Record) Tables {
	tables := emptyTables()
	files := make(map[string]int)

	for _, r := range records {
		files[r.SrcFile]++
		switch r.Kind {
		case "function":
			tables.Functions = append(tables.Functions, FunctionRow{
				ID:             r.ID,
				Name:           r.Name,
				File:           r.SrcFile,
				Line:           r.Line,
				ParameterTypes: strings.Join(r.ParameterTypes, ParamSeparator),
				ReturnType:     r.ReturnType,
				Globals:        strings.Join(r.Globals, ParamSeparator),
				Misc:           append([]string{}, r.Misc...),
				Tokens:         r.Tokens,
				Text:           r.Text,
			})
		case "typedef":
			tables.Typedefs = append(tables.Typedefs, TypedefRow{
				ID:   r.ID,
				Name: r.Name,
				File: r.SrcFile,
				Line: r.Line,
				Text: r.Text,
			})
		case "global":
			tables.Globals = append(tables.Globals, GlobalRow{
				ID:   r.ID,
				Name: r.Name,
				File: r.SrcFile,
				Line: r.Line,
				Text: r.Text,
			})
		}
	}

	for path, n := range files {
		tables.Files = append(tables.Files, FileRow{Path: path, Records: n})
	}
	sort.Slice(tables.Files, func(i, j int) bool { return tables.Files[i].Path < tables.Files[j].Path })

	return tables
}

// Len is the total number of declaration rows.
func (t Tables) Len() int {
	return len(t.Functions) + len(t.Typedefs) + len(t.Globals)
}

func emptyTables() Tables {
	return Tables{
		Files:     []FileRow{},
		Functions: []FunctionRow{},
		Typedefs:  []TypedefRow{},
		Globals:   []GlobalRow{},
	}
}
