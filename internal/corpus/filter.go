package corpus

// FilterTablesByFiles returns only the rows whose file is in files.
func FilterTablesByFiles(tables Tables, files map[string]bool) Tables {
	out := emptyTables()
	if len(files) == 0 {
		return out
	}
	for _, row := range tables.Files {
		if files[row.Path] {
			out.Files = append(out.Files, row)
		}
	}
	for _, row := range tables.Functions {
		if files[row.File] {
			out.Functions = append(out.Functions, row)
		}
	}
	for _, row := range tables.Typedefs {
		if files[row.File] {
			out.Typedefs = append(out.Typedefs, row)
		}
	}
	for _, row := range tables.Globals {
		if files[row.File] {
			out.Globals = append(out.Globals, row)
		}
	}
	return out
}
