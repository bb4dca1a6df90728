package corpus

// Delta captures rows added and removed between two corpus snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether the snapshots held the same declarations.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// ComputeDelta computes row-level additions and removals. Declaration rows
// are keyed by record id, which already covers file, kind, name and text.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()
	out.Files = diffRows(from.Files, to.Files, func(r FileRow) string { return r.Path })
	out.Functions = diffRows(from.Functions, to.Functions, func(r FunctionRow) string { return r.ID })
	out.Typedefs = diffRows(from.Typedefs, to.Typedefs, func(r TypedefRow) string { return r.ID })
	out.Globals = diffRows(from.Globals, to.Globals, func(r GlobalRow) string { return r.ID })
	return out
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}
