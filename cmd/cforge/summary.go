package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/robert-at-pretension-io/cforge/internal/runner"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold).SprintfFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintfFunc()
	skipColor = color.New(color.FgYellow).SprintfFunc()
	dimColor  = color.New(color.Faint).SprintfFunc()
)

// printSummary writes the per-run report to w. Failed units come first,
// one line each, then the totals.
func printSummary(w io.Writer, s *runner.Summary, corpusOutput string) {
	for _, u := range s.Failed() {
		fmt.Fprintf(w, "%s %s: %v\n", failColor("FAIL"), u.File, u.Err)
	}

	fmt.Fprintf(w, "%s %d units: %s, %s, %s, %s %s\n",
		s.Mode,
		len(s.Units),
		okColor("%d ok", s.Count(runner.StatusOK)),
		dimColor("%d cached", s.Count(runner.StatusCached)),
		skipColor("%d skipped", s.Count(runner.StatusSkipped)),
		failColor("%d failed", s.Count(runner.StatusFailed)),
		dimColor("(%s)", s.Duration.Round(time.Millisecond)))

	switch s.Mode {
	case runner.ModeExtract, runner.ModeProcess:
		dest := corpusOutput
		if dest == "" {
			dest = "stdout"
		}
		rejected, denied := 0, 0
		for _, u := range s.Units {
			rejected += u.Rejected
			denied += len(u.Denied)
		}
		fmt.Fprintf(w, "%d records written to %s, %d declarations not selected, %d denied by policy\n",
			s.Records, dest, rejected, denied)
	case runner.ModeEliminate:
		calls, unresolved, removed := 0, 0, 0
		for _, u := range s.Units {
			calls += u.Calls
			unresolved += u.Unresolved
			removed += u.Removed
		}
		fmt.Fprintf(w, "%d calls replaced, %d left unresolved, %d declarations removed\n", calls-unresolved, unresolved, removed)
	case runner.ModeTag:
		total := 0
		for _, u := range s.Units {
			total += u.Tags
		}
		fmt.Fprintf(w, "%d tags allocated\n", total)
	case runner.ModeRename, runner.ModeRenameGlobal:
		for _, u := range s.Units {
			for _, r := range u.Renames {
				fmt.Fprintf(w, "%s %s -> %s %s\n", dimColor(u.File), r.Old, r.New, dimColor("(in %s)", r.Scope))
			}
		}
	}

	if s.Delta != nil {
		fmt.Fprintf(w, "delta: %s %s\n",
			okColor("+%d", s.Delta.Added.Len()),
			failColor("-%d", s.Delta.Removed.Len()))
		for _, row := range s.Delta.Added.Functions {
			fmt.Fprintf(w, "  + function %s (%s:%d)\n", row.Name, row.File, row.Line)
		}
		for _, row := range s.Delta.Removed.Functions {
			fmt.Fprintf(w, "  - function %s (%s:%d)\n", row.Name, row.File, row.Line)
		}
	}
}
