// Command cforge-dump prints the parsed view cforge works from: every
// node with its id, field, span and scope, and optionally the resolved
// declarations. It is meant for checking why a rule did or did not fire.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
)

var (
	onlyType  string
	showDecls bool
	maxText   int
	nodeID    int
)

var rootCmd = &cobra.Command{
	Use:   "cforge-dump <file.c>",
	Short: "Dump the C tree with node ids and scopes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		u, err := cast.NewParser().Parse(cmd.Context(), args[0], src)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if u.HasErrors() {
			fmt.Fprintln(w, "warning: parse recovered from syntax errors")
		}
		if cmd.Flags().Changed("node") {
			return dumpOne(w, u, nodeID)
		}
		dumpNode(w, u, u.Root, 0)
		if showDecls {
			dumpDecls(w, u)
		}
		return nil
	},
}

func dumpNode(w io.Writer, u *cast.Unit, n *cast.Node, depth int) {
	if onlyType == "" || n.Type == onlyType {
		info, _ := u.Lookup(n.ID)
		indent := strings.Repeat("  ", depth)
		if onlyType != "" {
			indent = ""
		}
		field := ""
		if n.Field != "" {
			field = n.Field + ": "
		}
		op := ""
		if n.Op != "" {
			op = fmt.Sprintf(" op=%q", n.Op)
		}
		fmt.Fprintf(w, "%s%s[%d] %s %d..%d scope=%s/%s%s",
			indent, field, info.ID, n.Type, info.Span.Start, info.Span.End, info.Scope, info.ParentScope, op)
		if len(n.Children) == 0 || onlyType != "" {
			fmt.Fprintf(w, " %q", clip(u.Text(n)))
		}
		if d := u.Ref(n); d != nil {
			fmt.Fprintf(w, " -> %s %s", d.Kind, d.Name)
		}
		fmt.Fprintln(w)
	}
	for _, c := range n.Children {
		dumpNode(w, u, c, depth+1)
	}
}

// dumpOne prints a single node by id, the way tag comments refer to it.
func dumpOne(w io.Writer, u *cast.Unit, id int) error {
	info, ok := u.Lookup(id)
	if !ok {
		return fmt.Errorf("no node with id %d", id)
	}
	n := u.Node(id)
	fmt.Fprintf(w, "[%d] %s %d..%d scope=%s/%s %q\n",
		info.ID, n.Type, info.Span.Start, info.Span.End, info.Scope, info.ParentScope, clip(u.Text(n)))
	return nil
}

func dumpDecls(w io.Writer, u *cast.Unit) {
	fmt.Fprintln(w, "\ndeclarations:")
	for _, d := range u.Decls() {
		t := u.Classify(d.Type)
		line := 0
		if d.NameNode != nil {
			line = int(d.NameNode.Row) + 1
		}
		fmt.Fprintf(w, "  %-10s %-20s type=%q class=%s scope=%s line=%d", d.Kind, d.Name, d.Type, t.Class, d.Scope, line)
		if d.Kind == cast.DeclFunction {
			var params []string
			for _, p := range d.Params {
				params = append(params, p.Type)
			}
			fmt.Fprintf(w, " params=(%s) definition=%v", strings.Join(params, ", "), d.IsDefinition)
		}
		fmt.Fprintln(w)
	}
}

func clip(s string) string {
	if maxText > 0 && len(s) > maxText {
		return s[:maxText] + "..."
	}
	return s
}

func init() {
	rootCmd.Flags().StringVarP(&onlyType, "type", "t", "", "only print nodes of this type")
	rootCmd.Flags().BoolVarP(&showDecls, "decls", "d", false, "also print resolved declarations")
	rootCmd.Flags().IntVar(&maxText, "max-text", 60, "clip node text to this many bytes (0 = no limit)")
	rootCmd.Flags().IntVarP(&nodeID, "node", "n", 0, "only print the node with this id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
