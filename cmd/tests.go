package cmd

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fediverse-devnet/feditest-sub000/internal/catalog"
	pkgstrings "github.com/fediverse-devnet/feditest-sub000/pkg/strings"
)

func newTestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tests",
		Short: "List the tests a plan can use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cat := catalog.Builtin()
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Kind", "Roles", "Steps", "Description"})
			for _, name := range cat.Names() {
				test, _ := cat.Lookup(name)
				kind, steps := "function", ""
				if ct, ok := test.(catalog.ClassTest); ok {
					kind, steps = "class", strings.Join(ct.StepNames(), ", ")
				}
				t.AppendRow(table.Row{name, kind, strings.Join(test.Roles(), ", "), steps, pkgstrings.Truncate(test.Description(), pkgstrings.DefaultCellMaxLen)})
			}
			t.Render()
		},
	}
}
