package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <descriptor-dir>",
	Short: "List factory descriptors found in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	descriptors, err := loadDescriptors(args[0])
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		fmt.Println(text.Colors{text.FgHiYellow}.Sprint("no factory descriptors found"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("FACTORY"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("PROVIDES"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("REQUIRES"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("INSTANCES"),
	})

	for _, d := range descriptors {
		provides := make([]string, 0, len(d.fd.Provides))
		for _, p := range d.fd.Provides {
			provides = append(provides, providesSummary(p))
		}
		requires := make([]string, 0, len(d.fd.Requires))
		for _, r := range d.fd.Requires {
			requires = append(requires, requirementSummary(r))
		}
		instances := len(d.fd.Instances)
		if instances == 0 {
			instances = 1 // an un-named default instance is still created
		}
		t.AppendRow(table.Row{
			text.Colors{text.FgHiCyan, text.Bold}.Sprint(d.fd.Name),
			joinOrDash(provides),
			joinOrDash(requires),
			instances,
		})
	}
	t.Render()
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}
