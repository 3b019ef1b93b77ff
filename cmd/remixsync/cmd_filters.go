package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/remixsync/internal/render"
)

func init() {
	rootCmd.AddCommand(filtersCmd)
}

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the filter catalogue and its default parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := render.Builtin()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULTS\tDESCRIPTION")
		for _, name := range catalog.Names() {
			f := catalog[name]
			keys := make([]string, 0, len(f.Defaults))
			for k := range f.Defaults {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, fmt.Sprintf("%s=%g", k, f.Defaults[k]))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, strings.Join(pairs, " "), f.Description)
		}
		return w.Flush()
	},
}
