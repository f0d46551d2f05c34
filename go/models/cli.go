package models

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

// PrintFlags renders a flag set as an aligned table on stderr.
func PrintFlags(flags []*flag.Flag) {
	w := tabwriter.NewWriter(os.Stderr, 2, 4, 2, ' ', 0)
	for _, f := range flags {
		def := ""
		if f.DefValue != "" && f.DefValue != "[]" {
			def = "(" + f.DefValue + ")"
		}
		fmt.Fprintf(w, "  -%s\t%s\t%s\n", f.Name, def, f.Usage)
	}
	w.Flush()
}
