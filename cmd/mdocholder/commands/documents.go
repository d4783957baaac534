package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Init(cmd.Context()); err != nil {
				return err
			}
			docs, err := appCtx.DocService.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tAUTH\tCLAIMS")
			for _, d := range docs {
				modes := make([]string, len(d.AuthModes))
				for i, m := range d.AuthModes {
					modes[i] = string(m)
				}
				claims := 0
				for _, elems := range d.Namespaces {
					claims += len(elems)
				}
				name := d.DisplayName
				if d.TypeDisplayName != "" {
					name += " (" + d.TypeDisplayName + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.ID, name, d.DocType, strings.Join(modes, ","), claims)
			}
			return w.Flush()
		},
	}
}
