package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mdocholder/internal/app"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and seed the sample document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.CheckPassphrase(appCtx.Config.Passphrase); err != nil {
				return err
			}
			if err := appCtx.Init(cmd.Context()); err != nil {
				return err
			}
			docs, err := appCtx.DocService.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialised %s\n", appCtx.Config.Home)
			fmt.Fprintf(out, "Documents: %d\n", len(docs))
			fmt.Fprintf(out, "Trust points: %d\n", len(appCtx.Trust.TrustPoints()))
			if appCtx.Config.SeedSampleDocument {
				fmt.Fprintf(out, "Sample issuer root: %s\n", appCtx.Config.IssuerRootPath())
			}
			return nil
		},
	}
}
