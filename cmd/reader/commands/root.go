package commands

import (
	"github.com/spf13/cobra"

	"mdocholder/internal/app"
)

var logLevel string

func Execute() error {
	root := &cobra.Command{
		Use:          "reader",
		Short:        "Test mdoc reader",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.SetLogLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "WARNING", "log level (DEBUG, INFO, WARNING, ERROR)")
	root.AddCommand(keysCmd(), requestCmd())
	return root.Execute()
}
