package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mdocholder/internal/app"
)

const passphraseEnv = "MDOCHOLDER_PASSPHRASE"

var (
	home       string
	configPath string
	passphrase string
	logLevel   string
	assumeYes  bool
	appCtx     *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "mdocholder",
		Short:         "Present mobile documents to nearby readers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Home = home
			}
			if cfg.Home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfg.Home = filepath.Join(dir, ".mdocholder")
			}
			if passphrase == "" {
				passphrase = os.Getenv(passphraseEnv)
			}
			if passphrase != "" {
				cfg.Passphrase = passphrase
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := app.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}

			consent := &terminalConsent{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), assumeYes: &assumeYes}
			appCtx, err = app.New(cfg, app.WithConsent(consent))
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appCtx != nil {
				appCtx.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.mdocholder)")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "",
		"passphrase sealing device keys (or $"+passphraseEnv+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARNING, ERROR)")

	root.AddCommand(initCmd(), documentsCmd(), trustCmd(), presentCmd())
	return root.Execute()
}
