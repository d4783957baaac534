package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
)

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage reader trust points",
	}
	cmd.AddCommand(trustListCmd(), trustAddCmd())
	return cmd
}

func trustListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reader trust points",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Init(cmd.Context()); err != nil {
				return err
			}
			for _, tp := range appCtx.Trust.TrustPoints() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					crypto.CertFingerprint(tp.Certificate), tp.Name(), tp.Certificate.NotAfter.Format("2006-01-02"))
			}
			return nil
		},
	}
}

// trustAddCmd copies a reader root into the trust directory so later runs
// load it too.
func trustAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <root.pem>",
		Short: "Trust a reader root certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			certs, err := pki.ParseCertificatesPEM(b)
			if err != nil {
				return err
			}
			dir := appCtx.Config.TrustDir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			for _, c := range certs {
				if err := appCtx.Trust.AddTrustPoint(domain.TrustPoint{Certificate: c}); err != nil {
					return err
				}
				fp := crypto.CertFingerprint(c)
				path := filepath.Join(dir, fp+".pem")
				if err := os.WriteFile(path, pki.EncodeCertificatesPEM(c), 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Trusted %q (%s)\n", c.Subject.CommonName, fp)
			}
			return nil
		},
	}
}
