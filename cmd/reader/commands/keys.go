package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mdocholder/internal/crypto"
	"mdocholder/internal/pki"
)

const (
	rootFile = "reader_root.pem"
	leafFile = "reader.pem"
	keyFile  = "reader_key.pem"
)

func keysCmd() *cobra.Command {
	var (
		out      string
		name     string
		validity time.Duration
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Create a reader root and authentication certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			root, err := pki.NewRoot(pki.Template{
				CommonName: name + " Root",
				NotBefore:  now.Add(-time.Minute),
				NotAfter:   now.Add(validity),
			})
			if err != nil {
				return err
			}
			leaf, err := pki.Issue(pki.Template{
				CommonName: name,
				NotBefore:  now.Add(-time.Minute),
				NotAfter:   now.Add(validity),
			}, root)
			if err != nil {
				return err
			}
			keyPEM, err := pki.EncodeKeyPEM(leaf.Key)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(out, 0o700); err != nil {
				return err
			}
			files := map[string][]byte{
				rootFile: pki.EncodeCertificatesPEM(root.Certificate),
				leafFile: pki.EncodeCertificatesPEM(leaf.Certificate),
				keyFile:  keyPEM,
			}
			for file, b := range files {
				if err := os.WriteFile(filepath.Join(out, file), b, 0o600); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reader root %s written to %s\n",
				crypto.CertFingerprint(root.Certificate), filepath.Join(out, rootFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "reader-keys", "output directory")
	cmd.Flags().StringVar(&name, "name", "Test Reader", "reader common name")
	cmd.Flags().DurationVar(&validity, "validity", 365*24*time.Hour, "certificate validity")
	return cmd
}
