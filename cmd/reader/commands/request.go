package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mdocholder/internal/crypto"
	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/reader"
)

var defaultElements = []string{"family_name", "given_name", "age_over_18"}

func requestCmd() *cobra.Command {
	var (
		keysDir    string
		issuerRoot string
		docType    string
		elements   []string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request <mdoc:URI>",
		Short: "Request claims from a holder showing an engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := engagement.ParseURI(args[0])
			if err != nil {
				return err
			}
			docReq, err := parseElements(domain.DocType(docType), elements)
			if err != nil {
				return err
			}

			opts := []reader.Option{reader.WithDialWindow(5 * time.Second)}
			if keysDir != "" {
				key, chain, err := loadReaderKeys(keysDir)
				if err != nil {
					return err
				}
				opts = append(opts, reader.WithReaderAuth(key, chain))
			}
			if issuerRoot != "" {
				b, err := os.ReadFile(issuerRoot)
				if err != nil {
					return err
				}
				roots, err := pki.ParseCertificatesPEM(b)
				if err != nil {
					return err
				}
				opts = append(opts, reader.WithIssuerRoots(roots...))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := reader.New(crypto.NewProvider(), reader.NewDialer(nil), opts...)
			res, err := client.Request(ctx, encoded, []message.ReaderDocRequest{docReq})
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysDir, "keys", "", "directory written by `reader keys`")
	cmd.Flags().StringVar(&issuerRoot, "issuer-root", "", "IACA root PEM to anchor document signers")
	cmd.Flags().StringVar(&docType, "doctype", string(doctype.MDLDocType), "document type to request")
	cmd.Flags().StringSliceVarP(&elements, "element", "e", defaultElements,
		"element to request, as NAMESPACE/ID or ID in the mDL namespace")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	return cmd
}

// parseElements turns NAMESPACE/ID arguments into a request.
func parseElements(docType domain.DocType, elements []string) (message.ReaderDocRequest, error) {
	req := message.ReaderDocRequest{
		DocType:    docType,
		NameSpaces: map[domain.Namespace]map[domain.ElementID]bool{},
	}
	for _, e := range elements {
		ns, id := doctype.MDLNamespace, e
		if i := strings.LastIndex(e, "/"); i >= 0 {
			ns, id = domain.Namespace(e[:i]), e[i+1:]
		}
		if ns == "" || id == "" {
			return message.ReaderDocRequest{}, fmt.Errorf("bad element %q", e)
		}
		if req.NameSpaces[ns] == nil {
			req.NameSpaces[ns] = map[domain.ElementID]bool{}
		}
		req.NameSpaces[ns][domain.ElementID(id)] = false
	}
	if len(req.NameSpaces) == 0 {
		return message.ReaderDocRequest{}, fmt.Errorf("no elements requested")
	}
	return req, nil
}

func loadReaderKeys(dir string) (*ecdsa.PrivateKey, []*x509.Certificate, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, nil, err
	}
	key, err := pki.ParseKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	leafPEM, err := os.ReadFile(filepath.Join(dir, leafFile))
	if err != nil {
		return nil, nil, err
	}
	chain, err := pki.ParseCertificatesPEM(leafPEM)
	if err != nil {
		return nil, nil, err
	}
	return key, chain, nil
}

func printResult(cmd *cobra.Command, res *reader.Result) {
	out := cmd.OutOrStdout()
	if len(res.Documents) == 0 {
		fmt.Fprintf(out, "No documents returned (status %d).\n", res.Status)
		return
	}
	for _, d := range res.Documents {
		signer := "unknown"
		if d.Signer != nil {
			signer = d.Signer.Subject.CommonName
		}
		fmt.Fprintf(out, "%s (device auth: %s, signer %q)\n", d.DocType, d.Mode, signer)
		namespaces := make([]string, 0, len(d.Claims))
		for ns := range d.Claims {
			namespaces = append(namespaces, string(ns))
		}
		sort.Strings(namespaces)
		for _, ns := range namespaces {
			claims := d.Claims[domain.Namespace(ns)]
			ids := make([]string, 0, len(claims))
			for id := range claims {
				ids = append(ids, string(id))
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "  %s/%s = %v\n", ns, id, claims[domain.ElementID(id)])
			}
		}
	}
}
