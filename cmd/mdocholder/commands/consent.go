package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"mdocholder/internal/domain"
)

// terminalConsent asks on the terminal before anything is shared.
type terminalConsent struct {
	in        io.Reader
	out       io.Writer
	assumeYes *bool
}

func (c *terminalConsent) Confirm(ctx context.Context, req domain.ConsentRequest) (bool, error) {
	fmt.Fprintf(c.out, "\n%s wants to share with %q:\n", req.AppName, req.Reader.Name())
	for _, cand := range req.Candidates {
		name := cand.Credential.DisplayName
		if name == "" {
			name = string(cand.Credential.DocType)
		}
		fmt.Fprintf(c.out, "  %s: %s\n", name, strings.Join(cand.Plan.ClaimNames, ", "))
	}
	if c.assumeYes != nil && *c.assumeYes {
		fmt.Fprintln(c.out, "Sharing (--yes).")
		return true, nil
	}

	fmt.Fprint(c.out, "Share? [y/N] ")
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.in).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case a := <-answer:
		return a == "y" || a == "yes", nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var _ domain.ConsentPrompt = (*terminalConsent)(nil)
