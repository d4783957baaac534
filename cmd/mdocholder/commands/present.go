package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"mdocholder/internal/app"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/services/presentment"
)

// presentCmd advertises an engagement and serves one reader. A session that
// times out without a reader is re-advertised with a fresh engagement.
func presentCmd() *cobra.Command {
	var (
		timeout  time.Duration
		attempts uint64
		noQR     bool
	)
	cmd := &cobra.Command{
		Use:   "present",
		Short: "Show an engagement QR code and serve one reader",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := appCtx.Init(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			surface := appCtx.Presentment.Surface()
			events := make(chan domain.StateEvent, 16)
			if err := surface.RegisterStateEvent(events); err != nil {
				return err
			}
			defer surface.UnregisterStateEvent(events)

			if attempts == 0 {
				attempts = 1
			}
			op := func() error {
				rec, err := appCtx.Presentment.Start(ctx, presentment.StartOptions{Timeout: timeout})
				if err != nil {
					if errors.Is(err, domain.ErrTransportIO) {
						return err
					}
					return backoff.Permanent(err)
				}
				showEngagement(out, rec, noQR)
				return awaitOutcome(ctx, out, surface, events)
			}
			b := backoff.WithContext(
				backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), attempts-1), ctx)
			err := backoff.RetryNotify(op, b, func(err error, _ time.Duration) {
				fmt.Fprintf(out, "%v; advertising a new engagement\n", err)
			})
			if err != nil {
				return err
			}

			tp, _ := surface.Reader()
			n := 0
			if _, docs, err := message.ParseDeviceResponse(surface.Response()); err == nil {
				n = len(docs)
			}
			fmt.Fprintf(out, "Shared %d document(s) with %q.\n", n, tp.Name())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for a reader (default from config)")
	cmd.Flags().Uint64Var(&attempts, "attempts", 3, "engagements to advertise before giving up")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "print only the engagement URI")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "share without asking")
	return cmd
}

func showEngagement(out io.Writer, rec *domain.EngagementRecord, noQR bool) {
	uri := engagement.URI(rec.Encoded)
	if !noQR {
		if q, err := qrcode.New(uri, qrcode.Low); err == nil {
			fmt.Fprintln(out, q.ToSmallString(false))
		}
	}
	fmt.Fprintln(out, uri)
	for _, m := range rec.Methods {
		fmt.Fprintf(out, "  via %s %s\n", m.Kind, m.Address)
	}
	if app.Verbose() {
		fmt.Fprintf(out, "  engagement %s\n", hex.EncodeToString(rec.Encoded))
	}
}

// awaitOutcome follows state events until the session started last ends.
// Timeouts are returned for retry; every other failure is permanent.
func awaitOutcome(ctx context.Context, out io.Writer, surface *presentment.Surface, events <-chan domain.StateEvent) error {
	connecting := false
	for {
		select {
		case <-ctx.Done():
			surface.Cancel()
			return backoff.Permanent(ctx.Err())
		case ev := <-events:
			switch ev.State {
			case domain.StateConnecting:
				connecting = true
			case domain.StateConnected:
				fmt.Fprintln(out, "Reader connected.")
			case domain.StateCompleted:
				if connecting {
					return nil
				}
			case domain.StateFailed:
				if !connecting {
					continue
				}
				if ev.Reason == domain.ReasonTransportTimeout {
					return ev.Err
				}
				return backoff.Permanent(ev.Err)
			case domain.StateIdle:
				if connecting {
					return backoff.Permanent(domain.ErrTransportCancelled)
				}
			}
		}
	}
}
