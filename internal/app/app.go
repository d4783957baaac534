package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"mdocholder/internal/pki"
	"mdocholder/internal/services/documents"
	"mdocholder/internal/trust"
)

// App is the initialised holder: the wired graph plus the one-time
// initialisation every command waits for.
type App struct {
	*Wire

	mu   sync.Mutex
	task *initTask
}

type initTask struct {
	done chan struct{}
	err  error
}

// New wires cfg. Nothing touches the disk until Init.
func New(cfg Config, opts ...WireOption) (*App, error) {
	w, err := NewWire(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &App{Wire: w}, nil
}

// Init prepares the data directory, seeds the sample document and loads
// the trust points.
//
// Exactly one initialisation runs; concurrent and later callers await the
// same task and see its result. A failed initialisation is retried by the
// next call. ctx only bounds the caller's wait.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	t := a.task
	if t == nil {
		t = &initTask{done: make(chan struct{})}
		a.task = t
		go a.runInit(context.WithoutCancel(ctx), t)
	}
	a.mu.Unlock()

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) runInit(ctx context.Context, t *initTask) {
	t.err = a.initialize(ctx)
	if t.err != nil {
		logger.Errorf("initialisation failed: %v", t.err)
		a.mu.Lock()
		a.task = nil
		a.mu.Unlock()
	}
	close(t.done)
}

// initialize runs the initialisation steps.
//
// Steps:
//  1. Create the data directory.
//  2. Seed the sample driving licence into an empty store, keeping its IACA
//     root on disk for test readers.
//  3. Add the bundled test reader root when configured.
//  4. Load every trust point PEM from the trust directory.
func (a *App) initialize(ctx context.Context) error {
	cfg := a.Config
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return err
	}

	if cfg.SeedSampleDocument {
		if cfg.Passphrase == "" {
			return ErrNoPassphrase
		}
		issuer, err := documents.NewTestIssuer(time.Now(), 365*24*time.Hour)
		if err != nil {
			return err
		}
		seeded, err := a.DocService.SeedSampleWith(ctx, issuer)
		if err != nil {
			return err
		}
		if seeded {
			pem := pki.EncodeCertificatesPEM(issuer.Root)
			if err := os.WriteFile(cfg.IssuerRootPath(), pem, 0o644); err != nil {
				return fmt.Errorf("issuer root: %w", err)
			}
			logger.Infof("seeded %q; issuer root at %s", documents.SampleDisplayName, cfg.IssuerRootPath())
		}
	}

	if cfg.Trust.IncludeTestRoot {
		tp, err := trust.TestAppReaderRoot()
		if err != nil {
			return err
		}
		if err := a.Trust.AddTrustPoint(tp); err != nil {
			return err
		}
	}
	n, err := a.Trust.LoadPEMDir(cfg.TrustDir())
	if err != nil {
		return fmt.Errorf("trust points: %w", err)
	}
	logger.Debugf("loaded %d trust point(s) from %s", n, cfg.TrustDir())
	return nil
}

// Initialized reports whether Init has completed successfully.
func (a *App) Initialized() bool {
	a.mu.Lock()
	t := a.task
	a.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return t.err == nil
	default:
		return false
	}
}

// ErrNoPassphrase is returned when key material is needed but no
// passphrase was configured.
var ErrNoPassphrase = errors.New("app: passphrase required")

// Close stops the presentment service.
func (a *App) Close() {
	a.Presentment.Close()
}
