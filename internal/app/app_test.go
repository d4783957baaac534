package app_test

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/app"
	"mdocholder/internal/crypto"
	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/reader"
	"mdocholder/internal/services/presentment"
	"mdocholder/internal/store"
	"mdocholder/internal/trust"
)

const testPassphrase = "Correct-Horse-42"

func testConfig(t *testing.T) app.Config {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Passphrase = testPassphrase
	cfg.KDF = store.KDFParams{N: 1 << 10, R: 8, P: 1}
	cfg.Transports = []app.TransportConfig{{Kind: domain.MethodLoopback, Address: "wallet"}}
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.ExchangeTimeout = 5 * time.Second
	return cfg
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
home: /tmp/holder
log_level: debug
connection_timeout: 30s
strict_start: true
trust:
  check_validity: false
  max_chain_length: 3
transports:
  - kind: ble-peripheral-server
    service_uuid: 8a5b6e2c-0d6f-4a8e-9b1a-3c2d1e0f4a5b
  - kind: websocket
    address: ws://0.0.0.0:9000/mdoc
`), 0o600))

	cfg, err := app.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/holder", cfg.Home)
	require.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
	require.Equal(t, presentment.DefaultExchangeTimeout, cfg.ExchangeTimeout)
	require.True(t, cfg.StrictStart)
	require.True(t, cfg.PreferSignature)
	require.Equal(t, domain.TrustPolicy{CheckValidity: false, MaxChainLength: 3}, cfg.TrustPolicy())
	require.Equal(t, "/tmp/holder/trust", cfg.TrustDir())
	require.NoError(t, cfg.Validate())

	methods, err := cfg.Methods()
	require.NoError(t, err)
	require.Len(t, methods, 2)
	require.Equal(t, domain.MethodBLEPeripheralServer, methods[0].Kind)
	require.Equal(t, "8a5b6e2c-0d6f-4a8e-9b1a-3c2d1e0f4a5b", methods[0].ServiceUUID.String())
	require.Equal(t, "ws://0.0.0.0:9000/mdoc", methods[1].Address)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := app.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection_timeout: [1, 2]\n"), 0o600))
	_, err = app.LoadConfig(path)
	require.Error(t, err)

	cfg, err := app.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, app.DefaultConfig(), cfg)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*app.Config)
	}{
		{"no home", func(c *app.Config) { c.Home = "" }},
		{"bad log level", func(c *app.Config) { c.LogLevel = "loud" }},
		{"negative timeout", func(c *app.Config) { c.ConnectionTimeout = -time.Second }},
		{"no transports", func(c *app.Config) { c.Transports = nil }},
		{"unknown kind", func(c *app.Config) { c.Transports = []app.TransportConfig{{Kind: "nfc"}} }},
		{"websocket without port", func(c *app.Config) {
			c.Transports = []app.TransportConfig{{Kind: domain.MethodWebsocket, Address: "ws://127.0.0.1/mdoc"}}
		}},
		{"websocket port zero", func(c *app.Config) {
			c.Transports = []app.TransportConfig{{Kind: domain.MethodWebsocket, Address: "ws://127.0.0.1:0/mdoc"}}
		}},
		{"websocket wrong scheme", func(c *app.Config) {
			c.Transports = []app.TransportConfig{{Kind: domain.MethodWebsocket, Address: "http://127.0.0.1:80/"}}
		}},
		{"bad ble uuid", func(c *app.Config) {
			c.Transports = []app.TransportConfig{{Kind: domain.MethodBLECentralClient, ServiceUUID: "nope"}}
		}},
		{"duplicate", func(c *app.Config) {
			c.Transports = []app.TransportConfig{
				{Kind: domain.MethodLoopback, Address: "x"},
				{Kind: domain.MethodLoopback, Address: "x"},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), app.ErrInvalidConfig)
		})
	}
}

func TestCheckPassphrase(t *testing.T) {
	require.NoError(t, app.CheckPassphrase(testPassphrase))
	for _, weak := range []string{"", "Short-1", "alllowercase-123", "ALLUPPER-12345", "NoDigitsHere!!", "NoSymbols12345"} {
		require.ErrorIs(t, app.CheckPassphrase(weak), app.ErrWeakPassphrase, weak)
	}
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, app.SetLogLevel(""))
	require.Error(t, app.SetLogLevel("loud"))
	require.NoError(t, app.SetLogLevel("debug"))
	require.NoError(t, app.SetLogLevel("INFO"))
}

func TestInit_ConcurrentCallersShareOneRun(t *testing.T) {
	a, err := app.New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.False(t, a.Initialized())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = a.Init(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.True(t, a.Initialized())

	docs, err := a.DocService.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, doctype.MDLDocType, docs[0].DocType)

	_, err = os.Stat(a.Config.IssuerRootPath())
	require.NoError(t, err)

	points := a.Trust.TrustPoints()
	require.Len(t, points, 1)
	require.Equal(t, trust.TestAppReaderRootName, points[0].Name())

	// A second run over the same home seeds nothing new.
	again, err := app.New(a.Config)
	require.NoError(t, err)
	t.Cleanup(again.Close)
	require.NoError(t, again.Init(context.Background()))
	docs, err = again.DocService.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestInit_FailureIsRetried(t *testing.T) {
	cfg := testConfig(t)
	cfg.Passphrase = ""
	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.ErrorIs(t, a.Init(context.Background()), app.ErrNoPassphrase)
	require.False(t, a.Initialized())
	require.ErrorIs(t, a.Init(context.Background()), app.ErrNoPassphrase)
}

func TestInit_CallerContextBoundsWait(t *testing.T) {
	a, err := app.New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Init(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	// The detached run still completes for the next caller.
	require.NoError(t, a.Init(context.Background()))
}

func TestApp_PresentsSampleToTrustedReader(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Trust.IncludeTestRoot = false

	root, err := pki.NewRoot(pki.Template{CommonName: "Test Reader Root"})
	require.NoError(t, err)
	leaf, err := pki.Issue(pki.Template{CommonName: "Test Reader"}, root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.TrustDir(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TrustDir(), "reader.pem"),
		pki.EncodeCertificatesPEM(root.Certificate), 0o600))

	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Init(ctx))

	rootPEM, err := os.ReadFile(cfg.IssuerRootPath())
	require.NoError(t, err)
	issuerRoots, err := pki.ParseCertificatesPEM(rootPEM)
	require.NoError(t, err)

	eng, err := a.Presentment.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)

	client := reader.New(crypto.NewProvider(), reader.NewDialer(a.Loopback),
		reader.WithReaderAuth(leaf.Key, []*x509.Certificate{leaf.Certificate}),
		reader.WithIssuerRoots(issuerRoots...),
		reader.WithDialWindow(time.Second))
	res, err := client.Request(ctx, eng.Encoded, []message.ReaderDocRequest{{
		DocType: doctype.MDLDocType,
		NameSpaces: map[domain.Namespace]map[domain.ElementID]bool{
			doctype.MDLNamespace: {"family_name": false, "age_over_18": false, "not_an_element": false},
		},
	}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, map[domain.ElementID]any{
		"family_name": "Mustermann",
		"age_over_18": true,
	}, res.Documents[0].Claims[doctype.MDLNamespace])

	surface := a.Presentment.Surface()
	require.Eventually(t, func() bool { return surface.State() == domain.StateCompleted },
		5*time.Second, 5*time.Millisecond)

	info, ok, err := a.Keys.KeyInfo(ctx, mustSingleDoc(t, a).KeyAlias)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, info.Usage)
}

func mustSingleDoc(t *testing.T, a *app.App) domain.Credential {
	t.Helper()
	docs, err := a.DocService.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}
