package app

import (
	"mdocholder/internal/crypto"
	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/services/credential"
	"mdocholder/internal/services/documents"
	"mdocholder/internal/services/presentment"
	"mdocholder/internal/store"
	"mdocholder/internal/transport"
	"mdocholder/internal/trust"
)

// Wire bundles all stores, services, and transports for the CLI.
type Wire struct {
	Config      Config
	Crypto      *crypto.Provider
	Registry    *doctype.Registry
	Documents   *store.DocumentFileStore
	Keys        *store.KeyFileStore
	DocService  *documents.Service
	Trust       *trust.Store
	Credentials *credential.Provider
	Engagements *engagement.Generator
	Loopback    *transport.Loopback
	Negotiator  *transport.Negotiator
	Presentment *presentment.Service
}

// WireOption adds optional collaborators.
type WireOption func(*wireOptions)

type wireOptions struct {
	consent domain.ConsentPrompt
	radio   transport.Radio
}

// WithConsent asks prompt before anything is disclosed.
func WithConsent(prompt domain.ConsentPrompt) WireOption {
	return func(o *wireOptions) { o.consent = prompt }
}

// WithRadio enables the BLE transports over radio.
func WithRadio(radio transport.Radio) WireOption {
	return func(o *wireOptions) { o.radio = radio }
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, opts ...WireOption) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o wireOptions
	for _, opt := range opts {
		opt(&o)
	}
	methods, err := cfg.Methods()
	if err != nil {
		return nil, err
	}

	// File-based stores
	docStore := store.NewDocumentFileStore(cfg.Home)
	keyStore := store.NewKeyFileStore(cfg.Home, cfg.Passphrase, cfg.KDF)

	provider := crypto.NewProvider()
	registry := doctype.DefaultRegistry()

	// Transports: websocket and loopback always, BLE when a radio exists
	loopback := transport.NewLoopback()
	negotiator := transport.NewNegotiator(transport.NewWebsocket(), loopback)
	if o.radio != nil {
		negotiator.Register(transport.NewBLE(o.radio))
	}

	// High-level services
	trustStore := trust.NewStore(cfg.TrustPolicy())
	creds := credential.New(docStore, keyStore, registry, credential.WithPreferSignature(cfg.PreferSignature))
	gen := engagement.NewGenerator(provider, engagement.WithMaxEncodedSize(cfg.MaxEngagementSize))
	svc := presentment.New(presentment.Deps{
		Engagements: gen,
		Negotiator:  negotiator,
		Trust:       trustStore,
		Credentials: creds,
		Crypto:      provider,
		Consent:     o.consent,
	}, presentment.Config{
		AppName:           cfg.AppName,
		Methods:           methods,
		ConnectionTimeout: cfg.ConnectionTimeout,
		ExchangeTimeout:   cfg.ExchangeTimeout,
		StrictStart:       cfg.StrictStart,
	})

	return &Wire{
		Config:      cfg,
		Crypto:      provider,
		Registry:    registry,
		Documents:   docStore,
		Keys:        keyStore,
		DocService:  documents.New(docStore, keyStore, registry),
		Trust:       trustStore,
		Credentials: creds,
		Engagements: gen,
		Loopback:    loopback,
		Negotiator:  negotiator,
		Presentment: svc,
	}, nil
}
