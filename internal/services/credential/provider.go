package credential

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/crypto"
	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/message"
)

var logger = log.New("mdocholder/credential")

// Provider answers which stored credentials satisfy a reader request and
// builds the response documents for the chosen ones.
//
// Reads go straight to the document store and may run concurrently; the
// only write, the key usage counter, is serialized by the key store.
type Provider struct {
	docs            domain.DocumentStore
	keys            domain.KeyStore
	registry        *doctype.Registry
	preferSignature bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithPreferSignature chooses device signature over key agreement for
// credentials supporting both. The default is true.
func WithPreferSignature(prefer bool) Option {
	return func(p *Provider) { p.preferSignature = prefer }
}

// New returns a Provider over the given stores. registry only supplies
// display names and may be nil.
func New(docs domain.DocumentStore, keys domain.KeyStore, registry *doctype.Registry, opts ...Option) *Provider {
	p := &Provider{docs: docs, keys: keys, registry: registry, preferSignature: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CandidatesFor returns the eligible credentials for every document in req,
// grouped by document request in request order.
//
// A credential is eligible when its doc type matches and it holds at least
// one requested element; its plan discloses only the requested elements it
// holds. Within a group candidates are ordered by claim count (descending),
// then preferred authentication mode, then document id, so the same request
// against the same store always yields the same order.
func (p *Provider) CandidatesFor(
	ctx context.Context,
	req *domain.ReaderRequest,
	trust domain.TrustPoint,
) ([]domain.Candidate, error) {
	if req == nil || len(req.DocRequests) == 0 {
		return nil, fmt.Errorf("%w: no documents requested", domain.ErrMalformedRequest)
	}
	stored, err := p.docs.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", domain.ErrInternal, err)
	}

	var out []domain.Candidate
	for _, dr := range req.DocRequests {
		var group []domain.Candidate
		for _, cred := range stored {
			if cred.DocType != dr.DocType {
				continue
			}
			plan, ok := p.plan(cred, dr)
			if !ok {
				continue
			}
			group = append(group, domain.Candidate{Credential: cred, Plan: plan})
		}
		sort.SliceStable(group, func(i, j int) bool { return p.less(group[i], group[j]) })
		out = append(out, group...)
	}

	if len(out) == 0 {
		return nil, domain.ErrNoMatchingCredential
	}
	logger.Debugf("%d candidate(s) for %q", len(out), trust.Name())
	return out, nil
}

func (p *Provider) plan(cred domain.Credential, dr domain.DocRequest) (domain.DisclosurePlan, bool) {
	mode, ok := p.mode(cred)
	if !ok {
		return domain.DisclosurePlan{}, false
	}
	plan := domain.DisclosurePlan{
		DocType: cred.DocType,
		Claims:  make(map[domain.Namespace][]domain.ElementID),
		Mode:    mode,
	}
	for _, ns := range sortedKeys(dr.Items) {
		for _, el := range sortedKeys(dr.Items[ns]) {
			if !cred.Has(ns, el) {
				continue
			}
			plan.Claims[ns] = append(plan.Claims[ns], el)
			plan.ClaimNames = append(plan.ClaimNames, p.claimName(cred.DocType, ns, el))
		}
	}
	return plan, plan.ClaimCount() > 0
}

func (p *Provider) mode(cred domain.Credential) (domain.AuthMode, bool) {
	sig, mac := cred.Supports(domain.AuthSignature), cred.Supports(domain.AuthKeyAgreement)
	switch {
	case sig && mac && p.preferSignature:
		return domain.AuthSignature, true
	case mac:
		return domain.AuthKeyAgreement, true
	case sig:
		return domain.AuthSignature, true
	}
	return "", false
}

func (p *Provider) less(a, b domain.Candidate) bool {
	if ca, cb := a.Plan.ClaimCount(), b.Plan.ClaimCount(); ca != cb {
		return ca > cb
	}
	if ra, rb := p.modeRank(a.Plan.Mode), p.modeRank(b.Plan.Mode); ra != rb {
		return ra < rb
	}
	return a.Credential.ID < b.Credential.ID
}

func (p *Provider) modeRank(m domain.AuthMode) int {
	if (m == domain.AuthSignature) == p.preferSignature {
		return 0
	}
	return 1
}

func (p *Provider) claimName(dt domain.DocType, ns domain.Namespace, el domain.ElementID) string {
	if p.registry == nil {
		return string(el)
	}
	return p.registry.ClaimName(dt, ns, el)
}

// Disclose builds the encoded response Document for cand, bound to the
// session through binding.
//
// Steps:
//  1. Collect the IssuerSignedItems for exactly the planned claims.
//  2. Authenticate DeviceAuthentication: a detached COSE_Sign1 with the
//     device key, or a COSE_Mac0 keyed by ECDH between the device key and
//     the reader's ephemeral key.
//  3. Count the key use.
func (p *Provider) Disclose(
	ctx context.Context,
	cand domain.Candidate,
	binding domain.SessionBinding,
) ([]byte, error) {
	cred, plan := cand.Credential, cand.Plan

	nameSpaces := make(map[string][]message.TaggedBytes, len(plan.Claims))
	for ns, elems := range plan.Claims {
		for _, el := range elems {
			item, ok := cred.Namespaces[ns][el]
			if !ok {
				return nil, fmt.Errorf("%w: %s/%s missing from %s", domain.ErrInternal, ns, el, cred.ID)
			}
			nameSpaces[string(ns)] = append(nameSpaces[string(ns)], message.TaggedBytes(item))
		}
	}

	payload, err := message.DeviceAuthenticationBytes(binding.Transcript, cred.DocType, message.EmptyDeviceNameSpaces)
	if err != nil {
		return nil, fmt.Errorf("%w: device authentication: %v", domain.ErrInternal, err)
	}

	var auth message.DeviceAuth
	switch plan.Mode {
	case domain.AuthSignature:
		signer, err := p.keys.Signer(ctx, cred.KeyAlias)
		if err != nil {
			return nil, fmt.Errorf("%w: device key: %v", domain.ErrInternal, err)
		}
		if auth.DeviceSignature, err = message.SignDeviceAuth(signer, payload); err != nil {
			return nil, fmt.Errorf("%w: device signature: %v", domain.ErrInternal, err)
		}
	case domain.AuthKeyAgreement:
		if binding.ReaderKey == nil {
			return nil, fmt.Errorf("%w: key agreement without reader key", domain.ErrInternal)
		}
		secret, err := p.keys.SharedSecret(ctx, cred.KeyAlias, binding.ReaderKey)
		if err != nil {
			return nil, fmt.Errorf("%w: key agreement: %v", domain.ErrInternal, err)
		}
		key, err := message.DeriveEMacKey(secret, binding.Transcript)
		crypto.Wipe(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: mac key: %v", domain.ErrInternal, err)
		}
		auth.DeviceMac, err = message.MacDeviceAuth(key, payload)
		crypto.Wipe(key)
		if err != nil {
			return nil, fmt.Errorf("%w: device mac: %v", domain.ErrInternal, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown auth mode %q", domain.ErrInternal, plan.Mode)
	}

	doc, err := message.Marshal(message.Document{
		DocType: string(cred.DocType),
		IssuerSigned: message.IssuerSigned{
			NameSpaces: nameSpaces,
			IssuerAuth: cred.IssuerAuth,
		},
		DeviceSigned: message.DeviceSigned{
			NameSpaces: message.EmptyDeviceNameSpaces,
			DeviceAuth: auth,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", domain.ErrInternal, err)
	}

	if n, err := p.keys.IncrementUsage(ctx, cred.KeyAlias); err != nil {
		logger.Warnf("usage counter for %s: %v", cred.KeyAlias, err)
	} else {
		logger.Debugf("disclosed %d claim(s) of %s with %s; key used %d time(s)",
			plan.ClaimCount(), cred.ID, plan.Mode, n)
	}
	return doc, nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

var _ domain.CredentialProvider = (*Provider)(nil)
