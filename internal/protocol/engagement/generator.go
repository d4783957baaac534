package engagement

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/domain"
)

var logger = log.New("mdocholder/engagement")

// DefaultMaxEncodedSize keeps the payload inside a QR code that still scans
// reliably on phone cameras.
const DefaultMaxEncodedSize = 512

const nonceSize = 16

var (
	// ErrNoMethods is returned when Generate gets an empty method set.
	ErrNoMethods = errors.New("engagement: no connection methods")
	// ErrDuplicateMethod is returned when two methods share a kind and
	// address or service UUID.
	ErrDuplicateMethod = errors.New("engagement: duplicate connection method")
	// ErrUnsupportedRole is returned for any role but RoleHolder.
	ErrUnsupportedRole = errors.New("engagement: only the holder role generates engagements")
	// ErrEncodingOverflow is returned when even a single method exceeds the
	// size limit.
	ErrEncodingOverflow = domain.ErrEncodingOverflow
)

// Generator builds device engagements. It is safe for concurrent use.
type Generator struct {
	crypto  domain.CryptoProvider
	maxSize int
	rand    io.Reader
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxEncodedSize sets the payload size above which the generator falls
// back to a single method. Non-positive values keep the default.
func WithMaxEncodedSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxSize = n
		}
	}
}

// WithRand sets the nonce source.
func WithRand(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// WithClock sets the clock stamped into records.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator returns a Generator drawing ephemeral keys from provider.
func NewGenerator(provider domain.CryptoProvider, opts ...Option) *Generator {
	g := &Generator{
		crypto:  provider,
		maxSize: DefaultMaxEncodedSize,
		rand:    rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxEncodedSize reports the configured payload limit.
func (g *Generator) MaxEncodedSize() int { return g.maxSize }

// Generate creates a fresh EngagementRecord advertising methods.
//
// Steps:
//  1. Validate the method set (non-empty, no duplicates) and assign fresh
//     service UUIDs to BLE methods that carry none.
//  2. Generate a new ephemeral P-256 key pair and a random nonce.
//  3. Encode all methods; if the payload exceeds the size limit, retry with
//     only the first method, which callers list as their preferred one.
//  4. Fail with ErrEncodingOverflow only if a single method still overflows.
func (g *Generator) Generate(methods []domain.ConnectionMethod, role domain.Role) (*domain.EngagementRecord, error) {
	if role != domain.RoleHolder {
		return nil, ErrUnsupportedRole
	}
	if len(methods) == 0 {
		return nil, ErrNoMethods
	}

	resolved := make([]domain.ConnectionMethod, 0, len(methods))
	seen := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		if _, dup := seen[m.Key()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Key())
		}
		seen[m.Key()] = struct{}{}
		if m.Kind.IsBLE() && m.ServiceUUID == uuid.Nil {
			m.ServiceUUID = uuid.New()
		}
		resolved = append(resolved, m)
	}

	priv, err := g.crypto.GenerateKeyPair(domain.CurveP256)
	if err != nil {
		return nil, fmt.Errorf("engagement key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(g.rand, nonce); err != nil {
		return nil, fmt.Errorf("engagement nonce: %w", err)
	}

	encoded, err := Encode(priv.PublicKey(), resolved, nonce)
	if err != nil {
		return nil, err
	}
	if len(encoded) > g.maxSize && len(resolved) > 1 {
		logger.Warnf("engagement with %d methods is %d bytes (limit %d); advertising %s only",
			len(resolved), len(encoded), g.maxSize, resolved[0].Kind)
		resolved = resolved[:1]
		if encoded, err = Encode(priv.PublicKey(), resolved, nonce); err != nil {
			return nil, err
		}
	}
	if len(encoded) > g.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrEncodingOverflow, len(encoded), g.maxSize)
	}

	return &domain.EngagementRecord{
		EphemeralKey: priv,
		Methods:      resolved,
		Nonce:        nonce,
		Encoded:      encoded,
		CreatedAt:    g.now(),
	}, nil
}

var _ domain.EngagementGenerator = (*Generator)(nil)
