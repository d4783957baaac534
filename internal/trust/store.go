package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
)

var logger = log.New("mdocholder/trust")

const (
	cacheSize = 64
	cacheTTL  = 5 * time.Minute
)

// Store is an in-memory trust store for reader roots.
//
// Reads run concurrently; AddTrustPoint takes the write lock and purges
// cached validation results so a new anchor is seen immediately.
type Store struct {
	mu     sync.RWMutex
	points []domain.TrustPoint
	policy domain.TrustPolicy
	cache  gcache.Cache
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store enforcing policy.
func NewStore(policy domain.TrustPolicy, opts ...Option) *Store {
	if policy.MaxChainLength <= 0 {
		policy.MaxChainLength = domain.DefaultTrustPolicy().MaxChainLength
	}
	s := &Store{
		policy: policy,
		cache:  gcache.New(cacheSize).LRU().Build(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddTrustPoint registers point as a reader anchor. Adding the same
// certificate twice replaces the earlier entry.
func (s *Store) AddTrustPoint(point domain.TrustPoint) error {
	if point.Certificate == nil {
		return errors.New("trust point has no certificate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.points {
		if bytes.Equal(existing.Certificate.Raw, point.Certificate.Raw) {
			s.points[i] = point
			s.cache.Purge()
			return nil
		}
	}
	s.points = append(s.points, point)
	s.cache.Purge()
	logger.Debugf("added trust point %q (%s)", point.Name(), crypto.CertFingerprint(point.Certificate))
	return nil
}

// TrustPoints returns a copy of the registered trust points, sorted by name.
func (s *Store) TrustPoints() []domain.TrustPoint {
	s.mu.RLock()
	out := append([]domain.TrustPoint(nil), s.points...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ValidateChain checks a reader chain, leaf first, against the trust points.
//
// Steps:
//  1. Reject empty or over-long chains.
//  2. Serve a cached positive result for the identical chain, if any.
//  3. Check every link: each certificate must be signed by the next one and,
//     when the policy asks for it, be within its validity period.
//  4. Anchor the last certificate: it either is a trust point or is signed
//     by one.
//
// Every failure wraps domain.ErrUntrustedReader.
func (s *Store) ValidateChain(chain []*x509.Certificate) (domain.TrustPoint, error) {
	if len(chain) == 0 {
		return domain.TrustPoint{}, fmt.Errorf("%w: no reader certificate chain", domain.ErrUntrustedReader)
	}
	if len(chain) > s.policy.MaxChainLength {
		return domain.TrustPoint{}, fmt.Errorf("%w: chain length %d exceeds %d",
			domain.ErrUntrustedReader, len(chain), s.policy.MaxChainLength)
	}

	key := chainKey(chain)
	if v, err := s.cache.Get(key); err == nil {
		if tp, ok := v.(domain.TrustPoint); ok {
			return tp, nil
		}
	}

	now := s.now()
	for i, cert := range chain {
		if cert == nil {
			return domain.TrustPoint{}, fmt.Errorf("%w: nil certificate at %d", domain.ErrUntrustedReader, i)
		}
		if err := s.checkValidity(cert, now); err != nil {
			return domain.TrustPoint{}, err
		}
		if i+1 < len(chain) {
			if err := cert.CheckSignatureFrom(chain[i+1]); err != nil {
				return domain.TrustPoint{}, fmt.Errorf("%w: certificate %d not issued by %d: %v",
					domain.ErrUntrustedReader, i, i+1, err)
			}
		}
	}

	tp, err := s.anchor(chain[len(chain)-1], now)
	if err != nil {
		return domain.TrustPoint{}, err
	}

	// Cached results must not outlive the shortest validity in the chain.
	ttl := cacheTTL
	for _, cert := range chain {
		if left := cert.NotAfter.Sub(now); left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		_ = s.cache.SetWithExpire(key, tp, ttl)
	}
	return tp, nil
}

func (s *Store) anchor(terminal *x509.Certificate, now time.Time) (domain.TrustPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tp := range s.points {
		if bytes.Equal(terminal.Raw, tp.Certificate.Raw) {
			return tp, nil
		}
	}
	for _, tp := range s.points {
		if !bytes.Equal(terminal.RawIssuer, tp.Certificate.RawSubject) {
			continue
		}
		if err := terminal.CheckSignatureFrom(tp.Certificate); err != nil {
			continue
		}
		if err := s.checkValidity(tp.Certificate, now); err != nil {
			return domain.TrustPoint{}, err
		}
		return tp, nil
	}
	return domain.TrustPoint{}, fmt.Errorf("%w: %q does not chain to a trust point",
		domain.ErrUntrustedReader, terminal.Subject.CommonName)
}

func (s *Store) checkValidity(cert *x509.Certificate, now time.Time) error {
	if !s.policy.CheckValidity {
		return nil
	}
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: %q outside validity period", domain.ErrUntrustedReader, cert.Subject.CommonName)
	}
	return nil
}

// LoadPEMDir adds every certificate found in *.pem files under dir. A
// missing directory is not an error.
func (s *Store) LoadPEMDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		certs, err := pki.ParseCertificatesPEM(b)
		if err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		for _, c := range certs {
			name := strings.TrimSuffix(e.Name(), ".pem")
			if c.Subject.CommonName != "" {
				name = c.Subject.CommonName
			}
			if err := s.AddTrustPoint(domain.TrustPoint{Certificate: c, DisplayName: name}); err != nil {
				return n, err
			}
			n++
		}
	}
	logger.Infof("loaded %d trust point(s) from %s", n, dir)
	return n, nil
}

func chainKey(chain []*x509.Certificate) string {
	h := sha256.New()
	for _, c := range chain {
		if c != nil {
			h.Write(c.Raw)
		}
		h.Write([]byte{0})
	}
	return string(h.Sum(nil))
}

var _ domain.TrustStore = (*Store)(nil)
