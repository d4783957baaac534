package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"gopkg.in/yaml.v3"

	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/services/presentment"
	"mdocholder/internal/store"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultWebsocketAddress is advertised when no transport is configured.
const DefaultWebsocketAddress = "ws://127.0.0.1:18013/mdoc"

// TransportConfig is one advertised connection method, in preference order.
type TransportConfig struct {
	Kind        domain.MethodKind `yaml:"kind"`
	Address     string            `yaml:"address,omitempty"`
	ServiceUUID string            `yaml:"service_uuid,omitempty"`
}

// TrustConfig selects the reader trust points and the validation policy.
type TrustConfig struct {
	CheckValidity  bool `yaml:"check_validity"`
	MaxChainLength int  `yaml:"max_chain_length"`
	// PointsDir holds *.pem reader roots; empty means <home>/trust.
	PointsDir string `yaml:"points_dir,omitempty"`
	// IncludeTestRoot trusts the bundled test reader root.
	IncludeTestRoot bool `yaml:"include_test_root"`
}

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string `yaml:"home"`                 // data directory, e.g. $HOME/.mdocholder
	Passphrase string `yaml:"passphrase,omitempty"` // seals device keys; usually passed by flag
	LogLevel   string `yaml:"log_level"`
	AppName    string `yaml:"app_name"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ExchangeTimeout   time.Duration `yaml:"exchange_timeout"`
	MaxEngagementSize int           `yaml:"max_engagement_size"`
	PreferSignature   bool          `yaml:"prefer_signature"`
	StrictStart       bool          `yaml:"strict_start"`

	SeedSampleDocument bool              `yaml:"seed_sample_document"`
	Trust              TrustConfig       `yaml:"trust"`
	Transports         []TransportConfig `yaml:"transports"`

	// KDF overrides the key sealing cost; zero uses the store default.
	KDF store.KDFParams `yaml:"-"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:           "INFO",
		AppName:            "mdocholder",
		ConnectionTimeout:  presentment.DefaultConnectionTimeout,
		ExchangeTimeout:    presentment.DefaultExchangeTimeout,
		MaxEngagementSize:  engagement.DefaultMaxEncodedSize,
		PreferSignature:    true,
		SeedSampleDocument: true,
		Trust: TrustConfig{
			CheckValidity:   true,
			MaxChainLength:  domain.DefaultTrustPolicy().MaxChainLength,
			IncludeTestRoot: true,
		},
		Transports: []TransportConfig{{Kind: domain.MethodWebsocket, Address: DefaultWebsocketAddress}},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem with cfg.
func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("%w: home is required", ErrInvalidConfig)
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
		}
	}
	if c.ConnectionTimeout < 0 || c.ExchangeTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.MaxEngagementSize < 0 {
		return fmt.Errorf("%w: max_engagement_size must not be negative", ErrInvalidConfig)
	}
	if c.Trust.MaxChainLength < 0 {
		return fmt.Errorf("%w: trust.max_chain_length must not be negative", ErrInvalidConfig)
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("%w: at least one transport is required", ErrInvalidConfig)
	}
	if _, err := c.Methods(); err != nil {
		return err
	}
	return nil
}

// Methods converts the configured transports to connection methods.
func (c Config) Methods() ([]domain.ConnectionMethod, error) {
	out := make([]domain.ConnectionMethod, 0, len(c.Transports))
	seen := map[string]bool{}
	for i, t := range c.Transports {
		m := domain.ConnectionMethod{Kind: t.Kind, Address: t.Address}
		switch {
		case t.Kind.IsBLE():
			if t.ServiceUUID != "" {
				id, err := uuid.Parse(t.ServiceUUID)
				if err != nil {
					return nil, fmt.Errorf("%w: transports[%d].service_uuid: %v", ErrInvalidConfig, i, err)
				}
				m.ServiceUUID = id
			}
		case t.Kind == domain.MethodWebsocket:
			if err := checkWebsocketAddress(t.Address); err != nil {
				return nil, fmt.Errorf("%w: transports[%d]: %v", ErrInvalidConfig, i, err)
			}
		case t.Kind == domain.MethodLoopback:
			if t.Address == "" {
				return nil, fmt.Errorf("%w: transports[%d]: loopback needs an address", ErrInvalidConfig, i)
			}
		default:
			return nil, fmt.Errorf("%w: transports[%d]: unknown kind %q", ErrInvalidConfig, i, t.Kind)
		}
		if seen[m.Key()] && !t.Kind.IsBLE() {
			return nil, fmt.Errorf("%w: transports[%d] duplicates %s", ErrInvalidConfig, i, m.Key())
		}
		seen[m.Key()] = true
		out = append(out, m)
	}
	return out, nil
}

// checkWebsocketAddress requires an explicit port: the address is encoded
// into the engagement before the listener binds.
func checkWebsocketAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("websocket address: %v", err)
	}
	if u.Scheme != "ws" {
		return fmt.Errorf("websocket address %q: scheme must be ws", addr)
	}
	if p := u.Port(); p == "" || p == "0" {
		return fmt.Errorf("websocket address %q: explicit port required", addr)
	}
	return nil
}

// TrustPolicy returns the chain validation policy.
func (c Config) TrustPolicy() domain.TrustPolicy {
	return domain.TrustPolicy{CheckValidity: c.Trust.CheckValidity, MaxChainLength: c.Trust.MaxChainLength}
}

// TrustDir returns the directory trust point PEM files are read from.
func (c Config) TrustDir() string {
	if c.Trust.PointsDir != "" {
		return c.Trust.PointsDir
	}
	return filepath.Join(c.Home, "trust")
}

// IssuerRootPath is where the IACA root of the seeded sample is kept.
func (c Config) IssuerRootPath() string {
	return filepath.Join(c.Home, "issuer_root.pem")
}
