package paymail

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"go.uber.org/zap"
)

const (
	// MaxPaymailResponseSize caps paymail response bodies.
	MaxPaymailResponseSize = 1 << 20

	defaultTimeout = 30 * time.Second
)

var (
	// ErrPaymailDiscovery indicates /.well-known/bsvalias could not be read.
	ErrPaymailDiscovery = errors.New("paymail: capability discovery failed")

	// ErrPKIResolution indicates the PKI capability is missing or failed.
	ErrPKIResolution = errors.New("paymail: PKI resolution failed")

	// ErrInvalidPubKey indicates a key that is not compressed secp256k1.
	ErrInvalidPubKey = errors.New("paymail: invalid compressed public key")

	// ErrAddressResolution indicates no P2PKH address could be derived.
	ErrAddressResolution = errors.New("paymail: address resolution failed")
)

// Known capability keys. Servers advertise either the BRFC id or the name.
const (
	capPKI                  = "pki"
	capPKIBRFC              = "0c4339ef99c2"
	capPaymentDestination   = "paymentDestination"
	capPaymentDestinationID = "759684b1a19a"
)

// Capabilities holds the endpoint templates a paymail host advertises.
type Capabilities struct {
	PKI                string
	PaymentDestination string
}

// PKIResponse holds the response from a Paymail PKI endpoint.
type PKIResponse struct {
	BSVAlias string `json:"bsvalias"`
	Handle   string `json:"handle"`
	PubKey   string `json:"pubkey"` // hex-encoded compressed public key
}

type wellKnownResponse struct {
	BSVAlias     string                 `json:"bsvalias"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

type paymentDestinationResponse struct {
	Output string `json:"output"` // locking script hex
}

// Resolver resolves paymail handles to P2PKH addresses.
type Resolver struct {
	client *http.Client
	dns    DNSResolver
	scheme string
	sender string
	log    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.client = c } }

// WithDNSResolver overrides the SRV resolver, e.g. with a DNSSECResolver.
func WithDNSResolver(d DNSResolver) Option { return func(r *Resolver) { r.dns = d } }

// WithScheme overrides the URL scheme used to reach paymail hosts.
func WithScheme(s string) Option { return func(r *Resolver) { r.scheme = s } }

// WithSenderHandle sets the senderHandle sent with payment destination requests.
func WithSenderHandle(h string) Option { return func(r *Resolver) { r.sender = h } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.log = l } }

// NewResolver creates a paymail resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{Timeout: defaultTimeout},
		dns:    DefaultDNSResolver,
		scheme: "https",
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("paymail")
	return r
}

// host returns the preferred SRV endpoint of domain, or domain itself when
// no SRV record exists. A DNSSEC failure is not downgraded to the domain.
func (r *Resolver) host(ctx context.Context, domain string) (string, error) {
	endpoints, err := LookupEndpoints(ctx, domain, r.dns)
	if errors.Is(err, ErrDNSSECValidationFailed) {
		return "", err
	}
	if err != nil {
		r.log.Debug("no bsvalias SRV record, using domain", zap.String("domain", domain), zap.Error(err))
		return domain, nil
	}
	return endpoints[0].String(), nil
}

// DiscoverCapabilities fetches /.well-known/bsvalias for domain.
func (r *Resolver) DiscoverCapabilities(ctx context.Context, domain string) (*Capabilities, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrPaymailDiscovery)
	}
	host, err := r.host(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymailDiscovery, err)
	}
	u := r.scheme + "://" + host + "/.well-known/bsvalias"

	body, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymailDiscovery, err)
	}

	var wk wellKnownResponse
	if err := json.Unmarshal(body, &wk); err != nil {
		return nil, fmt.Errorf("%w: parsing JSON: %w", ErrPaymailDiscovery, err)
	}

	caps := &Capabilities{}
	for key, val := range wk.Capabilities {
		s, ok := val.(string)
		if !ok {
			continue
		}
		switch key {
		case capPKI, capPKIBRFC:
			caps.PKI = s
		case capPaymentDestination, capPaymentDestinationID:
			caps.PaymentDestination = s
		}
	}
	return caps, nil
}

// PublicKey resolves a paymail handle to its PKI public key.
func (r *Resolver) PublicKey(ctx context.Context, handle string) (*ec.PublicKey, error) {
	addr, err := Parse(handle)
	if err != nil {
		return nil, err
	}
	caps, err := r.DiscoverCapabilities(ctx, addr.Domain)
	if err != nil {
		return nil, err
	}
	return r.publicKey(ctx, addr, caps)
}

func (r *Resolver) publicKey(ctx context.Context, addr Address, caps *Capabilities) (*ec.PublicKey, error) {
	if caps.PKI == "" {
		return nil, fmt.Errorf("%w: no PKI capability found for %s", ErrPKIResolution, addr.Domain)
	}
	body, err := r.do(ctx, http.MethodGet, expand(caps.PKI, addr), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKIResolution, err)
	}

	var pki PKIResponse
	if err := json.Unmarshal(body, &pki); err != nil {
		return nil, fmt.Errorf("%w: parsing PKI response: %w", ErrPKIResolution, err)
	}
	if pki.PubKey == "" {
		return nil, fmt.Errorf("%w: empty public key in response", ErrPKIResolution)
	}
	return parseCompressedPubKey(pki.PubKey)
}

// ResolveAddress resolves a paymail handle to a P2PKH address. The
// paymentDestination capability is preferred; hosts without it, or whose
// destination is not P2PKH, fall back to the address of the PKI key.
func (r *Resolver) ResolveAddress(ctx context.Context, handle string) (string, error) {
	addr, err := Parse(handle)
	if err != nil {
		return "", err
	}
	caps, err := r.DiscoverCapabilities(ctx, addr.Domain)
	if err != nil {
		return "", err
	}

	if caps.PaymentDestination != "" {
		a, err := r.paymentDestination(ctx, addr, caps.PaymentDestination)
		if err == nil {
			return a, nil
		}
		r.log.Warn("payment destination failed, falling back to PKI",
			zap.String("paymail", addr.String()), zap.Error(err))
	}

	pub, err := r.publicKey(ctx, addr, caps)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	a, err := script.NewAddressFromPublicKey(pub, true)
	if err != nil {
		return "", fmt.Errorf("%w: address from pubkey: %w", ErrAddressResolution, err)
	}
	return a.AddressString, nil
}

func (r *Resolver) paymentDestination(ctx context.Context, addr Address, template string) (string, error) {
	req := map[string]string{
		"senderHandle": r.sender,
		"dt":           time.Now().UTC().Format(time.RFC3339),
	}
	body, err := r.do(ctx, http.MethodPost, expand(template, addr), req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}

	var dest paymentDestinationResponse
	if err := json.Unmarshal(body, &dest); err != nil {
		return "", fmt.Errorf("%w: parsing response: %w", ErrAddressResolution, err)
	}
	lock, err := script.NewFromHex(dest.Output)
	if err != nil {
		return "", fmt.Errorf("%w: output script: %w", ErrAddressResolution, err)
	}
	if !lock.IsP2PKH() {
		return "", fmt.Errorf("%w: destination is not P2PKH", ErrAddressResolution)
	}
	pkh, err := lock.PublicKeyHash()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	a, err := script.NewAddressFromPublicKeyHash(pkh, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	return a.AddressString, nil
}

func (r *Resolver) do(ctx context.Context, method, rawURL string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s returned status %d", method, rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPaymailResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

// expand fills a capability template, escaping variables to prevent path traversal.
func expand(template string, addr Address) string {
	u := strings.ReplaceAll(template, "{alias}", url.PathEscape(addr.Alias))
	return strings.ReplaceAll(u, "{domain.tld}", url.PathEscape(addr.Domain))
}

func parseCompressedPubKey(s string) (*ec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex public key: %w", ErrInvalidPubKey, err)
	}
	if len(b) != 33 || (b[0] != 0x02 && b[0] != 0x03) {
		return nil, fmt.Errorf("%w: expected 33-byte compressed key", ErrInvalidPubKey)
	}
	pub, err := ec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	return pub, nil
}
