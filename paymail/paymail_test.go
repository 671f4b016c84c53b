package paymail

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDNS struct {
	LookupSRVFn func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

func (m *mockDNS) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	return m.LookupSRVFn(ctx, service, proto, name)
}

// srvTo points every SRV lookup at the given httptest server.
func srvTo(t *testing.T, srv *httptest.Server) *mockDNS {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &mockDNS{LookupSRVFn: func(_ context.Context, service, proto, _ string) (string, []*net.SRV, error) {
		assert.Equal(t, SRVPaymail, service)
		assert.Equal(t, "tcp", proto)
		return "", []*net.SRV{{Target: host + ".", Port: uint16(port)}}, nil
	}}
}

type paymailHost struct {
	pki         string
	destination string
	destStatus  int
}

func (h paymailHost) handler(t *testing.T, base func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/bsvalias", func(w http.ResponseWriter, r *http.Request) {
		caps := map[string]interface{}{
			"pki":          base() + "/api/v1/bsvalias/id/{alias}@{domain.tld}",
			"5f1323cddf31": true,
		}
		if h.destination != "" || h.destStatus != 0 {
			caps["paymentDestination"] = base() + "/api/v1/bsvalias/address/{alias}@{domain.tld}"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"bsvalias": "1.0", "capabilities": caps})
	})
	mux.HandleFunc("/api/v1/bsvalias/id/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PKIResponse{BSVAlias: "1.0", Handle: "boase@handcash.io", PubKey: h.pki})
	})
	mux.HandleFunc("/api/v1/bsvalias/address/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if h.destStatus != 0 {
			w.WriteHeader(h.destStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"output": h.destination})
	})
	return mux
}

func newTestHost(t *testing.T, h paymailHost) (*httptest.Server, *Resolver) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(h.handler(t, func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	return srv, NewResolver(WithScheme("http"), WithDNSResolver(srvTo(t, srv)), WithHTTPClient(srv.Client()))
}

func testKey(t *testing.T) (*ec.PrivateKey, string) {
	t.Helper()
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := script.NewAddressFromPublicKey(key.PubKey(), true)
	require.NoError(t, err)
	return key, addr.AddressString
}

func lockHex(t *testing.T, address string) string {
	t.Helper()
	addr, err := script.NewAddressFromString(address)
	require.NoError(t, err)
	lock, err := p2pkh.Lock(addr)
	require.NoError(t, err)
	return hex.EncodeToString(*lock)
}

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		alias  string
		domain string
	}{
		{"boase@handcash.io", "boase", "handcash.io"},
		{"  $Boase@HandCash.io ", "boase", "handcash.io"},
		{"a.b@pay.example.com.", "a.b", "pay.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.alias, a.Alias)
			assert.Equal(t, tt.domain, a.Domain)
			assert.Equal(t, tt.alias+"@"+tt.domain, a.String())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "boase", "@handcash.io", "boase@", "boase@localhost", "bo ase@handcash.io", "boase@hand/cash.io"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidPaymail, in)
	}
	assert.True(t, IsPaymail("boase@handcash.io"))
	assert.False(t, IsPaymail("1BrbnQon4uZPSxNwt19ozwtgHPDbgvaeD1"))
}

// ---------------------------------------------------------------------------
// SRV
// ---------------------------------------------------------------------------

func TestLookupEndpoints_Sorted(t *testing.T) {
	dns := &mockDNS{LookupSRVFn: func(context.Context, string, string, string) (string, []*net.SRV, error) {
		return "", []*net.SRV{
			{Target: "c.example.com.", Port: 443, Priority: 20, Weight: 1},
			{Target: ".", Port: 443, Priority: 0},
			{Target: "a.example.com.", Port: 443, Priority: 10, Weight: 1},
			{Target: "b.example.com.", Port: 8443, Priority: 10, Weight: 5},
		}, nil
	}}
	got, err := LookupEndpoints(context.Background(), "example.com", dns)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b.example.com:8443", got[0].String())
	assert.Equal(t, "a.example.com", got[1].String())
	assert.Equal(t, "c.example.com", got[2].String())
}

func TestLookupEndpoints_Errors(t *testing.T) {
	_, err := LookupEndpoints(context.Background(), "", &mockDNS{})
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	failing := &mockDNS{LookupSRVFn: func(context.Context, string, string, string) (string, []*net.SRV, error) {
		return "", nil, errors.New("nxdomain")
	}}
	_, err = LookupEndpoints(context.Background(), "example.com", failing)
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	unavailable := &mockDNS{LookupSRVFn: func(context.Context, string, string, string) (string, []*net.SRV, error) {
		return "", []*net.SRV{{Target: "."}}, nil
	}}
	_, err = LookupEndpoints(context.Background(), "example.com", unavailable)
	assert.ErrorIs(t, err, ErrDNSLookupFailed)
}

func TestNewDNSSECResolver_Upstreams(t *testing.T) {
	assert.Equal(t, []string{"8.8.8.8:53"}, NewDNSSECResolver().Upstreams())
	assert.Equal(t, []string{"8.8.8.8:53"}, NewDNSSECResolver("", " ").Upstreams())
	assert.Equal(t, []string{"1.1.1.1:53", "9.9.9.9:5353"}, NewDNSSECResolver("1.1.1.1", " 9.9.9.9:5353").Upstreams())
}

func TestDiscoverCapabilities_DNSSECFailureNotDowngraded(t *testing.T) {
	dns := &mockDNS{LookupSRVFn: func(context.Context, string, string, string) (string, []*net.SRV, error) {
		return "", nil, ErrDNSSECValidationFailed
	}}
	r := NewResolver(WithDNSResolver(dns))

	_, err := r.DiscoverCapabilities(context.Background(), "handcash.io")
	assert.ErrorIs(t, err, ErrPaymailDiscovery)
	assert.ErrorIs(t, err, ErrDNSSECValidationFailed)
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func TestResolveAddress_PaymentDestination(t *testing.T) {
	_, pkiAddr := testKey(t)
	key, destAddr := testKey(t)
	_, r := newTestHost(t, paymailHost{
		pki:         hex.EncodeToString(key.PubKey().Compressed()),
		destination: lockHex(t, destAddr),
	})

	got, err := r.ResolveAddress(context.Background(), "boase@handcash.io")
	require.NoError(t, err)
	assert.Equal(t, destAddr, got)
	assert.NotEqual(t, pkiAddr, got)
}

func TestResolveAddress_FallsBackToPKI(t *testing.T) {
	key, addr := testKey(t)
	_, r := newTestHost(t, paymailHost{
		pki:        hex.EncodeToString(key.PubKey().Compressed()),
		destStatus: http.StatusInternalServerError,
	})

	got, err := r.ResolveAddress(context.Background(), "boase@handcash.io")
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	pub, err := r.PublicKey(context.Background(), "boase@handcash.io")
	require.NoError(t, err)
	assert.Equal(t, key.PubKey().Compressed(), pub.Compressed())
}

func TestResolveAddress_BadPubKey(t *testing.T) {
	_, r := newTestHost(t, paymailHost{pki: "04deadbeef"})

	_, err := r.ResolveAddress(context.Background(), "boase@handcash.io")
	assert.ErrorIs(t, err, ErrAddressResolution)
	assert.ErrorIs(t, err, ErrInvalidPubKey)
}

func TestDiscoverCapabilities_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := NewResolver(WithScheme("http"), WithDNSResolver(srvTo(t, srv)))

	_, err := r.DiscoverCapabilities(context.Background(), "handcash.io")
	assert.ErrorIs(t, err, ErrPaymailDiscovery)

	_, err = r.ResolveAddress(context.Background(), "not-a-paymail")
	assert.ErrorIs(t, err, ErrInvalidPaymail)
}

func TestExpand_EscapesVariables(t *testing.T) {
	got := expand("https://h/{alias}@{domain.tld}/id", Address{Alias: "../x", Domain: "d.io"})
	assert.Equal(t, "https://h/..%2Fx@d.io/id", got)
}
