package paymail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultUpstream = "8.8.8.8:53"
	queryTimeout    = 5 * time.Second
	udpBufferSize   = 4096
)

// DNSSECResolver answers SRV lookups through validating recursive
// resolvers and accepts only answers carrying the AD flag. Upstreams are
// tried in order; a transport failure moves on to the next one, an
// unauthenticated answer does not.
type DNSSECResolver struct {
	upstreams []string
	udp       *dns.Client
	tcp       *dns.Client
}

var _ DNSResolver = (*DNSSECResolver)(nil)

// NewDNSSECResolver returns a resolver using the given host:port upstreams.
// Blank entries are ignored; with none left it uses 8.8.8.8:53. Entries
// without a port get :53.
func NewDNSSECResolver(upstreams ...string) *DNSSECResolver {
	var list []string
	for _, u := range upstreams {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(u); err != nil {
			u = net.JoinHostPort(u, "53")
		}
		list = append(list, u)
	}
	if len(list) == 0 {
		list = []string{defaultUpstream}
	}
	return &DNSSECResolver{
		upstreams: list,
		udp:       &dns.Client{Net: "udp", Timeout: queryTimeout, UDPSize: udpBufferSize},
		tcp:       &dns.Client{Net: "tcp", Timeout: queryTimeout},
	}
}

// Upstreams returns the resolvers queried, in order.
func (r *DNSSECResolver) Upstreams() []string {
	return append([]string(nil), r.upstreams...)
}

// LookupSRV resolves _service._proto.name. The returned cname is always
// empty. NXDOMAIN is reported as an error wrapping ErrDNSLookupFailed.
func (r *DNSSECResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	qname := "_" + service + "._" + proto + "." + name
	resp, err := r.exchange(ctx, qname, dns.TypeSRV)
	if err != nil {
		return "", nil, err
	}
	if resp.Rcode == dns.RcodeNameError {
		return "", nil, fmt.Errorf("%w: %s does not exist", ErrDNSLookupFailed, qname)
	}

	var out []*net.SRV
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		out = append(out, &net.SRV{Target: srv.Target, Port: srv.Port, Priority: srv.Priority, Weight: srv.Weight})
	}
	if len(out) == 0 {
		return "", nil, fmt.Errorf("%w: no SRV answer for %s", ErrDNSLookupFailed, qname)
	}
	return "", out, nil
}

func (r *DNSSECResolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), qtype)
	q.RecursionDesired = true
	q.SetEdns0(udpBufferSize, true)

	var errs []error
	for _, upstream := range r.upstreams {
		resp, err := r.ask(ctx, q, upstream)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", upstream, err))
			continue
		}
		if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
			errs = append(errs, fmt.Errorf("%s: rcode %s", upstream, dns.RcodeToString[resp.Rcode]))
			continue
		}
		if !resp.AuthenticatedData {
			return nil, fmt.Errorf("%w: %s answered %s without AD", ErrDNSSECValidationFailed, upstream, name)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrDNSLookupFailed, name, errors.Join(errs...))
}

// ask sends q over UDP and repeats it over TCP when the answer is truncated.
func (r *DNSSECResolver) ask(ctx context.Context, q *dns.Msg, upstream string) (*dns.Msg, error) {
	resp, _, err := r.udp.ExchangeContext(ctx, q, upstream)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, q, upstream)
		if err != nil {
			return nil, fmt.Errorf("tcp retry: %w", err)
		}
	}
	return resp, nil
}
