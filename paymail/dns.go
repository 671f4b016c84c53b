package paymail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrDNSLookupFailed indicates the bsvalias SRV record could not be read.
	ErrDNSLookupFailed = errors.New("paymail: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates no upstream authenticated the answer.
	ErrDNSSECValidationFailed = errors.New("paymail: DNSSEC validation failed")
)

// DNSResolver looks up SRV records. *net.Resolver satisfies it.
type DNSResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// DefaultDNSResolver is the system resolver.
var DefaultDNSResolver DNSResolver = net.DefaultResolver

// SRVPaymail is the SRV service of paymail hosts: _bsvalias._tcp.{domain}.
const SRVPaymail = "bsvalias"

const httpsPort = 443

// Endpoint is a paymail host advertised by a bsvalias SRV record.
type Endpoint struct {
	Host string
	Port uint16
}

// String renders the endpoint for use in a URL authority. The default HTTPS
// port is omitted so capability URLs match what hosts advertise.
func (e Endpoint) String() string {
	if e.Port == 0 || e.Port == httpsPort {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// LookupEndpoints returns the bsvalias endpoints of domain, lowest priority
// first and heaviest weight first within a priority.
func LookupEndpoints(ctx context.Context, domain string, resolver DNSResolver) ([]Endpoint, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDNSLookupFailed)
	}
	_, records, err := resolver.LookupSRV(ctx, SRVPaymail, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: _%s._tcp.%s: %w", ErrDNSLookupFailed, SRVPaymail, domain, err)
	}

	records = cleanSRV(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no usable SRV records for %s", ErrDNSLookupFailed, domain)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	out := make([]Endpoint, len(records))
	for i, rec := range records {
		out[i] = Endpoint{Host: rec.Target, Port: rec.Port}
	}
	return out, nil
}

// cleanSRV drops empty and "." targets (the RFC 2782 "service not
// available" marker) and strips the trailing root dot.
func cleanSRV(records []*net.SRV) []*net.SRV {
	kept := make([]*net.SRV, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		target := strings.TrimSuffix(rec.Target, ".")
		if target == "" {
			continue
		}
		kept = append(kept, &net.SRV{Target: target, Port: rec.Port, Priority: rec.Priority, Weight: rec.Weight})
	}
	return kept
}
