package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

type DNSClass string

const (
	DNSResolves    DNSClass = "RESOLVES"
	DNSNXDomain    DNSClass = "NXDOMAIN"
	DNSNoAddress   DNSClass = "NO_A_RECORD"
	DNSUnavailable DNSClass = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName DNSClass = "INVALID_NAME"
	DNSLiteralIP   DNSClass = "LITERAL_IP"
)

// HostDNS is the resolution state of an endpoint's host.
type HostDNS struct {
	Host  string
	IPs   []net.IP
	Class DNSClass
	Err   string
}

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// ResolveEndpointHost classifies DNS for the host part of rawURL. It is used
// before deploys to tell a typo'd host from an unreachable one.
func ResolveEndpointHost(ctx context.Context, r Resolver, rawURL string) HostDNS {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return HostDNS{Host: rawURL, Class: DNSInvalidName}
	}
	s := HostDNS{Host: u.Hostname()}
	if ip := net.ParseIP(s.Host); ip != nil {
		s.IPs = []net.IP{ip}
		s.Class = DNSLiteralIP
		return s
	}

	ips, err := r.LookupIP(ctx, "ip", s.Host)
	if err == nil && len(ips) > 0 {
		s.IPs = ips
		s.Class = DNSResolves
		return s
	}
	if err != nil {
		s.Err = err.Error()
	}

	var de *net.DNSError
	if errors.As(err, &de) && (de.IsTemporary || de.IsTimeout) {
		s.Class = DNSUnavailable
		return s
	}
	// the name exists but has no address records
	if ns, nsErr := r.LookupNS(ctx, s.Host); nsErr == nil && len(ns) > 0 {
		s.Class = DNSNoAddress
		return s
	}
	s.Class = DNSNXDomain
	return s
}
