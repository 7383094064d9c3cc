package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureDNS        FailureKind = "dns"
	FailureRefused    FailureKind = "connection_refused"
	FailureReset      FailureKind = "connection_reset"
	FailureTLS        FailureKind = "tls"
	FailureNetwork    FailureKind = "network"
	FailureBadRequest FailureKind = "bad_request"
)

// ClassifyTransportError names a failure where no HTTP response arrived and
// returns a description suitable for a probe record.
func ClassifyTransportError(err error) (FailureKind, string) {
	cause := err
	var uerr *url.Error
	if errors.As(err, &uerr) {
		cause = uerr.Err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return FailureDNS, fmt.Sprintf("dns lookup failed: host %s not found", dnsErr.Name)
		case dnsErr.IsTimeout:
			return FailureDNS, fmt.Sprintf("dns lookup timed out for %s", dnsErr.Name)
		default:
			return FailureDNS, fmt.Sprintf("dns lookup failed: %v", dnsErr)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout, "timeout: " + cause.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout, "timeout: " + cause.Error()
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused, "connection refused: " + cause.Error()
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return FailureReset, "connection reset: " + cause.Error()
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) {
		return FailureTLS, "tls: " + cause.Error()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureNetwork, cause.Error()
	}
	if uerr == nil {
		return FailureBadRequest, err.Error()
	}
	return FailureNetwork, cause.Error()
}
