// Package security keeps the scanner from dialing internal networks or
// configured third-party hosts.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrUnsafeURL is returned for URLs that target private or malformed destinations.
	ErrUnsafeURL = errors.New("unsafe url")
	// ErrBlockedHost is returned for hosts matched by the configured blocklist.
	ErrBlockedHost = errors.New("blocked host")
)

var allowedSchemes = []string{"http", "https"}

var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		out = append(out, network)
	}
	return out
}

// Guard validates outbound URLs. The zero value only checks schemes.
type Guard struct {
	blockPrivate bool
	blocklist    *HostBlocklist
}

// NewGuard builds a Guard. blockedHosts accepts exact hosts and "*.suffix" patterns.
func NewGuard(blockPrivate bool, blockedHosts []string) *Guard {
	return &Guard{
		blockPrivate: blockPrivate,
		blocklist:    NewHostBlocklist(blockedHosts),
	}
}

// ValidateURL performs static checks that need no DNS lookup. Resolved
// addresses are checked by the transport from SafeTransport.
func (g *Guard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty url", ErrUnsafeURL)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}
	if g.blocklist.IsBlocked(host) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if !g.blockPrivate {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: private address %s", ErrUnsafeURL, ip)
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrUnsafeURL, host)
	}
	return nil
}

// SafeTransport returns a round tripper whose dialer refuses private,
// loopback and link-local addresses after DNS resolution and only connects
// to ports 80 and 443.
func SafeTransport(timeout time.Duration) http.RoundTripper {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	client := safeurl.Client(cfg).Client
	if client.Transport != nil {
		return client.Transport
	}
	return clientTransport{client: client}
}

// clientTransport adapts an *http.Client into a RoundTripper.
type clientTransport struct {
	client *http.Client
}

func (t clientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("safe roundtrip: %w", err)
	}
	return resp, nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
