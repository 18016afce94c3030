// SPDX-License-Identifier: MIT

// Package netpol validates outbound URLs before the daemon fetches them.
// Remote image URLs come from upstream metadata, so they are treated as
// untrusted input: only http(s), no userinfo or fragments, normalized
// hosts, and no loopback or private literals.
package netpol

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrNotAllowed indicates the URL failed outbound policy.
	ErrNotAllowed = errors.New("netpol: outbound url not allowed")
)

// NormalizeHost validates and normalizes a hostname for comparison.
// IDN hosts are converted to their ASCII (punycode) form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.ContainsAny(host, "/@%") || strings.Contains(host, "://") {
		return "", fmt.Errorf("malformed host: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateImageURL checks an upstream-provided image URL against the
// outbound policy and returns its normalized form.
func ValidateImageURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty url", ErrNotAllowed)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrNotAllowed, u.Scheme)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: userinfo present", ErrNotAllowed)
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("%w: fragment present", ErrNotAllowed)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrNotAllowed)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return "", fmt.Errorf("%w: non-public address %s", ErrNotAllowed, host)
		}
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", fmt.Errorf("%w: non-public address %s", ErrNotAllowed, host)
	}

	u.Scheme = scheme
	u.Host = rebuildHost(host, u.Port())
	return u.String(), nil
}

func rebuildHost(host, port string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}
