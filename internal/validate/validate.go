// Package validate checks user-supplied connection settings before they
// reach a transport.
package validate

import (
	"fmt"
	"net/url"
	"strings"
)

// CoreAddress ensures raw is an http or https base URL with a host and
// nothing a base URL cannot carry: no credentials, query or fragment. The
// returned URL has surrounding whitespace and trailing slashes removed.
func CoreAddress(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("core address is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid core address: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return "", fmt.Errorf("core address missing scheme: %s", raw)
	default:
		return "", fmt.Errorf("core address scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("core address missing host: %s", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("core address must not embed credentials")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("core address must not carry a query or fragment: %s", raw)
	}
	return trimmed, nil
}
