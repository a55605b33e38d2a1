// Package urlval validates the next-stage URL the bootstrap hands off to.
// The URL ends up as a form action, so only plain http(s) targets without
// embedded credentials or query strings are accepted.
package urlval

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL indicates the URL is empty or malformed.
	ErrInvalidURL = errors.New("invalid url format")

	// ErrInvalidScheme indicates the URL scheme is not allowed.
	ErrInvalidScheme = errors.New("url scheme not allowed")

	// ErrInvalidHost indicates the URL host is not allowed.
	ErrInvalidHost = errors.New("url host not allowed")

	// ErrCredentials indicates the URL carries user info.
	ErrCredentials = errors.New("url must not carry credentials")

	// ErrQuery indicates the URL carries a query or fragment.
	ErrQuery = errors.New("url must not carry a query or fragment")
)

// AllowedSchemes defines which URL schemes are permitted for absolute URLs.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// Config holds URL validator configuration.
type Config struct {
	AllowedSchemes map[string]bool
	// AllowedHosts restricts absolute URLs to these hosts. Empty allows any.
	AllowedHosts map[string]bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{AllowedSchemes: AllowedSchemes}
}

// Validator checks next-stage URLs.
type Validator struct {
	allowedSchemes map[string]bool
	allowedHosts   map[string]bool
}

// New creates a URL validator with the given configuration.
func New(cfg Config) *Validator {
	hosts := make(map[string]bool, len(cfg.AllowedHosts))
	for h, ok := range cfg.AllowedHosts {
		hosts[strings.ToLower(h)] = ok
	}
	return &Validator{allowedSchemes: cfg.AllowedSchemes, allowedHosts: hosts}
}

// NewDefault creates a URL validator with default settings.
func NewDefault() *Validator {
	return New(DefaultConfig())
}

// Validate checks rawURL. Relative references are accepted as they stay
// on the serving origin.
func (v *Validator) Validate(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return ErrQuery
	}
	if u.User != nil {
		return ErrCredentials
	}

	if u.Scheme == "" {
		// Scheme-relative URLs ("//host/x") leave the origin.
		if u.Host != "" {
			return fmt.Errorf("%w: %s", ErrInvalidHost, u.Host)
		}
		if u.Opaque != "" {
			return fmt.Errorf("%w: opaque reference", ErrInvalidURL)
		}
		return nil
	}

	scheme := strings.ToLower(u.Scheme)
	if !v.allowedSchemes[scheme] {
		return fmt.Errorf("%w: %s", ErrInvalidScheme, scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}
	if len(v.allowedHosts) > 0 && !v.allowedHosts[host] {
		return fmt.Errorf("%w: %s", ErrInvalidHost, host)
	}
	return nil
}
