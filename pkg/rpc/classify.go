package rpc

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultAuthPatterns match URLs and pages served by the identity provider.
var DefaultAuthPatterns = []string{
	"*accounts.google.com*",
	"*ServiceLogin*",
}

// AuthDetector recognizes when the browser has been bounced to the identity
// provider instead of reaching the application.
type AuthDetector struct {
	patterns []glob.Glob
	raw      []string
}

// NewAuthDetector compiles DefaultAuthPatterns plus any extra patterns.
func NewAuthDetector(extra ...string) (*AuthDetector, error) {
	d := &AuthDetector{}
	for _, p := range append(append([]string{}, DefaultAuthPatterns...), extra...) {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid auth pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, g)
		d.raw = append(d.raw, p)
	}
	return d, nil
}

var defaultDetector = mustAuthDetector()

func mustAuthDetector() *AuthDetector {
	d, err := NewAuthDetector()
	if err != nil {
		panic(err)
	}
	return d
}

// DefaultAuthDetector returns the detector built from DefaultAuthPatterns.
func DefaultAuthDetector() *AuthDetector {
	return defaultDetector
}

// Patterns returns the source patterns.
func (d *AuthDetector) Patterns() []string {
	return append([]string(nil), d.raw...)
}

// MatchURL reports whether u points at the identity provider.
func (d *AuthDetector) MatchURL(u string) bool {
	for _, g := range d.patterns {
		if g.Match(u) {
			return true
		}
	}
	return false
}

// MatchBody reports whether a response body is the identity provider's page
// rather than an RPC envelope. Envelopes always carry the anti-XSSI prefix, so
// prefixed bodies never match even if their payload mentions the provider.
func (d *AuthDetector) MatchBody(text string) bool {
	if strings.HasPrefix(text, AntiXSSIPrefix[:4]) {
		return false
	}
	return d.MatchURL(text)
}

// ClassifyNavigation returns an AuthExpired error when the page landed on the
// identity provider, nil otherwise.
func (d *AuthDetector) ClassifyNavigation(pageURL string) error {
	if d.MatchURL(pageURL) {
		return AuthExpired("redirected to sign-in page; cookies expired or invalid")
	}
	return nil
}

// IsAuthRedirect reports whether u belongs to the identity provider using the
// default patterns.
func IsAuthRedirect(u string) bool {
	return defaultDetector.MatchURL(u)
}

// ClassifyNavigation is DefaultAuthDetector().ClassifyNavigation.
func ClassifyNavigation(pageURL string) error {
	return defaultDetector.ClassifyNavigation(pageURL)
}
