package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
)

// newState returns an unguessable value binding a redirect to its callback
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// safeReturnPath accepts only same-site absolute paths so the callback cannot
// be turned into an open redirect
func safeReturnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return ""
	}
	return u.String()
}
