package rvg

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CredentialProvider supplies the session cookie sent with user and
// reservation requests. Where the cookie comes from is up to the implementation.
type CredentialProvider interface {
	Cookie(ctx context.Context) (string, error)
}

// StaticCredentials is a cookie header value known up front.
type StaticCredentials string

func (s StaticCredentials) Cookie(_ context.Context) (string, error) {
	cookie := strings.TrimSpace(string(s))
	if len(cookie) == 0 {
		return "", fmt.Errorf("No session cookie configured")
	}
	return cookie, nil
}

// CookieJarCredentials joins individual name/value pairs into one header.
type CookieJarCredentials map[string]string

func (c CookieJarCredentials) Cookie(_ context.Context) (string, error) {
	if len(c) == 0 {
		return "", fmt.Errorf("No session cookies configured")
	}

	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(c))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, c[name]))
	}
	return strings.Join(parts, "; "), nil
}

func withCookie(ctx context.Context, endpoint *Endpoint, credentials CredentialProvider) error {
	if credentials == nil {
		return fmt.Errorf("No credential provider configured")
	}

	cookie, err := credentials.Cookie(ctx)
	if err != nil {
		return err
	}

	endpoint.SetHeader("Cookie", cookie)
	return nil
}
