/*
Copyright 2024 Obelisk Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package session issues and validates the web session cookie. The cookie
// value is an HS256 token carrying only the user's oid and an expiry; all
// user data lives in the document store.
package session

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/defaults"
)

// CookieName is the session cookie's name.
const CookieName = "beetle_session"

var validMethods = []string{jwt.SigningMethodHS256.Alg()}

// Config holds session issuing parameters.
type Config struct {
	// Secret signs session tokens.
	Secret []byte
	// TTL is the session lifetime.
	TTL time.Duration
	// Domain scopes the cookie; optional.
	Domain string
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Secret) == 0 {
		return trace.BadParameter("missing session Secret")
	}
	if c.TTL == 0 {
		c.TTL = defaults.SessionTTL
	}
	return nil
}

// Manager issues and validates session cookies.
type Manager struct {
	cfg Config
}

// NewManager returns a session manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{cfg: cfg}, nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
	OID string `json:"oid"`
}

// Issue returns a session cookie for the user identified by oid.
func (m *Manager) Issue(oid string, now time.Time) (*http.Cookie, error) {
	if oid == "" {
		return nil, trace.BadParameter("missing oid")
	}
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
		},
		OID: oid,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		Domain:   m.cfg.Domain,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}, nil
}

// Expire returns a cookie that clears the session.
func (m *Manager) Expire() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Domain:   m.cfg.Domain,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// Parse validates the session cookie on a request and returns the user's
// oid. Missing, expired, and forged cookies return an AccessDenied error.
func (m *Manager) Parse(r *http.Request, now time.Time) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", trace.AccessDenied("no session")
	}
	var claims sessionClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims,
		func(*jwt.Token) (any, error) { return m.cfg.Secret, nil },
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", trace.AccessDenied("invalid session")
	}
	if claims.OID == "" {
		return "", trace.AccessDenied("invalid session")
	}
	return claims.OID, nil
}
