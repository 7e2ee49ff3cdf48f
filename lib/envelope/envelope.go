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

// Package envelope signs and verifies the compact tokens carried on the work
// queues and wrapped around secrets at rest. Every token is HS256 over a
// single deployment-wide secret; the signing is defensive (no plaintext
// payloads on the broker or in the store), not an authorization boundary.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
)

// validMethods restricts verification to the one algorithm we sign with.
var validMethods = []string{jwt.SigningMethodHS256.Alg()}

type envelopeClaims struct {
	jwt.RegisteredClaims
	Job json.RawMessage `json:"job"`
}

// Sign wraps payload in a signed envelope token expiring at now+ttl.
func Sign(secret []byte, payload any, now time.Time, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", trace.Wrap(err)
	}
	claims := envelopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Job: raw,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return token, nil
}

// Verify checks the signature and expiry of an envelope token and decodes the
// payload into out. Expired and malformed tokens return a BadParameter error;
// callers are expected to log and continue.
func Verify(secret []byte, token string, now time.Time, out any) error {
	var claims envelopeClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return trace.BadParameter("invalid envelope token: %v", err)
	}
	if err := json.Unmarshal(claims.Job, out); err != nil {
		return trace.BadParameter("malformed envelope payload: %v", err)
	}
	return nil
}

type secretClaims struct {
	jwt.RegisteredClaims
	Token string `json:"token"`
}

// WrapSecret signs value so it can be persisted without exposing the
// plaintext. Wrapped secrets carry no expiry; the wrapped token's own
// lifetime governs its usefulness.
func WrapSecret(secret []byte, value string) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, secretClaims{Token: value}).SignedString(secret)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return token, nil
}

// UnwrapSecret recovers the value wrapped by WrapSecret.
func UnwrapSecret(secret []byte, wrapped string) (string, error) {
	var claims secretClaims
	_, err := jwt.ParseWithClaims(wrapped, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods(validMethods),
	)
	if err != nil {
		return "", trace.BadParameter("invalid wrapped secret: %v", err)
	}
	return claims.Token, nil
}
