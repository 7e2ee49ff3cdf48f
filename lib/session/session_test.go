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

package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/obelisklabs/beetle/lib/defaults"
)

func requestWithCookie(cookie *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	return r
}

func TestSessionRoundTrip(t *testing.T) {
	m, err := NewManager(Config{Secret: []byte("session-secret")})
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cookie, err := m.Issue("user-1", now)
	require.NoError(t, err)
	require.Equal(t, CookieName, cookie.Name)
	require.Equal(t, int(defaults.SessionTTL.Seconds()), cookie.MaxAge)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	oid, err := m.Parse(requestWithCookie(cookie), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "user-1", oid)
}

func TestSessionExpires(t *testing.T) {
	m, err := NewManager(Config{Secret: []byte("session-secret")})
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cookie, err := m.Issue("user-1", now)
	require.NoError(t, err)

	_, err = m.Parse(requestWithCookie(cookie), now.Add(defaults.SessionTTL+time.Minute))
	require.True(t, trace.IsAccessDenied(err))
}

func TestSessionRejectsForged(t *testing.T) {
	m, err := NewManager(Config{Secret: []byte("session-secret")})
	require.NoError(t, err)
	other, err := NewManager(Config{Secret: []byte("different-secret")})
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cookie, err := other.Issue("user-1", now)
	require.NoError(t, err)

	_, err = m.Parse(requestWithCookie(cookie), now)
	require.True(t, trace.IsAccessDenied(err))
}

func TestSessionMissingCookie(t *testing.T) {
	m, err := NewManager(Config{Secret: []byte("session-secret")})
	require.NoError(t, err)

	_, err = m.Parse(requestWithCookie(nil), time.Now())
	require.True(t, trace.IsAccessDenied(err))
}

func TestExpireClearsCookie(t *testing.T) {
	m, err := NewManager(Config{Secret: []byte("session-secret")})
	require.NoError(t, err)

	cookie := m.Expire()
	require.Equal(t, CookieName, cookie.Name)
	require.Empty(t, cookie.Value)
	require.Equal(t, -1, cookie.MaxAge)
}
