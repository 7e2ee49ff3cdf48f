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

// Package oauth talks to the external identity provider: the authorize
// redirect, the code-for-token exchange, userinfo, token refresh, and the
// provider's calendar API. The handshake itself is the provider's business;
// this package only carries the token and profile contracts the rest of the
// system depends on.
package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/oauth2"

	"github.com/obelisklabs/beetle/lib/types"
)

// defaultScopes are requested on every authorize redirect.
var defaultScopes = []string{"openid", "profile", "email"}

// Config holds identity provider endpoints and credentials.
type Config struct {
	// ClientID and ClientSecret identify this deployment to the provider.
	ClientID     string
	ClientSecret string
	// AuthURI is the provider's authorize endpoint.
	AuthURI string
	// TokenURI is the provider's token endpoint.
	TokenURI string
	// InfoURI is the provider's userinfo endpoint.
	InfoURI string
	// RedirectURI is where the provider sends the user back.
	RedirectURI string
	// CalendarURI is the provider's calendar events endpoint; optional.
	CalendarURI string
	// Scopes overrides the default scope set; optional.
	Scopes []string
	// Client is the HTTP client used for provider calls; optional.
	Client *http.Client
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.ClientID == "" {
		return trace.BadParameter("missing oauth ClientID")
	}
	if c.ClientSecret == "" {
		return trace.BadParameter("missing oauth ClientSecret")
	}
	if c.AuthURI == "" {
		return trace.BadParameter("missing oauth AuthURI")
	}
	if c.TokenURI == "" {
		return trace.BadParameter("missing oauth TokenURI")
	}
	if c.InfoURI == "" {
		return trace.BadParameter("missing oauth InfoURI")
	}
	if c.RedirectURI == "" {
		return trace.BadParameter("missing oauth RedirectURI")
	}
	if len(c.Scopes) == 0 {
		c.Scopes = defaultScopes
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

// Provider is a configured identity provider client.
type Provider struct {
	cfg    Config
	oauth2 oauth2.Config
}

// NewProvider returns an identity provider client.
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURI, TokenURL: cfg.TokenURI},
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// AuthCodeURL builds the authorize redirect for the provider. Google gets
// the offline-access consent variant so a refresh token is issued.
func (p *Provider) AuthCodeURL(state string) string {
	if strings.Contains(p.cfg.AuthURI, "google") {
		return p.oauth2.AuthCodeURL(state,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		)
	}
	return p.oauth2.AuthCodeURL(state)
}

// Exchange trades an authorization code for a provider token.
func (p *Provider) Exchange(ctx context.Context, code string) (*types.OAuthToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.Client)
	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "exchanging authorization code")
	}
	return &types.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn(token),
	}, nil
}

func expiresIn(token *oauth2.Token) int64 {
	if token.Expiry.IsZero() {
		return 3600
	}
	return int64(time.Until(token.Expiry).Seconds())
}

// Profile is the subset of the provider's userinfo response the system
// keeps.
type Profile struct {
	OID      string `json:"oid"`
	Sub      string `json:"sub"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Picture  string `json:"picture"`
}

// ID returns the stable user identifier: oid when present, sub otherwise.
func (p Profile) ID() string {
	if p.OID != "" {
		return p.OID
	}
	return p.Sub
}

// FetchProfile loads the user's profile with a bearer access token.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	body, err := p.get(ctx, p.cfg.InfoURI, accessToken, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, trace.BadParameter("malformed userinfo response: %v", err)
	}
	if profile.ID() == "" {
		return nil, trace.BadParameter("userinfo response missing subject")
	}
	return &profile, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh trades a refresh token for a fresh access token. Providers that
// do not rotate refresh tokens leave the response's refresh token empty;
// callers preserve the old one in that case.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*types.OAuthToken, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "refreshing access token")
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading refresh response")
	}
	if res.StatusCode != http.StatusOK {
		return nil, trace.BadParameter("token refresh failed with status %d", res.StatusCode)
	}
	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, trace.BadParameter("malformed refresh response: %v", err)
	}
	if parsed.AccessToken == "" {
		return nil, trace.BadParameter("refresh response missing access token")
	}
	return &types.OAuthToken{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
	}, nil
}

type calendarEvent struct {
	Summary string `json:"summary"`
	Start   struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"end"`
}

type calendarResponse struct {
	Items []calendarEvent `json:"items"`
}

// UpcomingEvents lists the user's calendar events between from and
// from+window, ordered by start time.
func (p *Provider) UpcomingEvents(ctx context.Context, accessToken string, from time.Time, window time.Duration) ([]types.ScheduleEvent, error) {
	if p.cfg.CalendarURI == "" {
		return nil, trace.NotFound("no calendar endpoint configured")
	}
	query := url.Values{
		"timeMin":      {from.Format(time.RFC3339)},
		"timeMax":      {from.Add(window).Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	body, err := p.get(ctx, p.cfg.CalendarURI, accessToken, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var parsed calendarResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, trace.BadParameter("malformed calendar response: %v", err)
	}
	events := make([]types.ScheduleEvent, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		events = append(events, types.ScheduleEvent{
			Summary: item.Summary,
			Start:   item.Start.DateTime,
			End:     item.End.DateTime,
		})
	}
	return events, nil
}

func (p *Provider) get(ctx context.Context, endpoint, accessToken string, query url.Values) ([]byte, error) {
	target := endpoint
	if len(query) > 0 {
		target = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "calling identity provider")
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading provider response")
	}
	if res.StatusCode != http.StatusOK {
		return nil, trace.BadParameter("provider returned status %d", res.StatusCode)
	}
	return body, nil
}
