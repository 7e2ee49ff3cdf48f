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

// Package config reads the beetle server's TOML configuration file and turns
// its sections into the typed configs the individual components validate
// themselves.
package config

import (
	"crypto/tls"
	"net"
	"os"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"

	"github.com/obelisklabs/beetle/lib/broker"
	"github.com/obelisklabs/beetle/lib/docstore"
	"github.com/obelisklabs/beetle/lib/oauth"
	"github.com/obelisklabs/beetle/lib/session"
)

// Broker is the [broker] section.
type Broker struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	Auth string `toml:"auth"`
	TLS  bool   `toml:"tls"`
}

// Docstore is the [docstore] section.
type Docstore struct {
	URL         string                   `toml:"url"`
	Database    string                   `toml:"database"`
	Collections docstore.CollectionNames `toml:"collections"`
}

// OAuth is the [oauth] section.
type OAuth struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURI      string   `toml:"auth_uri"`
	TokenURI     string   `toml:"token_uri"`
	InfoURI      string   `toml:"info_uri"`
	RedirectURI  string   `toml:"redirect_uri"`
	CalendarURI  string   `toml:"calendar_uri"`
	Scopes       []string `toml:"scopes"`
}

// Web is the [web] section.
type Web struct {
	ListenAddr    string `toml:"listen_addr"`
	SessionSecret string `toml:"session_secret"`
	UIRedirect    string `toml:"ui_redirect"`
	CookieDomain  string `toml:"cookie_domain"`
	SecureCookies bool   `toml:"secure_cookies"`
}

// Registrar is the [registrar] section.
type Registrar struct {
	IDConsumerUsername      string   `toml:"id_consumer_username"`
	IDConsumerPassword      string   `toml:"id_consumer_password"`
	RegistrationPoolMinimum int      `toml:"registration_pool_minimum"`
	ActiveDeviceChunkSize   int      `toml:"active_device_chunk_size"`
	InitialScannableAddr    string   `toml:"initial_scannable_addr"`
	VendorAPISecret         string   `toml:"vendor_api_secret"`
	ACLUserAllowlist        []string `toml:"acl_user_allowlist"`
}

// FileConfig is the parsed beetle.toml.
type FileConfig struct {
	Broker    Broker    `toml:"broker"`
	Docstore  Docstore  `toml:"docstore"`
	OAuth     OAuth     `toml:"oauth"`
	Web       Web       `toml:"web"`
	Registrar Registrar `toml:"registrar"`
}

// CheckAndSetDefaults validates the parts every role needs. Section-specific
// validation happens when the section is applied to a component config.
func (c *FileConfig) CheckAndSetDefaults() error {
	if c.Broker.Host == "" {
		return trace.BadParameter("missing broker.host")
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 6379
	}
	if c.Registrar.VendorAPISecret == "" {
		return trace.BadParameter("missing registrar.vendor_api_secret")
	}
	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = ":8080"
	}
	return nil
}

// ReadFile parses and validates the config at path.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return Parse(data)
}

// Parse parses and validates raw TOML config bytes.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, trace.BadParameter("malformed config: %v", err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// BrokerConfig returns the broker session config for the given ACL principal.
// Empty username means the broker's default user.
func (c *FileConfig) BrokerConfig(username, password string) broker.Config {
	if username == "" {
		password = c.Broker.Auth
	}
	cfg := broker.Config{
		Addr:     net.JoinHostPort(c.Broker.Host, strconv.Itoa(c.Broker.Port)),
		Username: username,
		Password: password,
	}
	if c.Broker.TLS {
		cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}

// DocstoreConfig returns the document store config.
func (c *FileConfig) DocstoreConfig() docstore.Config {
	return docstore.Config{
		URL:         c.Docstore.URL,
		Database:    c.Docstore.Database,
		Collections: c.Docstore.Collections,
	}
}

// OAuthConfig returns the identity provider config.
func (c *FileConfig) OAuthConfig() oauth.Config {
	return oauth.Config{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		AuthURI:      c.OAuth.AuthURI,
		TokenURI:     c.OAuth.TokenURI,
		InfoURI:      c.OAuth.InfoURI,
		RedirectURI:  c.OAuth.RedirectURI,
		CalendarURI:  c.OAuth.CalendarURI,
		Scopes:       c.OAuth.Scopes,
	}
}

// SessionConfig returns the web session config.
func (c *FileConfig) SessionConfig() session.Config {
	return session.Config{
		Secret: []byte(c.Web.SessionSecret),
		Domain: c.Web.CookieDomain,
		Secure: c.Web.SecureCookies,
	}
}

// Secret returns the shared signing secret for envelopes and wrapped tokens.
func (c *FileConfig) Secret() []byte {
	return []byte(c.Registrar.VendorAPISecret)
}
