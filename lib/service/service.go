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

// Package service supervises the beetle server roles. It owns process-level
// wiring: one document-store client shared across roles, one broker session
// dialed per worker, and an errgroup that takes everything down together.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/obelisklabs/beetle"
	"github.com/obelisklabs/beetle/lib/broker"
	"github.com/obelisklabs/beetle/lib/config"
	"github.com/obelisklabs/beetle/lib/docstore"
	"github.com/obelisklabs/beetle/lib/oauth"
	"github.com/obelisklabs/beetle/lib/registrar"
	"github.com/obelisklabs/beetle/lib/renderer"
	"github.com/obelisklabs/beetle/lib/session"
	"github.com/obelisklabs/beetle/lib/web"
)

// Server roles.
const (
	RoleWeb       = "web"
	RoleRegistrar = "registrar"
	RoleRenderer  = "renderer"
)

// AllRoles lists every role in start order.
var AllRoles = []string{RoleWeb, RoleRegistrar, RoleRenderer}

const shutdownTimeout = 5 * time.Second

// Config holds the supervisor's parameters.
type Config struct {
	// File is the parsed configuration file.
	File *config.FileConfig
	// Roles selects which roles this process runs; defaults to all.
	Roles []string
	// Clock is shared by every component; defaults to the wall clock.
	Clock clockwork.Clock
	// Logger is the root logger; defaults to the global one.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.File == nil {
		return trace.BadParameter("missing File")
	}
	if len(c.Roles) == 0 {
		c.Roles = AllRoles
	}
	for _, role := range c.Roles {
		if !slices.Contains(AllRoles, role) {
			return trace.BadParameter("unknown role %q", role)
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Run starts the selected roles and blocks until ctx is canceled or a role
// fails permanently.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	file := cfg.File

	store, err := docstore.Connect(ctx, file.DocstoreConfig())
	if err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		store.Close(closeCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range cfg.Roles {
		switch role {
		case RoleWeb:
			if err := startWeb(gctx, g, cfg, store); err != nil {
				return trace.Wrap(err)
			}
		case RoleRegistrar:
			if err := startRegistrar(gctx, g, cfg, store); err != nil {
				return trace.Wrap(err)
			}
		case RoleRenderer:
			if err := startRenderer(gctx, g, cfg, store); err != nil {
				return trace.Wrap(err)
			}
		}
		cfg.Logger.InfoContext(ctx, "role started", "role", role)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return trace.Wrap(err)
	}
	return nil
}

// dialBroker returns a session factory for the broker's default principal.
func dialBroker(file *config.FileConfig) func(ctx context.Context) (*broker.Client, error) {
	bcfg := file.BrokerConfig("", "")
	return func(ctx context.Context) (*broker.Client, error) {
		clt, err := broker.Connect(ctx, bcfg)
		return clt, trace.Wrap(err)
	}
}

func startWeb(ctx context.Context, g *errgroup.Group, cfg Config, store *docstore.Store) error {
	file := cfg.File
	provider, err := oauth.NewProvider(file.OAuthConfig())
	if err != nil {
		return trace.Wrap(err)
	}
	sessions, err := session.NewManager(file.SessionConfig())
	if err != nil {
		return trace.Wrap(err)
	}
	clt, err := dialBroker(file)(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	handler, err := web.NewHandler(web.Config{
		Broker:     clt,
		Store:      web.NewStore(store),
		Provider:   provider,
		Sessions:   sessions,
		Secret:     file.Secret(),
		UIRedirect: file.Web.UIRedirect,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger.With(beetle.ComponentKey, beetle.ComponentWeb),
	})
	if err != nil {
		clt.Close()
		return trace.Wrap(err)
	}

	srv := &http.Server{Addr: file.Web.ListenAddr, Handler: handler}
	g.Go(func() error {
		defer clt.Close()
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return trace.Wrap(err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return trace.Wrap(srv.Shutdown(shutdownCtx))
	})
	return nil
}

func startRegistrar(ctx context.Context, g *errgroup.Group, cfg Config, store *docstore.Store) error {
	file := cfg.File
	provider, err := oauth.NewProvider(file.OAuthConfig())
	if err != nil {
		return trace.Wrap(err)
	}
	dial := dialBroker(file)
	worker, err := registrar.New(registrar.Config{
		Dial: func(ctx context.Context) (registrar.Broker, error) {
			clt, err := dial(ctx)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return clt, nil
		},
		Store:              registrar.NewStore(store),
		Provider:           provider,
		Secret:             file.Secret(),
		ScannableAddr:      file.Registrar.InitialScannableAddr,
		IDConsumerUsername: file.Registrar.IDConsumerUsername,
		IDConsumerPassword: file.Registrar.IDConsumerPassword,
		ACLAllowlist:       file.Registrar.ACLUserAllowlist,
		PoolMinimum:        file.Registrar.RegistrationPoolMinimum,
		HeartbeatChunkSize: file.Registrar.ActiveDeviceChunkSize,
		Clock:              cfg.Clock,
		Logger:             cfg.Logger.With(beetle.ComponentKey, beetle.ComponentRegistrar),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	g.Go(func() error {
		return trace.Wrap(worker.Run(ctx))
	})
	return nil
}

func startRenderer(ctx context.Context, g *errgroup.Group, cfg Config, store *docstore.Store) error {
	file := cfg.File
	dial := dialBroker(file)
	worker, err := renderer.New(renderer.Config{
		Dial: func(ctx context.Context) (renderer.Broker, error) {
			clt, err := dial(ctx)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return clt, nil
		},
		Store:  renderer.NewStore(store),
		Secret: file.Secret(),
		Clock:  cfg.Clock,
		Logger: cfg.Logger.With(beetle.ComponentKey, beetle.ComponentRenderer),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	g.Go(func() error {
		return trace.Wrap(worker.Run(ctx))
	})
	return nil
}
