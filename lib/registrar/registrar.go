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

// Package registrar implements the background worker that owns device
// identity: it keeps the registration pool full, sweeps device heartbeats and
// stale user tokens, and executes every job kind on the registrar queue. One
// registrar runs per deployment; it is the only writer of device identity
// records.
package registrar

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/obelisklabs/beetle"
	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/types"
)

// Broker is the broker-session surface the registrar needs. The worker owns
// one session at a time; on any tick failure it drops the session and redials
// through Config.Dial on the next tick.
type Broker interface {
	LPush(ctx context.Context, key string, values ...any) (int64, error)
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	LPop(ctx context.Context, key string) (string, error)
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
	HSet(ctx context.Context, key, field string, value any) error
	HGet(ctx context.Context, key, field string) (string, error)
	ACLSetUser(ctx context.Context, user string, rules ...string) error
	ACLDelUser(ctx context.Context, user string) error
	ACLList(ctx context.Context) ([]string, error)
	Close() error
}

// TokenProvider is the identity-provider surface used by the token sweep and
// the schedule runner.
type TokenProvider interface {
	Refresh(ctx context.Context, refreshToken string) (*types.OAuthToken, error)
	UpcomingEvents(ctx context.Context, accessToken string, from time.Time, window time.Duration) ([]types.ScheduleEvent, error)
}

// Config holds the registrar's dependencies and tuning.
type Config struct {
	// Dial establishes a fresh broker session.
	Dial func(ctx context.Context) (Broker, error)

	// Store is the document-store surface.
	Store Store

	// Provider talks to the external identity provider.
	Provider TokenProvider

	// Secret signs envelope tokens and wraps stored secrets.
	Secret []byte

	// ScannableAddr is the registration URL base encoded into the QR code
	// shown on unclaimed devices.
	ScannableAddr string

	// IDConsumerUsername and IDConsumerPassword name the burn-in principal
	// flashing rigs authenticate as to claim pooled device ids; optional.
	IDConsumerUsername string
	IDConsumerPassword string

	// ACLAllowlist lists broker principals the audit never removes, beyond
	// the default user and the id consumer.
	ACLAllowlist []string

	// Clock drives the tick loop and timestamps.
	Clock clockwork.Clock

	// Logger emits worker progress.
	Logger *slog.Logger

	// TickInterval is the fixed delay between ticks.
	TickInterval time.Duration

	// JobPopTimeout bounds the blocking pop on the job queue each tick.
	JobPopTimeout time.Duration

	// PoolMinimum is the registration pool low-water mark.
	PoolMinimum int

	// HeartbeatChunkSize bounds heartbeats drained per tick.
	HeartbeatChunkSize int

	// TokenChunkSize bounds stored tokens inspected per tick.
	TokenChunkSize int

	// MaxFailures is how many consecutive tick failures the worker
	// tolerates before exiting.
	MaxFailures int
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Dial == nil {
		return trace.BadParameter("missing Dial")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Provider == nil {
		return trace.BadParameter("missing Provider")
	}
	if len(c.Secret) == 0 {
		return trace.BadParameter("missing Secret")
	}
	if c.ScannableAddr == "" {
		return trace.BadParameter("missing ScannableAddr")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(beetle.ComponentKey, beetle.ComponentRegistrar)
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaults.RegistrarTickInterval
	}
	if c.JobPopTimeout == 0 {
		c.JobPopTimeout = defaults.RegistrarJobPopTimeout
	}
	if c.PoolMinimum == 0 {
		c.PoolMinimum = defaults.RegistrationPoolMinimum
	}
	if c.HeartbeatChunkSize == 0 {
		c.HeartbeatChunkSize = defaults.ActiveDeviceChunkSize
	}
	if c.TokenChunkSize == 0 {
		c.TokenChunkSize = defaults.TokenSweepChunkSize
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = defaults.MaxWorkerFailures
	}
	return nil
}

// Registrar is the device-identity worker.
type Registrar struct {
	cfg Config

	session  Broker
	renders  *render.Queue
	jobQueue *jobs.Queue

	failures int
}

// New returns an unstarted registrar.
func New(cfg Config) (*Registrar, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Registrar{cfg: cfg}, nil
}

// Run drives the tick loop until ctx is canceled or the worker exceeds its
// consecutive-failure budget. The supervisor restarts an exited registrar.
func (r *Registrar) Run(ctx context.Context) error {
	defer r.dropSession()
	for {
		if err := r.tick(ctx); err != nil {
			r.failures++
			r.cfg.Logger.WarnContext(ctx, "registrar tick failed",
				"error", err, "consecutive_failures", r.failures)
			// the session may be the culprit; redial next tick
			r.dropSession()
			if r.failures >= r.cfg.MaxFailures {
				return trace.Wrap(err, "registrar exiting after %d consecutive failures", r.failures)
			}
		} else {
			r.failures = 0
		}

		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-r.cfg.Clock.After(r.cfg.TickInterval):
		}
	}
}

// tick runs one full registrar pass: session upkeep, pool refill, heartbeat
// sweep, token sweep, then at most one job.
func (r *Registrar) tick(ctx context.Context) error {
	if err := r.ensureSession(ctx); err != nil {
		return trace.Wrap(err)
	}
	if err := r.refillPool(ctx); err != nil {
		return trace.Wrap(err)
	}
	if err := r.sweepHeartbeats(ctx); err != nil {
		return trace.Wrap(err)
	}
	if err := r.sweepTokens(ctx); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.processJob(ctx))
}

// ensureSession dials the broker if no session is held and rebuilds the
// producers bound to it.
func (r *Registrar) ensureSession(ctx context.Context) error {
	if r.session != nil {
		return nil
	}
	session, err := r.cfg.Dial(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	renders, err := render.NewQueue(render.QueueConfig{
		Broker: session,
		Secret: r.cfg.Secret,
		Clock:  r.cfg.Clock,
	})
	if err != nil {
		session.Close()
		return trace.Wrap(err)
	}
	jobQueue, err := jobs.NewQueue(jobs.QueueConfig{
		Broker: session,
		Secret: r.cfg.Secret,
		Clock:  r.cfg.Clock,
	})
	if err != nil {
		session.Close()
		return trace.Wrap(err)
	}
	r.session, r.renders, r.jobQueue = session, renders, jobQueue

	if err := r.ensureConsumer(ctx); err != nil {
		r.dropSession()
		return trace.Wrap(err)
	}
	if err := r.auditACL(ctx); err != nil {
		r.dropSession()
		return trace.Wrap(err)
	}
	return nil
}

// dropSession closes and forgets the current broker session.
func (r *Registrar) dropSession() {
	if r.session == nil {
		return
	}
	r.session.Close()
	r.session, r.renders, r.jobQueue = nil, nil, nil
}
