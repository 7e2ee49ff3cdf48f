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

// Package renderer implements the background worker that drains the render
// queue: it rasterizes layouts into PNG bytes (or passes lighting commands
// through), delivers them to the per-device queues, and keeps the bounded
// per-device render history.
package renderer

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/obelisklabs/beetle"
	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/render"
)

// Broker is the broker-session surface the renderer needs.
type Broker interface {
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	LPush(ctx context.Context, key string, values ...any) (int64, error)
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	HSet(ctx context.Context, key, field string, value any) error
	HGet(ctx context.Context, key, field string) (string, error)
	Close() error
}

// Store is the document-store surface the renderer needs.
type Store interface {
	// AppendRenderHistory records a delivered render on the device's
	// bounded history.
	AppendRenderHistory(ctx context.Context, deviceID string, queued render.QueuedRender) error
}

// Config holds the renderer's dependencies and tuning.
type Config struct {
	// Dial establishes a fresh broker session.
	Dial func(ctx context.Context) (Broker, error)

	// Store is the document-store surface.
	Store Store

	// Secret verifies envelope tokens on the render queue.
	Secret []byte

	// Clock drives timestamps and envelope verification.
	Clock clockwork.Clock

	// Logger emits worker progress.
	Logger *slog.Logger

	// PopTimeout bounds the blocking pop on the render queue each tick.
	PopTimeout time.Duration

	// CanvasWidth and CanvasHeight are the panel dimensions in pixels.
	CanvasWidth  int
	CanvasHeight int

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
	if len(c.Secret) == 0 {
		return trace.BadParameter("missing Secret")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(beetle.ComponentKey, beetle.ComponentRenderer)
	}
	if c.PopTimeout == 0 {
		c.PopTimeout = defaults.RenderPopTimeout
	}
	if c.CanvasWidth == 0 {
		c.CanvasWidth = defaults.CanvasWidth
	}
	if c.CanvasHeight == 0 {
		c.CanvasHeight = defaults.CanvasHeight
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = defaults.MaxWorkerFailures
	}
	return nil
}

// Renderer is the rasterizing worker.
type Renderer struct {
	cfg Config

	session  Broker
	jobQueue *jobs.Queue

	failures int
}

// New returns an unstarted renderer.
func New(cfg Config) (*Renderer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Renderer{cfg: cfg}, nil
}

// Run drives the worker loop until ctx is canceled or the worker exceeds its
// consecutive-failure budget. The blocking pop paces the loop; there is no
// separate tick interval.
func (r *Renderer) Run(ctx context.Context) error {
	defer r.dropSession()
	for {
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		default:
		}

		if err := r.tick(ctx); err != nil {
			r.failures++
			r.cfg.Logger.WarnContext(ctx, "renderer tick failed",
				"error", err, "consecutive_failures", r.failures)
			r.dropSession()
			if r.failures >= r.cfg.MaxFailures {
				return trace.Wrap(err, "renderer exiting after %d consecutive failures", r.failures)
			}
		} else {
			r.failures = 0
		}
	}
}

// tick processes at most one queued render.
func (r *Renderer) tick(ctx context.Context) error {
	if err := r.ensureSession(ctx); err != nil {
		return trace.Wrap(err)
	}

	token, err := r.session.BLPop(ctx, r.cfg.PopTimeout, defaults.RenderQueueKey)
	if trace.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}

	var queued render.QueuedRender
	if err := envelope.Verify(r.cfg.Secret, token, r.cfg.Clock.Now(), &queued); err != nil {
		r.cfg.Logger.WarnContext(ctx, "dropping undecodable queued render", "error", err)
		return nil
	}

	if err := r.deliver(ctx, queued); err != nil {
		// broker failures bubble up as tick failures so the session is
		// redialed; anything else is a bad render, recorded and skipped
		if trace.IsConnectionProblem(err) {
			return trace.Wrap(err)
		}
		r.cfg.Logger.WarnContext(ctx, "render failed",
			"render_id", queued.ID, "device_id", queued.DeviceID, "error", err)
		return trace.Wrap(r.jobQueue.RecordResult(ctx, queued.ID, jobs.Failed(err.Error())))
	}
	return trace.Wrap(r.jobQueue.RecordResult(ctx, queued.ID, jobs.Terminal()))
}

// deliver turns a queued render into device-bound bytes, evicts whatever
// stale frames the device has not drawn yet, pushes the fresh payload, and
// records the render on the device's history.
func (r *Renderer) deliver(ctx context.Context, queued render.QueuedRender) error {
	var payload any
	switch queued.Layout.Kind {
	case render.VariantLighting:
		payload = defaults.LightingPrefix + queued.Layout.Lighting
	case render.VariantLayout:
		raw, err := render.Rasterize(queued.Layout.Layout, r.cfg.CanvasWidth, r.cfg.CanvasHeight)
		if err != nil {
			return trace.Wrap(err)
		}
		payload = raw
	default:
		return trace.BadParameter("unknown render variant %q", queued.Layout.Kind)
	}

	key := defaults.DeviceQueueKey(queued.DeviceID)
	if err := r.evictStale(ctx, key); err != nil {
		return trace.Wrap(err)
	}
	if _, err := r.session.LPush(ctx, key, payload); err != nil {
		return trace.Wrap(err)
	}

	if err := r.cfg.Store.AppendRenderHistory(ctx, queued.DeviceID, queued); err != nil {
		// the frame already shipped; history is best effort
		r.cfg.Logger.WarnContext(ctx, "render history update failed",
			"device_id", queued.DeviceID, "error", err)
	}
	r.cfg.Logger.InfoContext(ctx, "render delivered",
		"render_id", queued.ID, "device_id", queued.DeviceID, "kind", queued.Layout.Kind)
	return nil
}

// evictStale empties the device queue so the fresh frame is the only one the
// device can draw. LTRIM with start beyond stop empties the list.
func (r *Renderer) evictStale(ctx context.Context, key string) error {
	length, err := r.session.LLen(ctx, key)
	if err != nil {
		return trace.Wrap(err)
	}
	if length == 0 {
		return nil
	}
	r.cfg.Logger.DebugContext(ctx, "evicting stale frames", "key", key, "count", length)
	return trace.Wrap(r.session.LTrim(ctx, key, length, 0))
}

// ensureSession dials the broker if no session is held.
func (r *Renderer) ensureSession(ctx context.Context) error {
	if r.session != nil {
		return nil
	}
	session, err := r.cfg.Dial(ctx)
	if err != nil {
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
	r.session, r.jobQueue = session, jobQueue
	return nil
}

// dropSession closes and forgets the current broker session.
func (r *Renderer) dropSession() {
	if r.session == nil {
		return
	}
	r.session.Close()
	r.session, r.jobQueue = nil, nil
}
