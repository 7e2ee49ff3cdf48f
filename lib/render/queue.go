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

package render

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
)

// Broker is the subset of the broker client the render producer needs.
type Broker interface {
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)
	HSet(ctx context.Context, key, field string, value any) error
}

// QueueConfig configures a render queue producer.
type QueueConfig struct {
	// Broker is the broker session to produce onto.
	Broker Broker
	// Secret signs the envelope tokens.
	Secret []byte
	// Clock supplies envelope expiry times.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *QueueConfig) CheckAndSetDefaults() error {
	if c.Broker == nil {
		return trace.BadParameter("missing Broker")
	}
	if len(c.Secret) == 0 {
		return trace.BadParameter("missing Secret")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Queue produces queued renders onto the render queue.
type Queue struct {
	cfg QueueConfig
}

// NewQueue returns a render queue producer.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Queue{cfg: cfg}, nil
}

// Push signs a queued render envelope, appends it to the render queue, and
// presets its job result to pending. Returns the fresh render id and the
// number of renders now pending on the queue.
func (q *Queue) Push(ctx context.Context, deviceID string, auth Authority, variant Variant) (string, int64, error) {
	queued := QueuedRender{
		ID:       uuid.NewString(),
		Auth:     auth,
		DeviceID: deviceID,
		Layout:   variant,
	}
	token, err := envelope.Sign(q.cfg.Secret, queued, q.cfg.Clock.Now(), defaults.EnvelopeTTL)
	if err != nil {
		return "", 0, trace.Wrap(err)
	}
	pending, err := jobs.SerializeResult(jobs.Pending())
	if err != nil {
		return "", 0, trace.Wrap(err)
	}
	if err := q.cfg.Broker.HSet(ctx, defaults.JobResultHashKey, queued.ID, pending); err != nil {
		return "", 0, trace.Wrap(err)
	}
	length, err := q.cfg.Broker.RPush(ctx, defaults.RenderQueueKey, token)
	if err != nil {
		return "", 0, trace.Wrap(err)
	}
	return queued.ID, length, nil
}
