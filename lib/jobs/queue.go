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

package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
)

// Broker is the subset of the broker client the job producer needs.
type Broker interface {
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	HSet(ctx context.Context, key, field string, value any) error
	HGet(ctx context.Context, key, field string) (string, error)
}

// QueueConfig configures a job queue producer.
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

// Queue produces registrar jobs and reads their results.
type Queue struct {
	cfg QueueConfig
}

// NewQueue returns a job queue producer.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Queue{cfg: cfg}, nil
}

// Push signs a job envelope, appends it to the registrar queue, and presets
// its result to pending. Returns the fresh job id.
func (q *Queue) Push(ctx context.Context, kind Kind) (string, error) {
	job := RegistrarJob{ID: uuid.NewString(), Job: kind}
	token, err := envelope.Sign(q.cfg.Secret, job, q.cfg.Clock.Now(), defaults.EnvelopeTTL)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := q.RecordResult(ctx, job.ID, Pending()); err != nil {
		return "", trace.Wrap(err)
	}
	if _, err := q.cfg.Broker.RPush(ctx, defaults.RegistrarJobQueueKey, token); err != nil {
		return "", trace.Wrap(err)
	}
	return job.ID, nil
}

// RecordResult writes a result into the job-result hash.
func (q *Queue) RecordResult(ctx context.Context, jobID string, result Result) error {
	raw, err := SerializeResult(result)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(q.cfg.Broker.HSet(ctx, defaults.JobResultHashKey, jobID, raw))
}

// Result reads the recorded result of a job. Unknown ids return a NotFound
// error.
func (q *Queue) Result(ctx context.Context, jobID string) (Result, error) {
	raw, err := q.cfg.Broker.HGet(ctx, defaults.JobResultHashKey, jobID)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	result, err := ParseResult(raw)
	return result, trace.Wrap(err)
}
