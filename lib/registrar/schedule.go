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

package registrar

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/types"
)

// scheduleWindow is how far ahead a schedule run looks for calendar events.
const scheduleWindow = 24 * time.Hour

// handleRunSchedule executes a device's enabled schedule once: pull the
// scheduled user's upcoming calendar events and queue a split render with the
// next event beside the owner's name. A device with no enabled schedule is a
// clean no-op.
func (r *Registrar) handleRunSchedule(ctx context.Context, job *jobs.RunScheduleJob) (jobs.Result, error) {
	schedule, err := r.cfg.Store.GetSchedule(ctx, job.DeviceID)
	switch {
	case trace.IsNotFound(err):
		return jobs.Terminal(), nil
	case err != nil:
		return jobs.Result{}, trace.Wrap(err)
	}
	if schedule.Kind == nil {
		return jobs.Terminal(), nil
	}
	if schedule.Kind.Kind != types.ScheduleUserEventsBasic {
		return jobs.Result{}, trace.BadParameter("unknown schedule kind %q", schedule.Kind.Kind)
	}

	user, err := r.cfg.Store.GetUser(ctx, schedule.Kind.UserID)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	now := r.cfg.Clock.Now().UTC()
	events, err := r.upcomingEvents(ctx, user, now)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	renderID, _, err := r.renders.Push(ctx, job.DeviceID,
		render.RegistrarAuthority(),
		render.LayoutVariant(render.ScheduleRunLayout(events, user.Name)))
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	schedule.LastExecuted = &now
	if err := r.cfg.Store.UpsertSchedule(ctx, *schedule); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	r.cfg.Logger.InfoContext(ctx, "schedule executed",
		"device_id", job.DeviceID, "events", len(events), "render_id", renderID)
	return jobs.Percolated(renderID), nil
}

// upcomingEvents unwraps the user's stored access token and asks the identity
// provider for the next day of calendar events.
func (r *Registrar) upcomingEvents(ctx context.Context, user *types.User, now time.Time) ([]types.ScheduleEvent, error) {
	if user.LatestToken == nil {
		return nil, trace.NotFound("user %q holds no provider token", user.OID)
	}
	accessToken, err := envelope.UnwrapSecret(r.cfg.Secret, user.LatestToken.Token.AccessToken)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	events, err := r.cfg.Provider.UpcomingEvents(ctx, accessToken, now, scheduleWindow)
	return events, trace.Wrap(err)
}
