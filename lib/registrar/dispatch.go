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

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/types"
)

// processJob blocks briefly on the registrar queue and executes at most one
// job. A quiet queue is not an error. Malformed envelopes are logged and
// dropped; handler failures become failed results rather than tick failures.
func (r *Registrar) processJob(ctx context.Context) error {
	token, err := r.session.BLPop(ctx, r.cfg.JobPopTimeout, defaults.RegistrarJobQueueKey)
	if trace.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}

	var job jobs.RegistrarJob
	if err := envelope.Verify(r.cfg.Secret, token, r.cfg.Clock.Now(), &job); err != nil {
		r.cfg.Logger.WarnContext(ctx, "dropping undecodable registrar job", "error", err)
		return nil
	}

	result := r.dispatch(ctx, job)
	return trace.Wrap(r.jobQueue.RecordResult(ctx, job.ID, result))
}

// dispatch executes one job and folds any handler error into a failed result.
func (r *Registrar) dispatch(ctx context.Context, job jobs.RegistrarJob) jobs.Result {
	var result jobs.Result
	var err error
	switch kind := job.Job; kind.Name {
	case jobs.KindOwnership:
		result, err = r.handleOwnership(ctx, kind.Ownership)
	case jobs.KindOwnershipChange:
		result, err = r.handleOwnershipChange(ctx, kind.OwnershipChange)
	case jobs.KindRename:
		result, err = r.handleRename(ctx, kind.Rename)
	case jobs.KindRender:
		result, err = r.handleRender(ctx, kind.Render)
	case jobs.KindTokenRefresh:
		result, err = r.handleTokenRefresh(ctx, kind.TokenRefresh)
	case jobs.KindMutateState:
		result, err = r.handleMutateState(ctx, kind.MutateState)
	case jobs.KindRunSchedule:
		result, err = r.handleRunSchedule(ctx, kind.RunSchedule)
	case jobs.KindToggleSchedule:
		result, err = r.handleToggleSchedule(ctx, kind.ToggleSchedule)
	default:
		err = trace.BadParameter("unknown job kind %q", kind.Name)
	}
	if err != nil {
		r.cfg.Logger.WarnContext(ctx, "registrar job failed",
			"job_id", job.ID, "kind", job.Job.Name, "error", err)
		return jobs.Failed(err.Error())
	}
	return result
}

// handleOwnership claims a device for a user: the device snapshot lands in
// the user's device map, public devices accumulate the claimant as a guest,
// and the diagnostic moves to owned. An authority record is created on first
// claim with the claimant as exclusive owner.
func (r *Registrar) handleOwnership(ctx context.Context, job *jobs.OwnershipJob) (jobs.Result, error) {
	user, err := r.cfg.Store.GetUser(ctx, job.UserID)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	diagnostic, err := r.cfg.Store.GetDiagnostic(ctx, job.DeviceID)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	authority, err := r.cfg.Store.EnsureAuthority(ctx, job.DeviceID, job.UserID)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	if _, err := authority.AuthorityModel.Access(job.UserID); err != nil {
		return jobs.Result{}, trace.Wrap(err, "user %q may not claim device %q", job.UserID, job.DeviceID)
	}

	if user.Devices == nil {
		user.Devices = make(map[string]types.DeviceSnapshot)
	}
	user.Devices[job.DeviceID] = types.DeviceSnapshot{Nickname: diagnostic.Nickname}
	if err := r.cfg.Store.ReplaceUser(ctx, *user); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	if authority.AuthorityModel.Model == types.AuthorityPublic {
		authority.AuthorityModel = authority.AuthorityModel.WithGuest(job.UserID)
		if err := r.cfg.Store.ReplaceAuthority(ctx, *authority); err != nil {
			return jobs.Result{}, trace.Wrap(err)
		}
	}

	// the first claimant is recorded as original owner forever
	owned := types.RegistrationState{State: types.RegistrationOwned, OriginalOwner: job.UserID}
	if diagnostic.RegistrationState != nil && diagnostic.RegistrationState.State == types.RegistrationOwned {
		owned.OriginalOwner = diagnostic.RegistrationState.OriginalOwner
	}
	if err := r.cfg.Store.SetRegistrationState(ctx, job.DeviceID, owned); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	r.cfg.Logger.InfoContext(ctx, "device claimed",
		"device_id", job.DeviceID, "user", job.UserID)
	return jobs.Terminal(), nil
}

// handleOwnershipChange applies a privacy toggle to a device's authority
// model. Illegal combinations are deliberate no-ops.
func (r *Registrar) handleOwnershipChange(ctx context.Context, job *jobs.OwnershipChangeJob) (jobs.Result, error) {
	authority, err := r.cfg.Store.GetAuthority(ctx, job.DeviceID)
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	updated, ok := authority.AuthorityModel.SetPublicAvailability(job.MakePublic)
	if !ok {
		r.cfg.Logger.DebugContext(ctx, "no-op authority transition",
			"device_id", job.DeviceID, "model", authority.AuthorityModel.Model,
			"make_public", job.MakePublic)
		return jobs.Terminal(), nil
	}
	authority.AuthorityModel = updated
	if err := r.cfg.Store.ReplaceAuthority(ctx, *authority); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	return jobs.Terminal(), nil
}

// handleRename sets the device nickname on its diagnostic and rewrites the
// denormalized snapshot under every user holding the device.
func (r *Registrar) handleRename(ctx context.Context, job *jobs.RenameJob) (jobs.Result, error) {
	if err := r.cfg.Store.SetNickname(ctx, job.DeviceID, job.NewName); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	matched, err := r.cfg.Store.RenameDeviceForHolders(ctx, job.DeviceID,
		types.DeviceSnapshot{Nickname: job.NewName})
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	r.cfg.Logger.InfoContext(ctx, "device renamed",
		"device_id", job.DeviceID, "nickname", job.NewName, "holders", matched)
	return jobs.Terminal(), nil
}

// handleRender queues a render on the registrar's own authority and reports
// the queued render's id so callers can follow it through the result hash.
func (r *Registrar) handleRender(ctx context.Context, job *jobs.RenderRequest) (jobs.Result, error) {
	var layout render.Layout
	switch job.Kind {
	case jobs.RenderRegistrationScannable:
		layout = render.ScannableLayout(r.cfg.ScannableAddr + "?device_target_id=" + job.DeviceID)

	case jobs.RenderCurrentDeviceState:
		var rendering *types.RenderingState
		state, err := r.cfg.Store.GetDeviceState(ctx, job.DeviceID)
		switch {
		case err == nil:
			rendering = state.Rendering
		case !trace.IsNotFound(err):
			return jobs.Result{}, trace.Wrap(err)
		}
		layout, err = render.StateLayout(rendering)
		if err != nil {
			// never leave a device stuck on a stale frame
			r.cfg.Logger.WarnContext(ctx, "state layout failed, clearing panel",
				"device_id", job.DeviceID, "error", err)
			layout = render.ClearLayout()
		}

	default:
		return jobs.Result{}, trace.BadParameter("unknown render request %q", job.Kind)
	}

	renderID, _, err := r.renders.Push(ctx, job.DeviceID,
		render.RegistrarAuthority(), render.LayoutVariant(layout))
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	return jobs.Percolated(renderID), nil
}

// handleTokenRefresh persists a refreshed token handle onto the user.
func (r *Registrar) handleTokenRefresh(ctx context.Context, job *jobs.TokenRefreshJob) (jobs.Result, error) {
	if err := r.cfg.Store.SetUserToken(ctx, job.UserID, job.Handle); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	return jobs.Terminal(), nil
}

// handleMutateState applies a state transition to the device's persisted
// rendering state and percolates a render of the new state.
func (r *Registrar) handleMutateState(ctx context.Context, job *jobs.MutateStateJob) (jobs.Result, error) {
	var current *types.RenderingState
	state, err := r.cfg.Store.GetDeviceState(ctx, job.DeviceID)
	switch {
	case err == nil:
		current = state.Rendering
	case !trace.IsNotFound(err):
		return jobs.Result{}, trace.Wrap(err)
	}

	now := r.cfg.Clock.Now().UTC()
	next := types.ApplyTransition(current, job.Transition, now)
	if err := r.cfg.Store.SetDeviceState(ctx, job.DeviceID, next, now); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	if job.Transition.Transition == types.TransitionPushMessage &&
		job.Transition.Origin.Origin == types.OriginUser {
		if err := r.cfg.Store.IncrementSentMessages(ctx, job.DeviceID); err != nil {
			// the counter is informational; the transition already landed
			r.cfg.Logger.WarnContext(ctx, "sent-message counter update failed",
				"device_id", job.DeviceID, "error", err)
		}
	}

	renderJobID, err := r.jobQueue.Push(ctx, jobs.Kind{
		Name:   jobs.KindRender,
		Render: &jobs.RenderRequest{Kind: jobs.RenderCurrentDeviceState, DeviceID: job.DeviceID},
	})
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	return jobs.Percolated(renderJobID), nil
}

// handleToggleSchedule enables or disables the default schedule for a device.
// Either way it percolates an immediate schedule run so the panel reflects
// the toggle without waiting for the next scheduled execution; a run against
// a disabled schedule is itself a no-op.
func (r *Registrar) handleToggleSchedule(ctx context.Context, job *jobs.ToggleScheduleJob) (jobs.Result, error) {
	schedule, err := r.cfg.Store.GetSchedule(ctx, job.DeviceID)
	switch {
	case trace.IsNotFound(err):
		schedule = &types.DeviceSchedule{DeviceID: job.DeviceID}
	case err != nil:
		return jobs.Result{}, trace.Wrap(err)
	}

	if job.ShouldEnable {
		if schedule.Kind == nil {
			schedule.Kind = &types.ScheduleKind{
				Kind:   types.ScheduleUserEventsBasic,
				UserID: job.UserID,
			}
		}
	} else {
		schedule.Kind = nil
	}
	if err := r.cfg.Store.UpsertSchedule(ctx, *schedule); err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}

	runID, err := r.jobQueue.Push(ctx, jobs.Kind{
		Name:        jobs.KindRunSchedule,
		RunSchedule: &jobs.RunScheduleJob{DeviceID: job.DeviceID},
	})
	if err != nil {
		return jobs.Result{}, trace.Wrap(err)
	}
	return jobs.Percolated(runID), nil
}
