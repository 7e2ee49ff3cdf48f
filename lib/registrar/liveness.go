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
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/types"
)

// sweepHeartbeats drains a bounded chunk of the incoming-ping queue and
// records each heartbeat. An empty queue ends the sweep early.
func (r *Registrar) sweepHeartbeats(ctx context.Context) error {
	for i := 0; i < r.cfg.HeartbeatChunkSize; i++ {
		deviceID, err := r.session.LPop(ctx, defaults.IncomingPingKey)
		if trace.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return trace.Wrap(err)
		}
		if err := r.recordHeartbeat(ctx, deviceID); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// recordHeartbeat upserts the device's diagnostic, queues the registration QR
// code on first contact, and marks the device active. The registration render
// goes out exactly once: the pending_registration state gate keeps later
// heartbeats from re-queueing it.
func (r *Registrar) recordHeartbeat(ctx context.Context, deviceID string) error {
	now := r.cfg.Clock.Now().UTC()
	diagnostic, err := r.cfg.Store.UpsertHeartbeat(ctx, deviceID, now)
	if err != nil {
		return trace.Wrap(err)
	}

	if diagnostic.NeedsRegistrationRender() {
		target := r.cfg.ScannableAddr + "?device_target_id=" + deviceID
		renderID, _, err := r.renders.Push(ctx, deviceID,
			render.RegistrarAuthority(),
			render.LayoutVariant(render.ScannableLayout(target)))
		if err != nil {
			return trace.Wrap(err)
		}
		err = r.cfg.Store.SetRegistrationState(ctx, deviceID,
			types.RegistrationState{State: types.RegistrationPending})
		if err != nil {
			return trace.Wrap(err)
		}
		r.cfg.Logger.InfoContext(ctx, "queued registration scannable",
			"device_id", deviceID, "render_id", renderID)
	}

	return trace.Wrap(r.session.SAdd(ctx, defaults.ActiveDeviceSetKey, deviceID))
}
