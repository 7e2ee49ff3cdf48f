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
	"slices"
	"strings"

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/utils"
)

// refillPool tops up the registration pool. When the pool drops below the
// low-water mark a full batch of fresh ids is generated; every id's broker
// ACL principal is created before any id becomes claimable, because a device
// flashed with a pooled id must be able to authenticate immediately. LPUSH of
// the whole batch always comes last.
func (r *Registrar) refillPool(ctx context.Context) error {
	length, err := r.session.LLen(ctx, defaults.RegistrationPoolKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if length >= int64(r.cfg.PoolMinimum) {
		return nil
	}

	ids := make([]any, 0, r.cfg.PoolMinimum)
	for i := 0; i < r.cfg.PoolMinimum; i++ {
		id, err := utils.CryptoRandomHex(defaults.DeviceIDByteLength)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := r.grantDeviceACL(ctx, id); err != nil {
			return trace.Wrap(err)
		}
		ids = append(ids, id)
	}
	length, err = r.session.LPush(ctx, defaults.RegistrationPoolKey, ids...)
	if err != nil {
		return trace.Wrap(err)
	}
	r.cfg.Logger.InfoContext(ctx, "provisioned device ids",
		"count", len(ids), "pool_length", length)
	return nil
}

// grantDeviceACL creates the broker principal a device authenticates as. The
// device knows only its own id, so the id doubles as the password. Two grants:
// draining its own queue, and pushing heartbeats.
func (r *Registrar) grantDeviceACL(ctx context.Context, deviceID string) error {
	err := r.session.ACLSetUser(ctx, deviceID,
		"on", ">"+deviceID,
		"~"+defaults.DeviceQueueKey(deviceID), "+lpop", "+blpop", "+llen")
	if err != nil {
		return trace.Wrap(err)
	}
	err = r.session.ACLSetUser(ctx, deviceID,
		"~"+defaults.IncomingPingKey, "+rpush")
	return trace.Wrap(err)
}

// ensureConsumer provisions the burn-in principal that flashing rigs use to
// claim pooled ids. No-op when the deployment does not configure one.
func (r *Registrar) ensureConsumer(ctx context.Context) error {
	if r.cfg.IDConsumerUsername == "" {
		return nil
	}
	err := r.session.ACLSetUser(ctx, r.cfg.IDConsumerUsername,
		"on", ">"+r.cfg.IDConsumerPassword,
		"~"+defaults.RegistrationPoolKey, "+lpop", "+blpop", "+llen")
	return trace.Wrap(err)
}

// auditACL removes broker principals that nothing accounts for: not the
// default user, not the id consumer, not allowlisted, not a pooled id, and
// not in the active device set. Runs once per session.
func (r *Registrar) auditACL(ctx context.Context) error {
	entries, err := r.session.ACLList(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	active, err := r.session.SMembers(ctx, defaults.ActiveDeviceSetKey)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, entry := range entries {
		principal := aclPrincipal(entry)
		if principal == "" || principal == "default" {
			continue
		}
		if principal == r.cfg.IDConsumerUsername {
			continue
		}
		if slices.Contains(r.cfg.ACLAllowlist, principal) {
			continue
		}
		if slices.Contains(active, principal) {
			continue
		}
		pooled, err := r.isPooled(ctx, principal)
		if err != nil {
			return trace.Wrap(err)
		}
		if pooled {
			continue
		}
		r.cfg.Logger.InfoContext(ctx, "removing unaccounted broker principal",
			"principal", principal)
		if err := r.session.ACLDelUser(ctx, principal); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// aclPrincipal extracts the principal name from an ACL LIST entry of the form
// "user <name> <rules...>".
func aclPrincipal(entry string) string {
	fields := strings.Fields(entry)
	if len(fields) < 2 || fields[0] != "user" {
		return ""
	}
	return fields[1]
}

// isPooled reports whether a principal is a device id currently sitting in
// the registration pool. Devices in the pool have not heartbeated yet, so
// they are absent from the active set but must keep their credentials.
func (r *Registrar) isPooled(ctx context.Context, principal string) (bool, error) {
	length, err := r.session.LLen(ctx, defaults.RegistrationPoolKey)
	if err != nil {
		return false, trace.Wrap(err)
	}
	pool, err := r.session.LRange(ctx, defaults.RegistrationPoolKey, 0, length)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return slices.Contains(pool, principal), nil
}
