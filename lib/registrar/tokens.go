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

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/types"
)

// sweepTokens inspects a bounded chunk of stored user tokens and refreshes
// the ones close to expiry. A user whose refresh fails is logged and skipped;
// a broken provider must not stall the rest of the tick.
func (r *Registrar) sweepTokens(ctx context.Context) error {
	users, err := r.cfg.Store.UsersWithTokens(ctx, int64(r.cfg.TokenChunkSize))
	if err != nil {
		return trace.Wrap(err)
	}
	now := r.cfg.Clock.Now().UTC()
	for _, user := range users {
		if user.LatestToken == nil {
			continue
		}
		if user.LatestToken.ExpirationDiff(now) >= defaults.TokenRefreshThreshold {
			continue
		}
		if err := r.refreshUser(ctx, user, now); err != nil {
			r.cfg.Logger.WarnContext(ctx, "token refresh failed",
				"user", user.OID, "error", err)
		}
	}
	return nil
}

// refreshUser trades the user's wrapped refresh token for a fresh access
// token and percolates a token-refresh job carrying the re-wrapped handle.
// Persistence happens in the job handler so the store write goes through the
// same path as every other mutation.
func (r *Registrar) refreshUser(ctx context.Context, user types.User, now time.Time) error {
	wrapped := user.LatestToken.Token.RefreshToken
	if wrapped == "" {
		return trace.NotFound("user %q holds no refresh token", user.OID)
	}
	refreshToken, err := envelope.UnwrapSecret(r.cfg.Secret, wrapped)
	if err != nil {
		return trace.Wrap(err)
	}
	fresh, err := r.cfg.Provider.Refresh(ctx, refreshToken)
	if err != nil {
		return trace.Wrap(err)
	}

	wrappedAccess, err := envelope.WrapSecret(r.cfg.Secret, fresh.AccessToken)
	if err != nil {
		return trace.Wrap(err)
	}
	// providers that do not rotate refresh tokens leave it empty; keep the
	// old wrapped value in that case
	wrappedRefresh := wrapped
	if fresh.RefreshToken != "" {
		wrappedRefresh, err = envelope.WrapSecret(r.cfg.Secret, fresh.RefreshToken)
		if err != nil {
			return trace.Wrap(err)
		}
	}

	jobID, err := r.jobQueue.Push(ctx, jobs.Kind{
		Name: jobs.KindTokenRefresh,
		TokenRefresh: &jobs.TokenRefreshJob{
			UserID: user.OID,
			Handle: types.TokenHandle{
				Created: now,
				Token: types.OAuthToken{
					AccessToken:  wrappedAccess,
					RefreshToken: wrappedRefresh,
					ExpiresIn:    fresh.ExpiresIn,
				},
			},
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	r.cfg.Logger.InfoContext(ctx, "refreshed user token",
		"user", user.OID, "job_id", jobID)
	return nil
}
