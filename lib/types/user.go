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

package types

import "time"

// DeviceSnapshot is the per-device view embedded in a user's device map.
type DeviceSnapshot struct {
	Nickname string `json:"nickname,omitempty" bson:"nickname,omitempty"`
}

// User is the persisted profile of an authenticated end user, keyed by the
// identity provider's oid claim.
type User struct {
	OID      string `json:"oid" bson:"oid"`
	Name     string `json:"name,omitempty" bson:"name,omitempty"`
	Nickname string `json:"nickname,omitempty" bson:"nickname,omitempty"`
	Picture  string `json:"picture,omitempty" bson:"picture,omitempty"`

	// Devices maps device id to the user's snapshot of it. It grows on
	// ownership claim and shrinks on unregister.
	Devices map[string]DeviceSnapshot `json:"devices,omitempty" bson:"devices,omitempty"`

	// LatestToken is the most recent identity-provider token handle. The
	// access and refresh tokens inside are wrapped before persistence so
	// the store never holds plaintext secrets.
	LatestToken *TokenHandle `json:"latest_token,omitempty" bson:"latest_token,omitempty"`
}

// HoldsDevice reports whether deviceID is in the user's device map.
func (u *User) HoldsDevice(deviceID string) bool {
	_, ok := u.Devices[deviceID]
	return ok
}

// OAuthToken is the provider token triple. At rest both token strings are
// themselves signed wrappers around the real values.
type OAuthToken struct {
	AccessToken  string `json:"access_token" bson:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" bson:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in" bson:"expires_in"`
}

// TokenHandle pairs a provider token with the instant it was obtained.
type TokenHandle struct {
	Created time.Time  `json:"created" bson:"created"`
	Token   OAuthToken `json:"token" bson:"token"`
}

// ExpirationDiff returns the seconds of validity remaining at now. A value
// under the refresh threshold means the access token should be refreshed.
func (h *TokenHandle) ExpirationDiff(now time.Time) int64 {
	return h.Token.ExpiresIn - int64(now.Sub(h.Created).Seconds())
}
