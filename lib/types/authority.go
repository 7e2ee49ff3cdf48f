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

import (
	"slices"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/obelisklabs/beetle/lib/wire"
)

// Authority model variants.
const (
	// AuthorityExclusive grants control to the owner alone.
	AuthorityExclusive = "exclusive"

	// AuthorityShared grants control to the owner and an explicit guest
	// list.
	AuthorityShared = "shared"

	// AuthorityPublic grants control to anyone; guests accumulate as users
	// claim the device.
	AuthorityPublic = "public"
)

// AuthorityModel is the tagged union describing who may control a device.
// The owner never changes once set; the only privacy transitions are
// exclusive to public and public to shared (demotion keeps the accumulated
// guests).
type AuthorityModel struct {
	// Model is one of the Authority* constants.
	Model string
	// Owner is the oid of the owning user.
	Owner string
	// Guests holds guest oids for shared and public models.
	Guests []string
}

type authorityContent struct {
	Owner  string   `json:"owner" bson:"owner"`
	Guests []string `json:"guests,omitempty" bson:"guests,omitempty"`
}

// SumEncode implements wire.Encoder.
func (m AuthorityModel) SumEncode() (string, any) {
	c := authorityContent{Owner: m.Owner}
	if m.Model != AuthorityExclusive {
		c.Guests = m.Guests
	}
	return m.Model, c
}

// SumDecode implements wire.Decoder.
func (m *AuthorityModel) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case AuthorityExclusive, AuthorityShared, AuthorityPublic:
	default:
		return trace.BadParameter("unknown authority model %q", kind)
	}
	if content == nil {
		return trace.BadParameter("authority model %q missing owner", kind)
	}
	var c authorityContent
	if err := content.Decode(&c); err != nil {
		return trace.Wrap(err)
	}
	*m = AuthorityModel{Model: kind, Owner: c.Owner}
	if kind != AuthorityExclusive {
		m.Guests = c.Guests
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m AuthorityModel) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(m) }

// UnmarshalJSON implements json.Unmarshaler.
func (m *AuthorityModel) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, m)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (m AuthorityModel) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(m)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (m *AuthorityModel) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, m)
}

// Grants reports whether the model allows userID to control the device.
func (m AuthorityModel) Grants(userID string) bool {
	switch m.Model {
	case AuthorityExclusive:
		return m.Owner == userID
	case AuthorityShared:
		return m.Owner == userID || slices.Contains(m.Guests, userID)
	case AuthorityPublic:
		return true
	}
	return false
}

// SetPublicAvailability applies a privacy toggle. The only legal transitions
// are exclusive -> public and public -> shared; anything else returns the
// model unchanged with ok false so the caller can no-op.
func (m AuthorityModel) SetPublicAvailability(toPublic bool) (AuthorityModel, bool) {
	switch {
	case m.Model == AuthorityExclusive && toPublic:
		return AuthorityModel{Model: AuthorityPublic, Owner: m.Owner, Guests: []string{}}, true
	case m.Model == AuthorityPublic && !toPublic:
		return AuthorityModel{Model: AuthorityShared, Owner: m.Owner, Guests: m.Guests}, true
	}
	return m, false
}

// WithGuest returns the model with userID appended to the guest list if it is
// not already present. Exclusive models are returned unchanged.
func (m AuthorityModel) WithGuest(userID string) AuthorityModel {
	if m.Model == AuthorityExclusive || userID == m.Owner || slices.Contains(m.Guests, userID) {
		return m
	}
	out := m
	out.Guests = append(slices.Clone(m.Guests), userID)
	return out
}

// DeviceAuthority is the persisted authority record, keyed by device id.
type DeviceAuthority struct {
	DeviceID       string         `json:"device_id" bson:"device_id"`
	AuthorityModel AuthorityModel `json:"authority_model" bson:"authority_model"`
}

// AccessLevel enumerates what an access check grants. There is a single
// level today; the marker keeps the check's result explicit at call sites.
type AccessLevel string

// AccessLevelAll grants every device operation.
const AccessLevelAll AccessLevel = "all"

// Access returns the level the model grants userID, or an AccessDenied error
// when it grants nothing.
func (m AuthorityModel) Access(userID string) (AccessLevel, error) {
	if !m.Grants(userID) {
		return "", trace.AccessDenied("user %q has no access", userID)
	}
	return AccessLevelAll, nil
}
