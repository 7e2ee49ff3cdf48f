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

// Package types defines the persisted entities of the beetle fleet backend:
// device diagnostics, authority records, users, device states, and schedules,
// together with the pure state-machine logic that belongs to them. All tagged
// unions encode through the wire package discriminator pair.
package types

import (
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/obelisklabs/beetle/lib/wire"
)

// Registration state variants.
const (
	// RegistrationInitial marks a device that has never been rendered to.
	RegistrationInitial = "initial"

	// RegistrationPending marks a device that has received its registration
	// QR code but has not been claimed.
	RegistrationPending = "pending_registration"

	// RegistrationOwned marks a claimed device.
	RegistrationOwned = "owned"
)

// RegistrationState tracks a device's progression from factory-fresh to
// owned.
type RegistrationState struct {
	// State is one of the Registration* constants.
	State string
	// OriginalOwner is the oid of the first claiming user; set only when
	// State is RegistrationOwned.
	OriginalOwner string
}

type ownedContent struct {
	OriginalOwner string `json:"original_owner" bson:"original_owner"`
}

// SumEncode implements wire.Encoder.
func (s RegistrationState) SumEncode() (string, any) {
	if s.State == RegistrationOwned {
		return s.State, ownedContent{OriginalOwner: s.OriginalOwner}
	}
	return s.State, nil
}

// SumDecode implements wire.Decoder.
func (s *RegistrationState) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case RegistrationInitial, RegistrationPending:
		*s = RegistrationState{State: kind}
		return nil
	case RegistrationOwned:
		if content == nil {
			return trace.BadParameter("owned registration state missing owner")
		}
		var c ownedContent
		if err := content.Decode(&c); err != nil {
			return trace.Wrap(err)
		}
		*s = RegistrationState{State: kind, OriginalOwner: c.OriginalOwner}
		return nil
	}
	return trace.BadParameter("unknown registration state %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (s RegistrationState) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *RegistrationState) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, s)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (s RegistrationState) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(s)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (s *RegistrationState) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, s)
}

// DeviceDiagnostic is the per-device liveness and metadata record, keyed by
// the device id.
type DeviceDiagnostic struct {
	ID                string             `json:"id" bson:"id"`
	FirstSeen         time.Time          `json:"first_seen" bson:"first_seen"`
	LastSeen          time.Time          `json:"last_seen" bson:"last_seen"`
	Nickname          string             `json:"nickname,omitempty" bson:"nickname,omitempty"`
	SentMessageCount  int64              `json:"sent_message_count,omitempty" bson:"sent_message_count,omitempty"`
	RegistrationState *RegistrationState `json:"registration_state,omitempty" bson:"registration_state,omitempty"`
}

// NeedsRegistrationRender reports whether the device has yet to receive its
// registration QR code.
func (d *DeviceDiagnostic) NeedsRegistrationRender() bool {
	return d.RegistrationState == nil || d.RegistrationState.State == RegistrationInitial
}
