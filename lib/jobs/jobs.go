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

// Package jobs defines the registrar job protocol: the job kinds carried on
// the registrar queue, the result records written to the job-result hash,
// and the producer used by the HTTP front door and percolating jobs.
package jobs

import (
	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/obelisklabs/beetle/lib/types"
	"github.com/obelisklabs/beetle/lib/wire"
)

// Job kind variants.
const (
	KindOwnership       = "ownership"
	KindOwnershipChange = "ownership_change"
	KindRename          = "rename"
	KindRender          = "render"
	KindTokenRefresh    = "user_access_token_refresh"
	KindMutateState     = "mutate_device_state"
	KindRunSchedule     = "run_device_schedule"
	KindToggleSchedule  = "toggle_default_schedule"
)

// OwnershipJob claims a device for a user.
type OwnershipJob struct {
	UserID   string `json:"user_id" bson:"user_id"`
	DeviceID string `json:"device_id" bson:"device_id"`
}

// OwnershipChangeJob toggles a device's public availability.
type OwnershipChangeJob struct {
	DeviceID   string `json:"device_id" bson:"device_id"`
	MakePublic bool   `json:"make_public" bson:"make_public"`
}

// RenameJob sets a device's nickname everywhere it is denormalized.
type RenameJob struct {
	DeviceID string `json:"device_id" bson:"device_id"`
	NewName  string `json:"new_name" bson:"new_name"`
}

// Render request variants.
const (
	// RenderRegistrationScannable queues the registration QR code.
	RenderRegistrationScannable = "registration_scannable"

	// RenderCurrentDeviceState queues a render of the persisted state.
	RenderCurrentDeviceState = "current_device_state"
)

// RenderRequest asks the registrar to enqueue a render on its own authority.
type RenderRequest struct {
	// Kind is one of the Render* constants.
	Kind string
	// DeviceID is the target device.
	DeviceID string
}

// SumEncode implements wire.Encoder.
func (r RenderRequest) SumEncode() (string, any) {
	return r.Kind, r.DeviceID
}

// SumDecode implements wire.Decoder.
func (r *RenderRequest) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case RenderRegistrationScannable, RenderCurrentDeviceState:
	default:
		return trace.BadParameter("unknown render request %q", kind)
	}
	if content == nil {
		return trace.BadParameter("render request missing device id")
	}
	var deviceID string
	if err := content.Decode(&deviceID); err != nil {
		return trace.Wrap(err)
	}
	*r = RenderRequest{Kind: kind, DeviceID: deviceID}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r RenderRequest) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(r) }

// UnmarshalJSON implements json.Unmarshaler.
func (r *RenderRequest) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, r)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (r RenderRequest) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(r)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (r *RenderRequest) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, r)
}

// TokenRefreshJob persists a refreshed token handle onto a user.
type TokenRefreshJob struct {
	UserID string            `json:"user_id" bson:"user_id"`
	Handle types.TokenHandle `json:"handle" bson:"handle"`
}

// MutateStateJob applies a state transition to a device.
type MutateStateJob struct {
	DeviceID   string                `json:"device_id" bson:"device_id"`
	Transition types.StateTransition `json:"transition" bson:"transition"`
}

// RunScheduleJob executes a device's enabled schedule once.
type RunScheduleJob struct {
	DeviceID string `json:"device_id" bson:"device_id"`
}

// ToggleScheduleJob enables or disables the default schedule for a device.
type ToggleScheduleJob struct {
	UserID       string `json:"user_id" bson:"user_id"`
	DeviceID     string `json:"device_id" bson:"device_id"`
	ShouldEnable bool   `json:"should_enable" bson:"should_enable"`
}

// Kind is the tagged union of registrar job kinds. Exactly one variant
// pointer matching Name is set.
type Kind struct {
	// Name is one of the Kind* constants.
	Name string

	Ownership       *OwnershipJob
	OwnershipChange *OwnershipChangeJob
	Rename          *RenameJob
	Render          *RenderRequest
	TokenRefresh    *TokenRefreshJob
	MutateState     *MutateStateJob
	RunSchedule     *RunScheduleJob
	ToggleSchedule  *ToggleScheduleJob
}

// SumEncode implements wire.Encoder.
func (k Kind) SumEncode() (string, any) {
	switch k.Name {
	case KindOwnership:
		return k.Name, k.Ownership
	case KindOwnershipChange:
		return k.Name, k.OwnershipChange
	case KindRename:
		return k.Name, k.Rename
	case KindRender:
		return k.Name, k.Render
	case KindTokenRefresh:
		return k.Name, k.TokenRefresh
	case KindMutateState:
		return k.Name, k.MutateState
	case KindRunSchedule:
		return k.Name, k.RunSchedule
	case KindToggleSchedule:
		return k.Name, k.ToggleSchedule
	}
	return k.Name, nil
}

// SumDecode implements wire.Decoder.
func (k *Kind) SumDecode(kind string, content wire.Raw) error {
	if content == nil {
		return trace.BadParameter("job kind %q missing payload", kind)
	}
	*k = Kind{Name: kind}
	var payload any
	switch kind {
	case KindOwnership:
		k.Ownership = &OwnershipJob{}
		payload = k.Ownership
	case KindOwnershipChange:
		k.OwnershipChange = &OwnershipChangeJob{}
		payload = k.OwnershipChange
	case KindRename:
		k.Rename = &RenameJob{}
		payload = k.Rename
	case KindRender:
		k.Render = &RenderRequest{}
		payload = k.Render
	case KindTokenRefresh:
		k.TokenRefresh = &TokenRefreshJob{}
		payload = k.TokenRefresh
	case KindMutateState:
		k.MutateState = &MutateStateJob{}
		payload = k.MutateState
	case KindRunSchedule:
		k.RunSchedule = &RunScheduleJob{}
		payload = k.RunSchedule
	case KindToggleSchedule:
		k.ToggleSchedule = &ToggleScheduleJob{}
		payload = k.ToggleSchedule
	default:
		return trace.BadParameter("unknown job kind %q", kind)
	}
	return trace.Wrap(content.Decode(payload))
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(k) }

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, k) }

// MarshalBSONValue implements bson.ValueMarshaler.
func (k Kind) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(k)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (k *Kind) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, k)
}

// RegistrarJob is one unit of work on the registrar queue.
type RegistrarJob struct {
	ID  string `json:"id" bson:"id"`
	Job Kind   `json:"job" bson:"job"`
}
