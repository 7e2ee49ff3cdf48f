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
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/obelisklabs/beetle/lib/wire"
)

// ScheduleUserEventsBasic renders the owning user's upcoming calendar events.
// It is the only schedule kind today.
const ScheduleUserEventsBasic = "user_events_basic"

// ScheduleKind is the tagged union of schedule behaviors.
type ScheduleKind struct {
	// Kind is ScheduleUserEventsBasic.
	Kind string
	// UserID is the oid whose calendar feeds the schedule.
	UserID string
}

type userEventsContent struct {
	UserID string `json:"user_id" bson:"user_id"`
}

// SumEncode implements wire.Encoder.
func (k ScheduleKind) SumEncode() (string, any) {
	return k.Kind, userEventsContent{UserID: k.UserID}
}

// SumDecode implements wire.Decoder.
func (k *ScheduleKind) SumDecode(kind string, content wire.Raw) error {
	if kind != ScheduleUserEventsBasic {
		return trace.BadParameter("unknown schedule kind %q", kind)
	}
	if content == nil {
		return trace.BadParameter("schedule kind %q missing user", kind)
	}
	var c userEventsContent
	if err := content.Decode(&c); err != nil {
		return trace.Wrap(err)
	}
	*k = ScheduleKind{Kind: kind, UserID: c.UserID}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (k ScheduleKind) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(k) }

// UnmarshalJSON implements json.Unmarshaler.
func (k *ScheduleKind) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, k)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (k ScheduleKind) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(k)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (k *ScheduleKind) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, k)
}

// DeviceSchedule is the persisted schedule toggle for a device. A nil Kind
// means no schedule is enabled.
type DeviceSchedule struct {
	DeviceID     string        `json:"device_id" bson:"device_id"`
	Kind         *ScheduleKind `json:"kind,omitempty" bson:"kind,omitempty"`
	LastExecuted *time.Time    `json:"last_executed,omitempty" bson:"last_executed,omitempty"`
}
