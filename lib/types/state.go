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

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/wire"
)

// Message origin variants.
const (
	// OriginUnknown marks an entry whose author was not recorded.
	OriginUnknown = "unknown"

	// OriginUser marks an entry authored by a named user.
	OriginUser = "user"
)

// MessageOrigin records who authored a device-state entry.
type MessageOrigin struct {
	// Origin is OriginUnknown or OriginUser.
	Origin string
	// User is the author's display name when Origin is OriginUser.
	User string
}

// UserOrigin returns an origin attributed to the named user.
func UserOrigin(name string) MessageOrigin {
	return MessageOrigin{Origin: OriginUser, User: name}
}

// SumEncode implements wire.Encoder.
func (o MessageOrigin) SumEncode() (string, any) {
	if o.Origin == OriginUser {
		return o.Origin, o.User
	}
	return OriginUnknown, nil
}

// SumDecode implements wire.Decoder.
func (o *MessageOrigin) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case OriginUnknown:
		*o = MessageOrigin{Origin: OriginUnknown}
		return nil
	case OriginUser:
		if content == nil {
			return trace.BadParameter("user origin missing name")
		}
		var name string
		if err := content.Decode(&name); err != nil {
			return trace.Wrap(err)
		}
		*o = MessageOrigin{Origin: OriginUser, User: name}
		return nil
	}
	return trace.BadParameter("unknown message origin %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (o MessageOrigin) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(o) }

// UnmarshalJSON implements json.Unmarshaler.
func (o *MessageOrigin) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, o)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (o MessageOrigin) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(o)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (o *MessageOrigin) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, o)
}

// StateEntry is one message on a device's rendering state.
type StateEntry struct {
	Content   string        `json:"content" bson:"content"`
	Origin    MessageOrigin `json:"origin" bson:"origin"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
}

// ScheduleEvent is a calendar event shown on a schedule layout.
type ScheduleEvent struct {
	Summary string    `json:"summary" bson:"summary"`
	Start   time.Time `json:"start" bson:"start"`
	End     time.Time `json:"end" bson:"end"`
}

// Rendering state variants.
const (
	// RenderingMessageList shows a rolling list of pushed messages.
	RenderingMessageList = "message_list"

	// RenderingScheduleLayout shows calendar events alongside pushed
	// messages.
	RenderingScheduleLayout = "schedule_layout"
)

// RenderingState is the tagged union seeding a device's layout.
type RenderingState struct {
	// Layout is RenderingMessageList or RenderingScheduleLayout.
	Layout string
	// Events holds calendar events for schedule layouts.
	Events []ScheduleEvent
	// Entries holds pushed messages, bounded to defaults.MessageListBound.
	Entries []StateEntry
}

type scheduleLayoutContent struct {
	Events  []ScheduleEvent `json:"events" bson:"events"`
	Entries []StateEntry    `json:"entries,omitempty" bson:"entries,omitempty"`
}

// SumEncode implements wire.Encoder.
func (s RenderingState) SumEncode() (string, any) {
	if s.Layout == RenderingScheduleLayout {
		return s.Layout, scheduleLayoutContent{Events: s.Events, Entries: s.Entries}
	}
	return RenderingMessageList, s.Entries
}

// SumDecode implements wire.Decoder.
func (s *RenderingState) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case RenderingMessageList:
		var entries []StateEntry
		if content != nil {
			if err := content.Decode(&entries); err != nil {
				return trace.Wrap(err)
			}
		}
		*s = RenderingState{Layout: kind, Entries: entries}
		return nil
	case RenderingScheduleLayout:
		var c scheduleLayoutContent
		if content != nil {
			if err := content.Decode(&c); err != nil {
				return trace.Wrap(err)
			}
		}
		*s = RenderingState{Layout: kind, Events: c.Events, Entries: c.Entries}
		return nil
	}
	return trace.BadParameter("unknown rendering state %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (s RenderingState) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *RenderingState) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, s)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (s RenderingState) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(s)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (s *RenderingState) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, s)
}

// DeviceState is the persisted rendering state of a device, keyed by device
// id. A nil Rendering means the device shows a cleared screen.
type DeviceState struct {
	DeviceID  string          `json:"device_id" bson:"device_id"`
	Rendering *RenderingState `json:"rendering,omitempty" bson:"rendering,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// State transition variants.
const (
	// TransitionPushMessage appends a message to the state.
	TransitionPushMessage = "push_message"

	// TransitionClear resets the state to nothing.
	TransitionClear = "clear"

	// TransitionSetSchedule installs or replaces the calendar events.
	TransitionSetSchedule = "set_schedule"
)

// StateTransition is a requested change to a device's rendering state.
type StateTransition struct {
	// Transition is one of the Transition* constants.
	Transition string
	// Content and Origin describe the pushed message.
	Content string
	Origin  MessageOrigin
	// Events carries the calendar events for TransitionSetSchedule.
	Events []ScheduleEvent
}

type pushMessageContent struct {
	Content string        `json:"content" bson:"content"`
	Origin  MessageOrigin `json:"origin" bson:"origin"`
}

// SumEncode implements wire.Encoder.
func (t StateTransition) SumEncode() (string, any) {
	switch t.Transition {
	case TransitionPushMessage:
		return t.Transition, pushMessageContent{Content: t.Content, Origin: t.Origin}
	case TransitionSetSchedule:
		return t.Transition, t.Events
	}
	return TransitionClear, nil
}

// SumDecode implements wire.Decoder.
func (t *StateTransition) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case TransitionClear:
		*t = StateTransition{Transition: kind}
		return nil
	case TransitionPushMessage:
		if content == nil {
			return trace.BadParameter("push transition missing message")
		}
		var c pushMessageContent
		if err := content.Decode(&c); err != nil {
			return trace.Wrap(err)
		}
		*t = StateTransition{Transition: kind, Content: c.Content, Origin: c.Origin}
		return nil
	case TransitionSetSchedule:
		var events []ScheduleEvent
		if content != nil {
			if err := content.Decode(&events); err != nil {
				return trace.Wrap(err)
			}
		}
		*t = StateTransition{Transition: kind, Events: events}
		return nil
	}
	return trace.BadParameter("unknown state transition %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (t StateTransition) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(t) }

// UnmarshalJSON implements json.Unmarshaler.
func (t *StateTransition) UnmarshalJSON(data []byte) error {
	return wire.UnmarshalJSONSum(data, t)
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (t StateTransition) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(t)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (t *StateTransition) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(typ, data, t)
}

// appendBounded appends entry to entries, dropping the oldest entries so the
// result never exceeds defaults.MessageListBound.
func appendBounded(entries []StateEntry, entry StateEntry) []StateEntry {
	out := append(append([]StateEntry(nil), entries...), entry)
	if over := len(out) - defaults.MessageListBound; over > 0 {
		out = out[over:]
	}
	return out
}

// ApplyTransition computes the next rendering state from the current one and
// a transition. A nil result means the device shows a cleared screen. The
// input state is never mutated.
func ApplyTransition(current *RenderingState, t StateTransition, now time.Time) *RenderingState {
	switch t.Transition {
	case TransitionClear:
		return nil

	case TransitionPushMessage:
		entry := StateEntry{Content: t.Content, Origin: t.Origin, Timestamp: now}
		if current == nil {
			return &RenderingState{Layout: RenderingMessageList, Entries: []StateEntry{entry}}
		}
		next := RenderingState{
			Layout:  current.Layout,
			Events:  current.Events,
			Entries: appendBounded(current.Entries, entry),
		}
		return &next

	case TransitionSetSchedule:
		next := RenderingState{Layout: RenderingScheduleLayout, Events: t.Events, Entries: []StateEntry{}}
		if current != nil && current.Layout == RenderingScheduleLayout {
			next.Entries = current.Entries
		}
		return &next
	}
	return current
}
