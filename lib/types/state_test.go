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
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func entries(n int) []StateEntry {
	out := make([]StateEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, StateEntry{
			Content:   fmt.Sprintf("message-%d", i),
			Origin:    UserOrigin("alice"),
			Timestamp: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		})
	}
	return out
}

func TestApplyTransitionPushMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	push := StateTransition{
		Transition: TransitionPushMessage,
		Content:    "hello",
		Origin:     UserOrigin("alice"),
	}

	t.Run("empty state starts a message list", func(t *testing.T) {
		next := ApplyTransition(nil, push, now)
		require.NotNil(t, next)
		require.Equal(t, RenderingMessageList, next.Layout)
		require.Len(t, next.Entries, 1)
		require.Equal(t, "hello", next.Entries[0].Content)
		require.Equal(t, now, next.Entries[0].Timestamp)
	})

	t.Run("full list drops the oldest entry", func(t *testing.T) {
		current := &RenderingState{Layout: RenderingMessageList, Entries: entries(4)}
		next := ApplyTransition(current, push, now)
		require.NotNil(t, next)
		require.Len(t, next.Entries, 4)
		require.Equal(t, "message-1", next.Entries[0].Content)
		require.Equal(t, "hello", next.Entries[3].Content)
		// input untouched
		require.Len(t, current.Entries, 4)
		require.Equal(t, "message-0", current.Entries[0].Content)
	})

	t.Run("schedule layout keeps its events", func(t *testing.T) {
		events := []ScheduleEvent{{Summary: "standup"}}
		current := &RenderingState{Layout: RenderingScheduleLayout, Events: events, Entries: entries(2)}
		next := ApplyTransition(current, push, now)
		require.NotNil(t, next)
		require.Equal(t, RenderingScheduleLayout, next.Layout)
		require.Equal(t, events, next.Events)
		require.Len(t, next.Entries, 3)
	})
}

func TestApplyTransitionClear(t *testing.T) {
	clear := StateTransition{Transition: TransitionClear}
	require.Nil(t, ApplyTransition(&RenderingState{Layout: RenderingMessageList, Entries: entries(2)}, clear, time.Now()))
	// clear of an already empty state stays empty
	require.Nil(t, ApplyTransition(nil, clear, time.Now()))
}

func TestApplyTransitionSetSchedule(t *testing.T) {
	now := time.Now()
	events := []ScheduleEvent{{Summary: "review"}}
	set := StateTransition{Transition: TransitionSetSchedule, Events: events}

	t.Run("replaces events and keeps messages on a schedule layout", func(t *testing.T) {
		current := &RenderingState{
			Layout:  RenderingScheduleLayout,
			Events:  []ScheduleEvent{{Summary: "old"}},
			Entries: entries(3),
		}
		next := ApplyTransition(current, set, now)
		require.Equal(t, RenderingScheduleLayout, next.Layout)
		require.Equal(t, events, next.Events)
		require.Len(t, next.Entries, 3)
	})

	t.Run("any other state gets an empty message column", func(t *testing.T) {
		for _, current := range []*RenderingState{
			nil,
			{Layout: RenderingMessageList, Entries: entries(2)},
		} {
			next := ApplyTransition(current, set, now)
			require.Equal(t, RenderingScheduleLayout, next.Layout)
			require.Equal(t, events, next.Events)
			require.Empty(t, next.Entries)
		}
	})
}

func TestRenderingStateJSONRoundTrip(t *testing.T) {
	tests := []RenderingState{
		{Layout: RenderingMessageList, Entries: entries(2)},
		{Layout: RenderingScheduleLayout, Events: []ScheduleEvent{{Summary: "standup"}}, Entries: entries(1)},
	}
	for _, state := range tests {
		raw, err := json.Marshal(state)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"beetle:kind"`)

		var back RenderingState
		require.NoError(t, json.Unmarshal(raw, &back))
		require.Equal(t, state.Layout, back.Layout)
		require.Len(t, back.Entries, len(state.Entries))
	}
}

func TestStateTransitionJSONRoundTrip(t *testing.T) {
	tests := []StateTransition{
		{Transition: TransitionClear},
		{Transition: TransitionPushMessage, Content: "hi", Origin: UserOrigin("bob")},
		{Transition: TransitionSetSchedule, Events: []ScheduleEvent{{Summary: "lunch"}}},
	}
	for _, transition := range tests {
		raw, err := json.Marshal(transition)
		require.NoError(t, err)

		var back StateTransition
		require.NoError(t, json.Unmarshal(raw, &back))
		require.Equal(t, transition.Transition, back.Transition)
		require.Equal(t, transition.Content, back.Content)
	}
}

func TestMessageOriginDecodeRejectsUnknownKind(t *testing.T) {
	var origin MessageOrigin
	err := json.Unmarshal([]byte(`{"beetle:kind":"robot"}`), &origin)
	require.Error(t, err)
}
