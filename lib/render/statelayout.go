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

package render

import (
	"fmt"

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/types"
)

// Point sizes and box styling of state-derived components.
const (
	statePrimarySize   = 34
	stateSecondarySize = 24

	stateBorderPx  = 2
	statePaddingPx = 10

	messageListRatio   = 80
	scheduleSplitRatio = 50
)

// timestampFormat renders entry timestamps on the panel.
const timestampFormat = "Jan 2 15:04"

// styled wraps text in the standard state-component box: a 2px left border
// with 10px left padding and margin.
func styled(text string, size float64) StylizedMessage {
	return StylizedMessage{
		Message: text,
		Size:    size,
		Border:  LeftSpacing(stateBorderPx),
		Padding: LeftSpacing(statePaddingPx),
		Margin:  LeftSpacing(statePaddingPx),
	}
}

// originLabel renders an entry's origin for display.
func originLabel(origin types.MessageOrigin) string {
	if origin.Origin == types.OriginUser {
		return origin.User
	}
	return "unknown"
}

// messagePair renders an entry as a body line and an attribution line.
func messagePair(entry types.StateEntry) []StylizedMessage {
	return []StylizedMessage{
		styled(entry.Content, statePrimarySize),
		styled(fmt.Sprintf("%s %s", originLabel(entry.Origin), entry.Timestamp.Format(timestampFormat)), stateSecondarySize),
	}
}

// messageSeparate renders an entry as three lines: body, origin, timestamp.
func messageSeparate(entry types.StateEntry) []StylizedMessage {
	return []StylizedMessage{
		styled(entry.Content, statePrimarySize),
		styled(originLabel(entry.Origin), stateSecondarySize),
		styled(entry.Timestamp.Format(timestampFormat), stateSecondarySize),
	}
}

// eventPair renders a calendar event as a summary line and a time range.
func eventPair(event types.ScheduleEvent) []StylizedMessage {
	timeRange := fmt.Sprintf("%s - %s", event.Start.Format("15:04"), event.End.Format("15:04"))
	return []StylizedMessage{
		styled(event.Summary, statePrimarySize),
		styled(timeRange, stateSecondarySize),
	}
}

// ScheduleRunLayout renders the outcome of a schedule run: the next upcoming
// event's summary and time range on the left, the schedule owner's name on
// the right. A day with no events leaves the left column empty.
func ScheduleRunLayout(events []types.ScheduleEvent, owner string) Layout {
	var left []StylizedMessage
	if len(events) > 0 {
		left = eventPair(events[0])
	}
	return Layout{
		Kind: LayoutSplit,
		Split: &SplitLayout{
			Left:  left,
			Right: []StylizedMessage{styled(owner, stateSecondarySize)},
			Ratio: scheduleSplitRatio,
		},
	}
}

// StateLayout maps a device's persisted rendering state onto a rasterizable
// layout. A nil state clears the panel.
func StateLayout(state *types.RenderingState) (Layout, error) {
	if state == nil {
		return ClearLayout(), nil
	}

	switch state.Layout {
	case types.RenderingMessageList:
		var left []StylizedMessage
		for _, entry := range state.Entries {
			left = append(left, messagePair(entry)...)
		}
		return Layout{
			Kind:  LayoutSplit,
			Split: &SplitLayout{Left: left, Ratio: messageListRatio},
		}, nil

	case types.RenderingScheduleLayout:
		var left []StylizedMessage
		events := state.Events
		if len(events) > defaults.ScheduleEventBound {
			events = events[:defaults.ScheduleEventBound]
		}
		for _, event := range events {
			left = append(left, eventPair(event)...)
		}
		var right []StylizedMessage
		for _, entry := range state.Entries {
			right = append(right, messageSeparate(entry)...)
		}
		return Layout{
			Kind:  LayoutSplit,
			Split: &SplitLayout{Left: left, Right: right, Ratio: scheduleSplitRatio},
		}, nil
	}
	return Layout{}, trace.BadParameter("cannot lay out rendering state %q", state.Layout)
}
