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

// DeviceHistory is the persisted record of the last renders queued to a
// device, keyed by device id and bounded by defaults.RenderHistoryBound.
type DeviceHistory struct {
	DeviceID      string         `json:"device_id" bson:"device_id"`
	RenderHistory []QueuedRender `json:"render_history,omitempty" bson:"render_history,omitempty"`
}
