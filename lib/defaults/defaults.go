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

// Package defaults holds the fixed broker key names, intervals, and bounds
// shared by the beetle workers and the HTTP front door.
package defaults

import "time"

// Broker key names. These are part of the device wire protocol and must not
// change between releases; flashed firmware hardcodes them.
const (
	// RegistrationPoolKey is the list of provisioned device ids waiting to
	// be claimed at burn-in.
	RegistrationPoolKey = "ob:r"

	// IncomingPingKey is the list devices RPUSH their own id onto as a
	// heartbeat.
	IncomingPingKey = "ob:i"

	// ActiveDeviceSetKey is the set of device ids seen on the ping queue.
	ActiveDeviceSetKey = "ob:s"

	// RenderQueueKey is the FIFO list of envelope-signed queued renders.
	RenderQueueKey = "ob:rendering"

	// RegistrarJobQueueKey is the FIFO list of envelope-signed registrar
	// jobs.
	RegistrarJobQueueKey = "ob:registrar:jobs"

	// JobResultHashKey is the hash of job id -> serialized job result.
	JobResultHashKey = "ob:registrar:results"

	// DeviceQueuePrefix prefixes the per-device list a device drains.
	DeviceQueuePrefix = "queue:"
)

// DeviceQueueKey returns the broker key for a device's own queue.
func DeviceQueueKey(deviceID string) string {
	return DeviceQueuePrefix + deviceID
}

// Worker cadence and tolerances.
const (
	// RegistrarTickInterval is the fixed delay between registrar ticks.
	RegistrarTickInterval = 200 * time.Millisecond

	// RegistrarJobPopTimeout is the blocking pop timeout on the registrar
	// job queue.
	RegistrarJobPopTimeout = 3 * time.Second

	// RenderPopTimeout is the blocking pop timeout on the render queue.
	RenderPopTimeout = 5 * time.Second

	// MaxWorkerFailures is how many consecutive tick failures a worker
	// tolerates before exiting for the supervisor to restart it.
	MaxWorkerFailures = 10
)

// Pool, sweep, and history bounds.
const (
	// RegistrationPoolMinimum is the low-water mark for the available
	// device-id pool; a tick that observes fewer refills by this many.
	RegistrationPoolMinimum = 3

	// DeviceIDByteLength is the entropy, in bytes, of a generated device id.
	DeviceIDByteLength = 8

	// ActiveDeviceChunkSize bounds how many heartbeats a single registrar
	// tick drains from the incoming-ping queue.
	ActiveDeviceChunkSize = 10

	// TokenSweepChunkSize bounds how many stored user tokens a single
	// registrar tick inspects for refresh.
	TokenSweepChunkSize = 10

	// MessageListBound is the maximum number of entries retained in a
	// device-state message list; older entries are dropped.
	MessageListBound = 4

	// RenderHistoryBound is the maximum number of queued renders retained
	// in a device's history record.
	RenderHistoryBound = 10

	// ScheduleEventBound is the maximum number of calendar events rendered
	// on a schedule layout.
	ScheduleEventBound = 4
)

// Token lifetimes.
const (
	// EnvelopeTTL is the validity window of envelope tokens on the work
	// queues.
	EnvelopeTTL = 1440 * time.Minute

	// TokenRefreshThreshold is the remaining validity, in seconds, below
	// which a stored user access token is refreshed.
	TokenRefreshThreshold = 3590

	// SessionTTL is the lifetime of a web session cookie.
	SessionTTL = 24 * time.Hour
)

// Rasterization geometry. Every fleet display is the same panel.
const (
	// CanvasWidth is the rendered image width in pixels.
	CanvasWidth = 400

	// CanvasHeight is the rendered image height in pixels.
	CanvasHeight = 300

	// FontSize is the default point size for rendered text.
	FontSize = 80
)

// LightingPrefix marks a per-device queue entry as a lighting command rather
// than a PNG payload. The wire protocol has no framing byte; the device keys
// off this ASCII prefix.
const LightingPrefix = "lighting:"
