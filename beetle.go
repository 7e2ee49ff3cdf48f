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

// Package beetle holds constants shared across the beetle server components.
package beetle

import "strings"

// Version is reported by the status endpoint and the CLI.
const Version = "0.4.0"

// ComponentKey is the structured logging attribute under which the
// originating component of a log line is recorded.
const ComponentKey = "component"

// Component names used with [ComponentKey].
const (
	// ComponentRegistrar is the background worker that owns device identity
	// provisioning and executes registrar jobs.
	ComponentRegistrar = "beetle:registrar"

	// ComponentRenderer is the background worker that rasterizes queued
	// renders into device-bound bytes.
	ComponentRenderer = "beetle:renderer"

	// ComponentWeb is the HTTP front door.
	ComponentWeb = "beetle:web"

	// ComponentBroker is the message broker client.
	ComponentBroker = "beetle:broker"

	// ComponentStore is the document store client.
	ComponentStore = "beetle:store"
)

// Component generates a colon-joined component name from parts.
func Component(parts ...string) string {
	return strings.Join(parts, ":")
}
