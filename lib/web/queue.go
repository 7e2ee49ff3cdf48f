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

package web

import (
	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/wire"
)

// Queue request variants accepted by the device-queue endpoint.
const (
	// QueueLights toggles the device's lighting.
	QueueLights = "lights"

	// QueueMessage pushes a message onto the device's state.
	QueueMessage = "message"

	// QueueLink renders a URL as a QR code.
	QueueLink = "link"

	// QueueRename sets the device's nickname.
	QueueRename = "rename"

	// QueueRegistration re-renders the registration QR code.
	QueueRegistration = "registration"

	// QueueMakePublic and QueueMakePrivate toggle the authority model.
	QueueMakePublic  = "make_public"
	QueueMakePrivate = "make_private"

	// QueueSchedule enables or disables the default schedule.
	QueueSchedule = "schedule"

	// QueueAway renders the fixed busy message.
	QueueAway = "away"

	// QueueClear resets the device's state to a blank screen.
	QueueClear = "clear"
)

// QueueKind is the tagged union of device-queue requests. Flag carries the
// boolean for lights and schedule; Text carries the string for message, link,
// and rename.
type QueueKind struct {
	// Name is one of the Queue* constants.
	Name string
	Flag bool
	Text string
}

// SumEncode implements wire.Encoder.
func (k QueueKind) SumEncode() (string, any) {
	switch k.Name {
	case QueueLights, QueueSchedule:
		return k.Name, k.Flag
	case QueueMessage, QueueLink, QueueRename:
		return k.Name, k.Text
	}
	return k.Name, nil
}

// SumDecode implements wire.Decoder.
func (k *QueueKind) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case QueueLights, QueueSchedule:
		if content == nil {
			return trace.BadParameter("%s request missing flag", kind)
		}
		var flag bool
		if err := content.Decode(&flag); err != nil {
			return trace.Wrap(err)
		}
		*k = QueueKind{Name: kind, Flag: flag}
		return nil
	case QueueMessage, QueueLink, QueueRename:
		if content == nil {
			return trace.BadParameter("%s request missing contents", kind)
		}
		var text string
		if err := content.Decode(&text); err != nil {
			return trace.Wrap(err)
		}
		*k = QueueKind{Name: kind, Text: text}
		return nil
	case QueueRegistration, QueueMakePublic, QueueMakePrivate, QueueAway, QueueClear:
		*k = QueueKind{Name: kind}
		return nil
	}
	return trace.BadParameter("unknown queue request %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (k QueueKind) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(k) }

// UnmarshalJSON implements json.Unmarshaler.
func (k *QueueKind) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, k) }
