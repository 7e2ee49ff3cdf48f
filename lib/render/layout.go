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

// Package render defines the queued-render model, the producer half of the
// render queue, and the rasterizer that turns layouts into device-bound PNG
// bytes.
package render

import (
	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/obelisklabs/beetle/lib/wire"
)

// Authority tag variants: who asked for a render.
const (
	// AuthorityCommandLine marks renders queued by an operator tool.
	AuthorityCommandLine = "command_line"

	// AuthorityRegistrar marks renders queued by the registrar worker.
	AuthorityRegistrar = "registrar"

	// AuthorityUser marks renders queued by a named end user.
	AuthorityUser = "user"
)

// Authority records the originator of a queued render.
type Authority struct {
	// Kind is one of the Authority* constants.
	Kind string
	// User is the user's display name when Kind is AuthorityUser.
	User string
}

// RegistrarAuthority tags a render queued by the registrar itself.
func RegistrarAuthority() Authority {
	return Authority{Kind: AuthorityRegistrar}
}

// UserAuthority tags a render queued on behalf of the named user.
func UserAuthority(name string) Authority {
	return Authority{Kind: AuthorityUser, User: name}
}

// SumEncode implements wire.Encoder.
func (a Authority) SumEncode() (string, any) {
	if a.Kind == AuthorityUser {
		return a.Kind, a.User
	}
	return a.Kind, nil
}

// SumDecode implements wire.Decoder.
func (a *Authority) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case AuthorityCommandLine, AuthorityRegistrar:
		*a = Authority{Kind: kind}
		return nil
	case AuthorityUser:
		if content == nil {
			return trace.BadParameter("user authority missing name")
		}
		var name string
		if err := content.Decode(&name); err != nil {
			return trace.Wrap(err)
		}
		*a = Authority{Kind: kind, User: name}
		return nil
	}
	return trace.BadParameter("unknown render authority %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (a Authority) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(a) }

// UnmarshalJSON implements json.Unmarshaler.
func (a *Authority) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, a) }

// MarshalBSONValue implements bson.ValueMarshaler.
func (a Authority) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(a)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (a *Authority) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, a)
}

// Spacing is a per-side pixel measure for borders, padding, and margins.
type Spacing struct {
	Left   int `json:"left,omitempty" bson:"left,omitempty"`
	Top    int `json:"top,omitempty" bson:"top,omitempty"`
	Right  int `json:"right,omitempty" bson:"right,omitempty"`
	Bottom int `json:"bottom,omitempty" bson:"bottom,omitempty"`
}

// LeftSpacing returns a spacing applied to the left side only.
func LeftSpacing(px int) *Spacing {
	return &Spacing{Left: px}
}

// StylizedMessage is a text component with explicit font, size, and box
// styling.
type StylizedMessage struct {
	Message string   `json:"message" bson:"message"`
	Font    string   `json:"font,omitempty" bson:"font,omitempty"`
	Size    float64  `json:"size,omitempty" bson:"size,omitempty"`
	Border  *Spacing `json:"border,omitempty" bson:"border,omitempty"`
	Padding *Spacing `json:"padding,omitempty" bson:"padding,omitempty"`
	Margin  *Spacing `json:"margin,omitempty" bson:"margin,omitempty"`
}

// SplitLayout renders two vertical stacks of stylized messages side by side,
// split at Ratio percent of the canvas width.
type SplitLayout struct {
	Left  []StylizedMessage `json:"left,omitempty" bson:"left,omitempty"`
	Right []StylizedMessage `json:"right,omitempty" bson:"right,omitempty"`
	Ratio int               `json:"ratio,omitempty" bson:"ratio,omitempty"`
}

// Layout variants.
const (
	// LayoutClear renders an all-white canvas.
	LayoutClear = "clear"

	// LayoutMessage renders plain text at the default position and size.
	LayoutMessage = "message"

	// LayoutScannable renders a QR code of its contents.
	LayoutScannable = "scannable"

	// LayoutStylized renders a single stylized message.
	LayoutStylized = "stylized_message"

	// LayoutSplit renders a two-column split.
	LayoutSplit = "split"
)

// Layout is the tagged union of rasterizable layouts.
type Layout struct {
	// Kind is one of the Layout* constants.
	Kind string
	// Text carries the contents for message and scannable layouts.
	Text string
	// Stylized carries the component for stylized layouts.
	Stylized *StylizedMessage
	// Split carries the columns for split layouts.
	Split *SplitLayout
}

// MessageLayout renders text plainly.
func MessageLayout(text string) Layout {
	return Layout{Kind: LayoutMessage, Text: text}
}

// ScannableLayout renders contents as a QR code.
func ScannableLayout(contents string) Layout {
	return Layout{Kind: LayoutScannable, Text: contents}
}

// ClearLayout renders an all-white canvas.
func ClearLayout() Layout {
	return Layout{Kind: LayoutClear}
}

// SumEncode implements wire.Encoder.
func (l Layout) SumEncode() (string, any) {
	switch l.Kind {
	case LayoutMessage, LayoutScannable:
		return l.Kind, l.Text
	case LayoutStylized:
		return l.Kind, l.Stylized
	case LayoutSplit:
		return l.Kind, l.Split
	}
	return LayoutClear, nil
}

// SumDecode implements wire.Decoder.
func (l *Layout) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case LayoutClear:
		*l = Layout{Kind: kind}
		return nil
	case LayoutMessage, LayoutScannable:
		if content == nil {
			return trace.BadParameter("%s layout missing contents", kind)
		}
		var text string
		if err := content.Decode(&text); err != nil {
			return trace.Wrap(err)
		}
		*l = Layout{Kind: kind, Text: text}
		return nil
	case LayoutStylized:
		if content == nil {
			return trace.BadParameter("stylized layout missing component")
		}
		var stylized StylizedMessage
		if err := content.Decode(&stylized); err != nil {
			return trace.Wrap(err)
		}
		*l = Layout{Kind: kind, Stylized: &stylized}
		return nil
	case LayoutSplit:
		if content == nil {
			return trace.BadParameter("split layout missing columns")
		}
		var split SplitLayout
		if err := content.Decode(&split); err != nil {
			return trace.Wrap(err)
		}
		*l = Layout{Kind: kind, Split: &split}
		return nil
	}
	return trace.BadParameter("unknown layout %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (l Layout) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(l) }

// UnmarshalJSON implements json.Unmarshaler.
func (l *Layout) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, l) }

// MarshalBSONValue implements bson.ValueMarshaler.
func (l Layout) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(l)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (l *Layout) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, l)
}

// Variant kinds.
const (
	// VariantLayout is a rasterizable layout.
	VariantLayout = "layout"

	// VariantLighting is a lighting command.
	VariantLighting = "lighting"
)

// Lighting command states.
const (
	LightingOn  = "on"
	LightingOff = "off"
)

// Variant is the sum of a layout request and a lighting command.
type Variant struct {
	// Kind is VariantLayout or VariantLighting.
	Kind string
	// Layout is set for VariantLayout.
	Layout Layout
	// Lighting is LightingOn or LightingOff for VariantLighting.
	Lighting string
}

// LayoutVariant wraps a layout as a queueable variant.
func LayoutVariant(layout Layout) Variant {
	return Variant{Kind: VariantLayout, Layout: layout}
}

// LightingVariant wraps a lighting command as a queueable variant.
func LightingVariant(on bool) Variant {
	state := LightingOff
	if on {
		state = LightingOn
	}
	return Variant{Kind: VariantLighting, Lighting: state}
}

// SumEncode implements wire.Encoder.
func (v Variant) SumEncode() (string, any) {
	if v.Kind == VariantLighting {
		return v.Kind, v.Lighting
	}
	return VariantLayout, v.Layout
}

// SumDecode implements wire.Decoder.
func (v *Variant) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case VariantLayout:
		if content == nil {
			return trace.BadParameter("layout variant missing layout")
		}
		var layout Layout
		if err := content.Decode(&layout); err != nil {
			return trace.Wrap(err)
		}
		*v = Variant{Kind: kind, Layout: layout}
		return nil
	case VariantLighting:
		if content == nil {
			return trace.BadParameter("lighting variant missing state")
		}
		var state string
		if err := content.Decode(&state); err != nil {
			return trace.Wrap(err)
		}
		if state != LightingOn && state != LightingOff {
			return trace.BadParameter("unknown lighting state %q", state)
		}
		*v = Variant{Kind: kind, Lighting: state}
		return nil
	}
	return trace.BadParameter("unknown render variant %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (v Variant) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(v) }

// UnmarshalJSON implements json.Unmarshaler.
func (v *Variant) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, v) }

// MarshalBSONValue implements bson.ValueMarshaler.
func (v Variant) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return wire.MarshalBSONSum(v)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (v *Variant) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return wire.UnmarshalBSONSum(t, data, v)
}

// QueuedRender is one unit of work on the render queue.
type QueuedRender struct {
	ID       string    `json:"id" bson:"id"`
	Auth     Authority `json:"auth" bson:"auth"`
	DeviceID string    `json:"device_id" bson:"device_id"`
	Layout   Variant   `json:"layout" bson:"layout"`
}
