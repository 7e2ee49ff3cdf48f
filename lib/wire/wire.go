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

// Package wire implements the tagged-union encoding shared by every sum type
// the system persists or queues. A union is stored as the pair
//
//	{"beetle:kind": "<variant>", "beetle:content": <payload>}
//
// both in queue JSON and in document-store BSON. Variants without a payload
// omit the content field. Sum types implement [Encoder] and [Decoder] once
// and delegate their JSON and BSON marshaler methods here, keeping the
// discriminator in exactly one place.
package wire

import (
	"encoding/json"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Field names of the discriminator pair.
const (
	KindField    = "beetle:kind"
	ContentField = "beetle:content"
)

// Encoder is the producing half of a sum type: it reports the active variant
// and its payload. A nil payload means the variant carries no content.
type Encoder interface {
	SumEncode() (kind string, content any)
}

// Decoder is the consuming half of a sum type: given a variant name and its
// raw payload it reconstructs the value. The content is nil when the encoded
// form carried no payload.
type Decoder interface {
	SumDecode(kind string, content Raw) error
}

// Raw is an encoding-agnostic handle on a not-yet-decoded payload.
type Raw interface {
	Decode(out any) error
}

type jsonRaw json.RawMessage

func (r jsonRaw) Decode(out any) error {
	if err := json.Unmarshal([]byte(r), out); err != nil {
		return trace.BadParameter("malformed %q payload: %v", ContentField, err)
	}
	return nil
}

type bsonRaw bson.RawValue

func (r bsonRaw) Decode(out any) error {
	if err := bson.RawValue(r).Unmarshal(out); err != nil {
		return trace.BadParameter("malformed %q payload: %v", ContentField, err)
	}
	return nil
}

type jsonEnvelope struct {
	Kind    string          `json:"beetle:kind"`
	Content json.RawMessage `json:"beetle:content,omitempty"`
}

// MarshalJSONSum encodes a sum type as discriminator-pair JSON.
func MarshalJSONSum(e Encoder) ([]byte, error) {
	kind, content := e.SumEncode()
	env := jsonEnvelope{Kind: kind}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		env.Content = raw
	}
	out, err := json.Marshal(env)
	return out, trace.Wrap(err)
}

// UnmarshalJSONSum decodes discriminator-pair JSON into a sum type.
func UnmarshalJSONSum(data []byte, d Decoder) error {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return trace.BadParameter("malformed tagged union: %v", err)
	}
	if env.Kind == "" {
		return trace.BadParameter("tagged union missing %q", KindField)
	}
	var content Raw
	if len(env.Content) > 0 {
		content = jsonRaw(env.Content)
	}
	return trace.Wrap(d.SumDecode(env.Kind, content))
}

// MarshalBSONSum encodes a sum type as a discriminator-pair BSON document,
// suitable for a MarshalBSONValue implementation.
func MarshalBSONSum(e Encoder) (bsontype.Type, []byte, error) {
	kind, content := e.SumEncode()
	doc := bson.D{{Key: KindField, Value: kind}}
	if content != nil {
		doc = append(doc, bson.E{Key: ContentField, Value: content})
	}
	t, data, err := bson.MarshalValue(doc)
	return t, data, trace.Wrap(err)
}

// UnmarshalBSONSum decodes a discriminator-pair BSON document into a sum
// type, suitable for an UnmarshalBSONValue implementation.
func UnmarshalBSONSum(t bsontype.Type, data []byte, d Decoder) error {
	if t != bson.TypeEmbeddedDocument {
		return trace.BadParameter("tagged union must be a document, got %v", t)
	}
	raw := bson.Raw(data)
	kindVal, err := raw.LookupErr(KindField)
	if err != nil {
		return trace.BadParameter("tagged union missing %q", KindField)
	}
	kind, ok := kindVal.StringValueOK()
	if !ok {
		return trace.BadParameter("tagged union %q must be a string", KindField)
	}
	var content Raw
	if contentVal, err := raw.LookupErr(ContentField); err == nil {
		content = bsonRaw(contentVal)
	}
	return trace.Wrap(d.SumDecode(kind, content))
}
