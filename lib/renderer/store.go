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

package renderer

import (
	"context"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/docstore"
	"github.com/obelisklabs/beetle/lib/render"
)

// mongoStore implements Store over the typed collection API.
type mongoStore struct {
	histories docstore.Collection[render.DeviceHistory]
}

// NewStore returns the renderer's view over the document store.
func NewStore(store *docstore.Store) Store {
	return &mongoStore{
		histories: docstore.NewCollection[render.DeviceHistory](store, store.Names().DeviceHistories),
	}
}

func (s *mongoStore) AppendRenderHistory(ctx context.Context, deviceID string, queued render.QueuedRender) error {
	_, err := s.histories.FindOneAndUpdate(ctx,
		bson.M{"device_id": deviceID},
		historyAppend(deviceID, queued),
	)
	return trace.Wrap(err)
}

// historyAppend builds the update that appends one render to a device's
// history and trims the history to its retention bound, oldest first.
func historyAppend(deviceID string, queued render.QueuedRender) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{"device_id": deviceID},
		"$push": bson.M{"render_history": bson.M{
			"$each":  []render.QueuedRender{queued},
			"$slice": -defaults.RenderHistoryBound,
		}},
	}
}
