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
	"context"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/obelisklabs/beetle/lib/docstore"
	"github.com/obelisklabs/beetle/lib/oauth"
	"github.com/obelisklabs/beetle/lib/types"
)

// Store is the document-store surface the HTTP API needs. Handlers are
// producers into the queues; besides the user-profile upsert on login and the
// unregister removal, everything here is read-only.
type Store interface {
	// UpsertProfile stores the user's profile fields on login, preserving
	// the device map and token handle. Returns the user after the upsert.
	UpsertProfile(ctx context.Context, profile oauth.Profile) (*types.User, error)

	// GetUser loads a user by oid.
	GetUser(ctx context.Context, oid string) (*types.User, error)

	// RemoveUserDevice drops deviceID from the user's device map.
	RemoveUserDevice(ctx context.Context, oid, deviceID string) error

	// GetDiagnostic loads a device's diagnostic record.
	GetDiagnostic(ctx context.Context, deviceID string) (*types.DeviceDiagnostic, error)

	// GetAuthority loads a device's authority record.
	GetAuthority(ctx context.Context, deviceID string) (*types.DeviceAuthority, error)

	// GetDeviceState loads a device's rendering state.
	GetDeviceState(ctx context.Context, deviceID string) (*types.DeviceState, error)
}

// mongoStore implements Store over the typed collection API.
type mongoStore struct {
	users       docstore.Collection[types.User]
	diagnostics docstore.Collection[types.DeviceDiagnostic]
	authorities docstore.Collection[types.DeviceAuthority]
	states      docstore.Collection[types.DeviceState]
}

// NewStore returns the HTTP API's view over the document store.
func NewStore(store *docstore.Store) Store {
	names := store.Names()
	return &mongoStore{
		users:       docstore.NewCollection[types.User](store, names.Users),
		diagnostics: docstore.NewCollection[types.DeviceDiagnostic](store, names.DeviceDiagnostics),
		authorities: docstore.NewCollection[types.DeviceAuthority](store, names.DeviceAuthorities),
		states:      docstore.NewCollection[types.DeviceState](store, names.DeviceStates),
	}
}

func (s *mongoStore) UpsertProfile(ctx context.Context, profile oauth.Profile) (*types.User, error) {
	user, err := s.users.FindOneAndUpdate(ctx,
		bson.M{"oid": profile.ID()},
		bson.M{
			"$set": bson.M{
				"name":     profile.Name,
				"nickname": profile.Nickname,
				"picture":  profile.Picture,
			},
			"$setOnInsert": bson.M{"oid": profile.ID()},
		},
	)
	return user, trace.Wrap(err)
}

func (s *mongoStore) GetUser(ctx context.Context, oid string) (*types.User, error) {
	user, err := s.users.FindOne(ctx, bson.M{"oid": oid})
	return user, trace.Wrap(err)
}

func (s *mongoStore) RemoveUserDevice(ctx context.Context, oid, deviceID string) error {
	return trace.Wrap(s.users.UpdateOne(ctx,
		bson.M{"oid": oid},
		bson.M{"$unset": bson.M{"devices." + deviceID: ""}},
	))
}

func (s *mongoStore) GetDiagnostic(ctx context.Context, deviceID string) (*types.DeviceDiagnostic, error) {
	diagnostic, err := s.diagnostics.FindOne(ctx, bson.M{"id": deviceID})
	return diagnostic, trace.Wrap(err)
}

func (s *mongoStore) GetAuthority(ctx context.Context, deviceID string) (*types.DeviceAuthority, error) {
	authority, err := s.authorities.FindOne(ctx, bson.M{"device_id": deviceID})
	return authority, trace.Wrap(err)
}

func (s *mongoStore) GetDeviceState(ctx context.Context, deviceID string) (*types.DeviceState, error) {
	state, err := s.states.FindOne(ctx, bson.M{"device_id": deviceID})
	return state, trace.Wrap(err)
}
