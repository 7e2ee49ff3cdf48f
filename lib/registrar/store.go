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

package registrar

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/obelisklabs/beetle/lib/docstore"
	"github.com/obelisklabs/beetle/lib/types"
)

// Store is the document-store surface the registrar needs. The concrete
// implementation sits on the typed collection API; tests substitute fakes.
type Store interface {
	// UpsertHeartbeat records a device heartbeat: last_seen always, and
	// first_seen only on insert. Returns the diagnostic after the update.
	UpsertHeartbeat(ctx context.Context, deviceID string, now time.Time) (*types.DeviceDiagnostic, error)

	// GetDiagnostic loads a device's diagnostic record.
	GetDiagnostic(ctx context.Context, deviceID string) (*types.DeviceDiagnostic, error)

	// SetRegistrationState stores a device's registration state.
	SetRegistrationState(ctx context.Context, deviceID string, state types.RegistrationState) error

	// SetNickname stores a device's nickname on its diagnostic.
	SetNickname(ctx context.Context, deviceID, nickname string) error

	// IncrementSentMessages bumps a device's sent-message counter.
	IncrementSentMessages(ctx context.Context, deviceID string) error

	// GetUser loads a user by oid.
	GetUser(ctx context.Context, userID string) (*types.User, error)

	// ReplaceUser stores a full user document, inserting when absent.
	ReplaceUser(ctx context.Context, user types.User) error

	// SetUserToken stores a user's latest token handle.
	SetUserToken(ctx context.Context, userID string, handle types.TokenHandle) error

	// UsersWithTokens lists up to limit users holding a stored token
	// handle.
	UsersWithTokens(ctx context.Context, limit int64) ([]types.User, error)

	// RenameDeviceForHolders updates the device snapshot nested under
	// every user holding the device. Returns the number of users touched.
	RenameDeviceForHolders(ctx context.Context, deviceID string, snapshot types.DeviceSnapshot) (int64, error)

	// GetAuthority loads a device's authority record.
	GetAuthority(ctx context.Context, deviceID string) (*types.DeviceAuthority, error)

	// EnsureAuthority loads a device's authority record, inserting an
	// exclusive record for requester when absent. The stored owner is
	// never modified.
	EnsureAuthority(ctx context.Context, deviceID, requester string) (*types.DeviceAuthority, error)

	// ReplaceAuthority stores a full authority record.
	ReplaceAuthority(ctx context.Context, authority types.DeviceAuthority) error

	// GetDeviceState loads a device's rendering state. An undecodable
	// document is recovered as the default empty state.
	GetDeviceState(ctx context.Context, deviceID string) (*types.DeviceState, error)

	// SetDeviceState stores a device's rendering state and update time.
	SetDeviceState(ctx context.Context, deviceID string, rendering *types.RenderingState, now time.Time) error

	// GetSchedule loads a device's schedule record.
	GetSchedule(ctx context.Context, deviceID string) (*types.DeviceSchedule, error)

	// UpsertSchedule stores a full schedule record.
	UpsertSchedule(ctx context.Context, schedule types.DeviceSchedule) error
}

// mongoStore implements Store over the typed collection API.
type mongoStore struct {
	diagnostics docstore.Collection[types.DeviceDiagnostic]
	users       docstore.Collection[types.User]
	authorities docstore.Collection[types.DeviceAuthority]
	states      docstore.Collection[types.DeviceState]
	schedules   docstore.Collection[types.DeviceSchedule]
}

// NewStore returns the registrar's view over the document store.
func NewStore(store *docstore.Store) Store {
	names := store.Names()
	return &mongoStore{
		diagnostics: docstore.NewCollection[types.DeviceDiagnostic](store, names.DeviceDiagnostics),
		users:       docstore.NewCollection[types.User](store, names.Users),
		authorities: docstore.NewCollection[types.DeviceAuthority](store, names.DeviceAuthorities),
		states:      docstore.NewCollection[types.DeviceState](store, names.DeviceStates),
		schedules:   docstore.NewCollection[types.DeviceSchedule](store, names.DeviceSchedules),
	}
}

func (s *mongoStore) UpsertHeartbeat(ctx context.Context, deviceID string, now time.Time) (*types.DeviceDiagnostic, error) {
	diagnostic, err := s.diagnostics.FindOneAndUpdate(ctx,
		bson.M{"id": deviceID},
		bson.M{
			"$set":         bson.M{"last_seen": now},
			"$setOnInsert": bson.M{"id": deviceID, "first_seen": now},
		},
	)
	return diagnostic, trace.Wrap(err)
}

func (s *mongoStore) GetDiagnostic(ctx context.Context, deviceID string) (*types.DeviceDiagnostic, error) {
	diagnostic, err := s.diagnostics.FindOne(ctx, bson.M{"id": deviceID})
	return diagnostic, trace.Wrap(err)
}

func (s *mongoStore) SetRegistrationState(ctx context.Context, deviceID string, state types.RegistrationState) error {
	return trace.Wrap(s.diagnostics.UpdateOne(ctx,
		bson.M{"id": deviceID},
		bson.M{"$set": bson.M{"registration_state": state}},
	))
}

func (s *mongoStore) SetNickname(ctx context.Context, deviceID, nickname string) error {
	return trace.Wrap(s.diagnostics.UpdateOne(ctx,
		bson.M{"id": deviceID},
		bson.M{"$set": bson.M{"nickname": nickname}},
	))
}

func (s *mongoStore) IncrementSentMessages(ctx context.Context, deviceID string) error {
	return trace.Wrap(s.diagnostics.UpdateOne(ctx,
		bson.M{"id": deviceID},
		bson.M{"$inc": bson.M{"sent_message_count": 1}},
	))
}

func (s *mongoStore) GetUser(ctx context.Context, userID string) (*types.User, error) {
	user, err := s.users.FindOne(ctx, bson.M{"oid": userID})
	return user, trace.Wrap(err)
}

func (s *mongoStore) ReplaceUser(ctx context.Context, user types.User) error {
	return trace.Wrap(s.users.ReplaceOne(ctx, bson.M{"oid": user.OID}, user))
}

func (s *mongoStore) SetUserToken(ctx context.Context, userID string, handle types.TokenHandle) error {
	return trace.Wrap(s.users.UpdateOne(ctx,
		bson.M{"oid": userID},
		bson.M{"$set": bson.M{"latest_token": handle}},
	))
}

func (s *mongoStore) UsersWithTokens(ctx context.Context, limit int64) ([]types.User, error) {
	users, err := s.users.Find(ctx, bson.M{"latest_token": bson.M{"$ne": nil}}, limit)
	return users, trace.Wrap(err)
}

func (s *mongoStore) RenameDeviceForHolders(ctx context.Context, deviceID string, snapshot types.DeviceSnapshot) (int64, error) {
	matched, err := s.users.UpdateMany(ctx,
		bson.M{"devices." + deviceID: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{"devices." + deviceID: snapshot}},
	)
	return matched, trace.Wrap(err)
}

func (s *mongoStore) GetAuthority(ctx context.Context, deviceID string) (*types.DeviceAuthority, error) {
	authority, err := s.authorities.FindOne(ctx, bson.M{"device_id": deviceID})
	return authority, trace.Wrap(err)
}

func (s *mongoStore) EnsureAuthority(ctx context.Context, deviceID, requester string) (*types.DeviceAuthority, error) {
	authority, err := s.authorities.FindOneAndUpdate(ctx,
		bson.M{"device_id": deviceID},
		bson.M{"$setOnInsert": bson.M{
			"device_id": deviceID,
			"authority_model": types.AuthorityModel{
				Model: types.AuthorityExclusive,
				Owner: requester,
			},
		}},
	)
	return authority, trace.Wrap(err)
}

func (s *mongoStore) ReplaceAuthority(ctx context.Context, authority types.DeviceAuthority) error {
	return trace.Wrap(s.authorities.ReplaceOne(ctx, bson.M{"device_id": authority.DeviceID}, authority))
}

func (s *mongoStore) GetDeviceState(ctx context.Context, deviceID string) (*types.DeviceState, error) {
	state, err := s.states.FindOne(ctx, bson.M{"device_id": deviceID})
	switch {
	case err == nil:
		return state, nil
	case trace.IsNotFound(err):
		return nil, trace.Wrap(err)
	case trace.IsBadParameter(err):
		// an undecodable state document falls back to the default
		return &types.DeviceState{DeviceID: deviceID}, nil
	}
	return nil, trace.Wrap(err)
}

func (s *mongoStore) SetDeviceState(ctx context.Context, deviceID string, rendering *types.RenderingState, now time.Time) error {
	update := bson.M{"updated_at": now}
	if rendering != nil {
		update["rendering"] = rendering
	}
	mutation := bson.M{
		"$set":         update,
		"$setOnInsert": bson.M{"device_id": deviceID},
	}
	if rendering == nil {
		mutation["$unset"] = bson.M{"rendering": ""}
	}
	_, err := s.states.FindOneAndUpdate(ctx, bson.M{"device_id": deviceID}, mutation)
	return trace.Wrap(err)
}

func (s *mongoStore) GetSchedule(ctx context.Context, deviceID string) (*types.DeviceSchedule, error) {
	schedule, err := s.schedules.FindOne(ctx, bson.M{"device_id": deviceID})
	return schedule, trace.Wrap(err)
}

func (s *mongoStore) UpsertSchedule(ctx context.Context, schedule types.DeviceSchedule) error {
	return trace.Wrap(s.schedules.ReplaceOne(ctx, bson.M{"device_id": schedule.DeviceID}, schedule))
}
