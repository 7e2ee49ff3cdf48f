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
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/types"
)

// fakeBroker is an in-memory stand-in for a broker session. It records ACL
// operations and the order of pool-related commands so tests can assert the
// grant-before-push ordering.
type fakeBroker struct {
	mu     sync.Mutex
	lists  map[string][]string
	sets   map[string]map[string]bool
	hashes map[string]map[string]string

	aclUsers map[string][][]string
	aclList  []string
	opLog    []string

	closed bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		lists:    make(map[string][]string),
		sets:     make(map[string]map[string]bool),
		hashes:   make(map[string]map[string]string),
		aclUsers: make(map[string][][]string),
	}
}

func (b *fakeBroker) log(format string, args ...any) {
	b.opLog = append(b.opLog, fmt.Sprintf(format, args...))
}

func (b *fakeBroker) LPush(_ context.Context, key string, values ...any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
		b.lists[key] = append([]string{strs[i]}, b.lists[key]...)
	}
	b.log("lpush %s %s", key, strings.Join(strs, " "))
	return int64(len(b.lists[key])), nil
}

func (b *fakeBroker) RPush(_ context.Context, key string, values ...any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range values {
		b.lists[key] = append(b.lists[key], fmt.Sprint(v))
	}
	return int64(len(b.lists[key])), nil
}

func (b *fakeBroker) LPop(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[key]
	if len(list) == 0 {
		return "", trace.NotFound("no element")
	}
	out := list[0]
	b.lists[key] = list[1:]
	return out, nil
}

func (b *fakeBroker) BLPop(ctx context.Context, _ time.Duration, key string) (string, error) {
	return b.LPop(ctx, key)
}

func (b *fakeBroker) LLen(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[key])), nil
}

func (b *fakeBroker) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.lists[key]), nil
}

func (b *fakeBroker) SAdd(_ context.Context, key string, members ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sets[key] == nil {
		b.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		b.sets[key][fmt.Sprint(m)] = true
	}
	return nil
}

func (b *fakeBroker) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for m := range b.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (b *fakeBroker) HSet(_ context.Context, key, field string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hashes[key] == nil {
		b.hashes[key] = make(map[string]string)
	}
	b.hashes[key][field] = fmt.Sprint(value)
	return nil
}

func (b *fakeBroker) HGet(_ context.Context, key, field string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.hashes[key][field]
	if !ok {
		return "", trace.NotFound("no element")
	}
	return out, nil
}

func (b *fakeBroker) ACLSetUser(_ context.Context, user string, rules ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aclUsers[user] = append(b.aclUsers[user], slices.Clone(rules))
	b.log("acl setuser %s", user)
	return nil
}

func (b *fakeBroker) ACLDelUser(_ context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.aclUsers, user)
	b.log("acl deluser %s", user)
	return nil
}

func (b *fakeBroker) ACLList(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.aclList), nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu          sync.Mutex
	diagnostics map[string]*types.DeviceDiagnostic
	users       map[string]*types.User
	authorities map[string]*types.DeviceAuthority
	states      map[string]*types.DeviceState
	schedules   map[string]*types.DeviceSchedule
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		diagnostics: make(map[string]*types.DeviceDiagnostic),
		users:       make(map[string]*types.User),
		authorities: make(map[string]*types.DeviceAuthority),
		states:      make(map[string]*types.DeviceState),
		schedules:   make(map[string]*types.DeviceSchedule),
	}
}

func (s *fakeStore) UpsertHeartbeat(_ context.Context, deviceID string, now time.Time) (*types.DeviceDiagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag, ok := s.diagnostics[deviceID]
	if !ok {
		diag = &types.DeviceDiagnostic{ID: deviceID, FirstSeen: now}
		s.diagnostics[deviceID] = diag
	}
	diag.LastSeen = now
	out := *diag
	return &out, nil
}

func (s *fakeStore) GetDiagnostic(_ context.Context, deviceID string) (*types.DeviceDiagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag, ok := s.diagnostics[deviceID]
	if !ok {
		return nil, trace.NotFound("device %q not found", deviceID)
	}
	out := *diag
	return &out, nil
}

func (s *fakeStore) SetRegistrationState(_ context.Context, deviceID string, state types.RegistrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag, ok := s.diagnostics[deviceID]
	if !ok {
		return trace.NotFound("device %q not found", deviceID)
	}
	diag.RegistrationState = &state
	return nil
}

func (s *fakeStore) SetNickname(_ context.Context, deviceID, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag, ok := s.diagnostics[deviceID]
	if !ok {
		return trace.NotFound("device %q not found", deviceID)
	}
	diag.Nickname = nickname
	return nil
}

func (s *fakeStore) IncrementSentMessages(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag, ok := s.diagnostics[deviceID]
	if !ok {
		return trace.NotFound("device %q not found", deviceID)
	}
	diag.SentMessageCount++
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, trace.NotFound("user %q not found", userID)
	}
	out := *user
	return &out, nil
}

func (s *fakeStore) ReplaceUser(_ context.Context, user types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.OID] = &user
	return nil
}

func (s *fakeStore) SetUserToken(_ context.Context, userID string, handle types.TokenHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return trace.NotFound("user %q not found", userID)
	}
	user.LatestToken = &handle
	return nil
}

func (s *fakeStore) UsersWithTokens(_ context.Context, limit int64) ([]types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.User
	for _, user := range s.users {
		if user.LatestToken == nil {
			continue
		}
		out = append(out, *user)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) RenameDeviceForHolders(_ context.Context, deviceID string, snapshot types.DeviceSnapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched int64
	for _, user := range s.users {
		if _, ok := user.Devices[deviceID]; ok {
			user.Devices[deviceID] = snapshot
			matched++
		}
	}
	return matched, nil
}

func (s *fakeStore) GetAuthority(_ context.Context, deviceID string) (*types.DeviceAuthority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authority, ok := s.authorities[deviceID]
	if !ok {
		return nil, trace.NotFound("authority for %q not found", deviceID)
	}
	out := *authority
	return &out, nil
}

func (s *fakeStore) EnsureAuthority(_ context.Context, deviceID, requester string) (*types.DeviceAuthority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authority, ok := s.authorities[deviceID]
	if !ok {
		authority = &types.DeviceAuthority{
			DeviceID: deviceID,
			AuthorityModel: types.AuthorityModel{
				Model: types.AuthorityExclusive,
				Owner: requester,
			},
		}
		s.authorities[deviceID] = authority
	}
	out := *authority
	return &out, nil
}

func (s *fakeStore) ReplaceAuthority(_ context.Context, authority types.DeviceAuthority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorities[authority.DeviceID] = &authority
	return nil
}

func (s *fakeStore) GetDeviceState(_ context.Context, deviceID string) (*types.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[deviceID]
	if !ok {
		return nil, trace.NotFound("state for %q not found", deviceID)
	}
	out := *state
	return &out, nil
}

func (s *fakeStore) SetDeviceState(_ context.Context, deviceID string, rendering *types.RenderingState, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[deviceID] = &types.DeviceState{DeviceID: deviceID, Rendering: rendering, UpdatedAt: now}
	return nil
}

func (s *fakeStore) GetSchedule(_ context.Context, deviceID string) (*types.DeviceSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[deviceID]
	if !ok {
		return nil, trace.NotFound("schedule for %q not found", deviceID)
	}
	out := *schedule
	return &out, nil
}

func (s *fakeStore) UpsertSchedule(_ context.Context, schedule types.DeviceSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.DeviceID] = &schedule
	return nil
}

// fakeProvider stubs the identity provider.
type fakeProvider struct {
	refresh  func(refreshToken string) (*types.OAuthToken, error)
	upcoming func(accessToken string) ([]types.ScheduleEvent, error)
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*types.OAuthToken, error) {
	if p.refresh == nil {
		return nil, trace.NotImplemented("refresh not stubbed")
	}
	return p.refresh(refreshToken)
}

func (p *fakeProvider) UpcomingEvents(_ context.Context, accessToken string, _ time.Time, _ time.Duration) ([]types.ScheduleEvent, error) {
	if p.upcoming == nil {
		return nil, trace.NotImplemented("calendar not stubbed")
	}
	return p.upcoming(accessToken)
}
