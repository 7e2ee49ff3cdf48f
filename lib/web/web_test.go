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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/obelisklabs/beetle/lib/broker"
	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/oauth"
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/session"
	"github.com/obelisklabs/beetle/lib/types"
)

type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*types.User
	diagnostics map[string]*types.DeviceDiagnostic
	authorities map[string]*types.DeviceAuthority
	states      map[string]*types.DeviceState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*types.User),
		diagnostics: make(map[string]*types.DeviceDiagnostic),
		authorities: make(map[string]*types.DeviceAuthority),
		states:      make(map[string]*types.DeviceState),
	}
}

func (s *fakeStore) UpsertProfile(_ context.Context, profile oauth.Profile) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[profile.ID()]
	if !ok {
		user = &types.User{OID: profile.ID()}
		s.users[profile.ID()] = user
	}
	user.Name = profile.Name
	user.Nickname = profile.Nickname
	user.Picture = profile.Picture
	out := *user
	return &out, nil
}

func (s *fakeStore) GetUser(_ context.Context, oid string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[oid]
	if !ok {
		return nil, trace.NotFound("no user %q", oid)
	}
	out := *user
	return &out, nil
}

func (s *fakeStore) RemoveUserDevice(_ context.Context, oid, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[oid]
	if !ok {
		return trace.NotFound("no user %q", oid)
	}
	delete(user.Devices, deviceID)
	return nil
}

func (s *fakeStore) GetDiagnostic(_ context.Context, deviceID string) (*types.DeviceDiagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diagnostic, ok := s.diagnostics[deviceID]
	if !ok {
		return nil, trace.NotFound("no device %q", deviceID)
	}
	out := *diagnostic
	return &out, nil
}

func (s *fakeStore) GetAuthority(_ context.Context, deviceID string) (*types.DeviceAuthority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authority, ok := s.authorities[deviceID]
	if !ok {
		return nil, trace.NotFound("no authority for %q", deviceID)
	}
	out := *authority
	return &out, nil
}

func (s *fakeStore) GetDeviceState(_ context.Context, deviceID string) (*types.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[deviceID]
	if !ok {
		return nil, trace.NotFound("no state for %q", deviceID)
	}
	out := *state
	return &out, nil
}

type fakeIdentity struct {
	exchange func(code string) (*types.OAuthToken, error)
	profile  func(accessToken string) (*oauth.Profile, error)
}

func (f *fakeIdentity) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (f *fakeIdentity) Exchange(_ context.Context, code string) (*types.OAuthToken, error) {
	return f.exchange(code)
}

func (f *fakeIdentity) FetchProfile(_ context.Context, accessToken string) (*oauth.Profile, error) {
	return f.profile(accessToken)
}

type testHandler struct {
	handler  *Handler
	broker   *broker.Client
	store    *fakeStore
	identity *fakeIdentity
	sessions *session.Manager
	clock    *clockwork.FakeClock
	secret   []byte
}

func newTestHandler(t *testing.T) *testHandler {
	t.Helper()
	ctx := context.Background()
	srv := miniredis.RunT(t)
	clt, err := broker.Connect(ctx, broker.Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { clt.Close() })

	secret := []byte("web-secret")
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions, err := session.NewManager(session.Config{Secret: secret})
	require.NoError(t, err)

	store := newFakeStore()
	identity := &fakeIdentity{
		exchange: func(string) (*types.OAuthToken, error) {
			return &types.OAuthToken{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600}, nil
		},
		profile: func(string) (*oauth.Profile, error) {
			return &oauth.Profile{OID: "alice-oid", Name: "Alice"}, nil
		},
	}
	handler, err := NewHandler(Config{
		Broker:     clt,
		Store:      store,
		Provider:   identity,
		Sessions:   sessions,
		Secret:     secret,
		UIRedirect: "https://ui.test/home",
		Clock:      clock,
	})
	require.NoError(t, err)

	return &testHandler{
		handler:  handler,
		broker:   clt,
		store:    store,
		identity: identity,
		sessions: sessions,
		clock:    clock,
		secret:   secret,
	}
}

func (th *testHandler) addUser(t *testing.T, oid, name string, devices ...string) {
	t.Helper()
	user := &types.User{OID: oid, Name: name, Devices: make(map[string]types.DeviceSnapshot)}
	for _, id := range devices {
		user.Devices[id] = types.DeviceSnapshot{}
	}
	th.store.mu.Lock()
	th.store.users[oid] = user
	th.store.mu.Unlock()
}

func (th *testHandler) do(t *testing.T, method, target, body, oid string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if oid != "" {
		cookie, err := th.sessions.Issue(oid, th.clock.Now())
		require.NoError(t, err)
		r.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	th.handler.ServeHTTP(rec, r)
	return rec
}

func (th *testHandler) popJob(t *testing.T) jobs.RegistrarJob {
	t.Helper()
	token, err := th.broker.LPop(context.Background(), defaults.RegistrarJobQueueKey)
	require.NoError(t, err)
	var job jobs.RegistrarJob
	require.NoError(t, envelope.Verify(th.secret, token, th.clock.Now(), &job))
	return job
}

func (th *testHandler) popRender(t *testing.T) render.QueuedRender {
	t.Helper()
	token, err := th.broker.LPop(context.Background(), defaults.RenderQueueKey)
	require.NoError(t, err)
	var queued render.QueuedRender
	require.NoError(t, envelope.Verify(th.secret, token, th.clock.Now(), &queued))
	return queued
}

func errorTag(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["error"]
}

func TestStatus(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["version"])
	require.NotEmpty(t, out["timestamp"])
}

func TestAuthRedirect(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodGet, "/auth/redirect", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "https://provider.test/authorize?state=")
}

func TestAuthCompleteIssuesSession(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodGet, "/auth/complete?code=abc", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://ui.test/home", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.CookieName, cookies[0].Name)

	// Login stores the profile and hands the wrapped tokens to the registrar.
	th.store.mu.Lock()
	user := th.store.users["alice-oid"]
	th.store.mu.Unlock()
	require.NotNil(t, user)
	require.Equal(t, "Alice", user.Name)

	job := th.popJob(t)
	require.Equal(t, jobs.KindTokenRefresh, job.Job.Name)
	require.Equal(t, "alice-oid", job.Job.TokenRefresh.UserID)

	access, err := envelope.UnwrapSecret(th.secret, job.Job.TokenRefresh.Handle.Token.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "access", access)
	refresh, err := envelope.UnwrapSecret(th.secret, job.Job.TokenRefresh.Handle.Token.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "refresh", refresh)
}

func TestAuthCompleteMissingCode(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodGet, "/auth/complete", "", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "unprocessable", errorTag(t, rec))
}

func TestIdentifyWithoutSession(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodGet, "/auth/identify", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", errorTag(t, rec))
}

func TestIdentifyReturnsUser(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")
	th.store.mu.Lock()
	th.store.users["alice-oid"].LatestToken = &types.TokenHandle{Created: th.clock.Now()}
	th.store.mu.Unlock()

	rec := th.do(t, http.MethodGet, "/auth/identify", "", "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "alice-oid", out["oid"])
	require.NotContains(t, out, "latest_token")
}

func TestRegisterEnqueuesOwnership(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice")

	rec := th.do(t, http.MethodPost, "/device/register", `{"device_id":"dev-1"}`, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	job := th.popJob(t)
	require.Equal(t, out["id"], job.ID)
	require.Equal(t, jobs.KindOwnership, job.Job.Name)
	require.Equal(t, "alice-oid", job.Job.Ownership.UserID)
	require.Equal(t, "dev-1", job.Job.Ownership.DeviceID)

	// The result is preset to pending so the id is immediately pollable.
	result, err := th.handler.jobs.Result(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, result.Status)
}

func TestRegisterWithoutSession(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodPost, "/device/register", `{"device_id":"dev-1"}`, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterNotHeld(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice")

	rec := th.do(t, http.MethodPost, "/device/unregister", `{"device_id":"dev-1"}`, "alice-oid")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "unprocessable", errorTag(t, rec))
}

func TestUnregisterRemovesDevice(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	rec := th.do(t, http.MethodPost, "/device/unregister", `{"device_id":"dev-1"}`, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	th.store.mu.Lock()
	_, held := th.store.users["alice-oid"].Devices["dev-1"]
	th.store.mu.Unlock()
	require.False(t, held)
}

func TestDeviceInfo(t *testing.T) {
	ctx := context.Background()
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	firstSeen := th.clock.Now().Add(-time.Hour)
	th.store.mu.Lock()
	th.store.diagnostics["dev-1"] = &types.DeviceDiagnostic{
		ID:               "dev-1",
		FirstSeen:        firstSeen,
		LastSeen:         th.clock.Now(),
		Nickname:         "kitchen",
		SentMessageCount: 3,
	}
	th.store.states["dev-1"] = &types.DeviceState{
		DeviceID: "dev-1",
		Rendering: &types.RenderingState{
			Layout: types.RenderingMessageList,
			Entries: []types.StateEntry{
				{Content: "hello", Origin: types.UserOrigin("Alice"), Timestamp: th.clock.Now()},
			},
		},
	}
	th.store.mu.Unlock()
	_, err := th.broker.RPush(ctx, defaults.DeviceQueueKey("dev-1"), "frame-1", "frame-2")
	require.NoError(t, err)

	rec := th.do(t, http.MethodGet, "/device/info?id=dev-1", "", "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	var out deviceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "dev-1", out.ID)
	require.Equal(t, "kitchen", out.Nickname)
	require.Equal(t, int64(3), out.SentMessageCount)
	require.Equal(t, int64(2), out.CurrentQueueCount)
	require.Len(t, out.SentMessages, 1)
	require.Equal(t, "hello", out.SentMessages[0].Content)
}

func TestDeviceInfoUnknownDevice(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice")

	rec := th.do(t, http.MethodGet, "/device/info?id=ghost", "", "alice-oid")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", errorTag(t, rec))
}

func TestDeviceAuthority(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")
	th.store.mu.Lock()
	th.store.authorities["dev-1"] = &types.DeviceAuthority{
		DeviceID:       "dev-1",
		AuthorityModel: types.AuthorityModel{Model: types.AuthorityExclusive, Owner: "alice-oid"},
	}
	th.store.mu.Unlock()

	rec := th.do(t, http.MethodGet, "/device/authority?id=dev-1", "", "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.DeviceAuthority
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, types.AuthorityExclusive, out.AuthorityModel.Model)
	require.Equal(t, "alice-oid", out.AuthorityModel.Owner)

	rec = th.do(t, http.MethodGet, "/device/authority?id=ghost", "", "alice-oid")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueLightsPushesRender(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"lights","beetle:content":true}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	queued := th.popRender(t)
	require.Equal(t, out["id"], queued.ID)
	require.Equal(t, "dev-1", queued.DeviceID)
	require.Equal(t, render.VariantLighting, queued.Layout.Kind)
	require.Equal(t, render.LightingOn, queued.Layout.Lighting)
	require.Equal(t, render.AuthorityUser, queued.Auth.Kind)
	require.Equal(t, "Alice", queued.Auth.User)
}

func TestQueueMessageEnqueuesMutation(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"message","beetle:content":"lunch?"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	job := th.popJob(t)
	require.Equal(t, jobs.KindMutateState, job.Job.Name)
	require.Equal(t, "dev-1", job.Job.MutateState.DeviceID)
	require.Equal(t, types.TransitionPushMessage, job.Job.MutateState.Transition.Transition)
	require.Equal(t, "lunch?", job.Job.MutateState.Transition.Content)
	require.Equal(t, types.UserOrigin("Alice"), job.Job.MutateState.Transition.Origin)
}

func TestQueueAwayRendersBusy(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"away"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	queued := th.popRender(t)
	require.Equal(t, render.VariantLayout, queued.Layout.Kind)
	require.Equal(t, render.LayoutMessage, queued.Layout.Layout.Kind)
	require.Equal(t, "Busy", queued.Layout.Layout.Text)
}

func TestQueueClearMutatesState(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"clear"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	job := th.popJob(t)
	require.Equal(t, jobs.KindMutateState, job.Job.Name)
	require.Equal(t, types.TransitionClear, job.Job.MutateState.Transition.Transition)
}

func TestQueueScheduleToggle(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"schedule","beetle:content":true}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)

	job := th.popJob(t)
	require.Equal(t, jobs.KindToggleSchedule, job.Job.Name)
	require.Equal(t, "alice-oid", job.Job.ToggleSchedule.UserID)
	require.True(t, job.Job.ToggleSchedule.ShouldEnable)
}

func TestQueuePrivacyToggles(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"make_public"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)
	job := th.popJob(t)
	require.Equal(t, jobs.KindOwnershipChange, job.Job.Name)
	require.True(t, job.Job.OwnershipChange.MakePublic)

	body = `{"device_id":"dev-1","kind":{"beetle:kind":"make_private"}}`
	rec = th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)
	job = th.popJob(t)
	require.Equal(t, jobs.KindOwnershipChange, job.Job.Name)
	require.False(t, job.Job.OwnershipChange.MakePublic)
}

func TestQueueDeniedForStranger(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "bob-oid", "Bob")
	th.store.mu.Lock()
	th.store.authorities["dev-1"] = &types.DeviceAuthority{
		DeviceID:       "dev-1",
		AuthorityModel: types.AuthorityModel{Model: types.AuthorityExclusive, Owner: "alice-oid"},
	}
	th.store.mu.Unlock()

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"clear"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "bob-oid")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", errorTag(t, rec))
}

func TestQueuePublicDeviceAllowsAnyone(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "bob-oid", "Bob")
	th.store.mu.Lock()
	th.store.authorities["dev-1"] = &types.DeviceAuthority{
		DeviceID:       "dev-1",
		AuthorityModel: types.AuthorityModel{Model: types.AuthorityPublic, Owner: "alice-oid"},
	}
	th.store.mu.Unlock()

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"message","beetle:content":"hi"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "bob-oid")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueUnknownKind(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice", "dev-1")

	body := `{"device_id":"dev-1","kind":{"beetle:kind":"explode"}}`
	rec := th.do(t, http.MethodPost, "/device/queue", body, "alice-oid")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "unprocessable", errorTag(t, rec))
}

func TestJobResultLookup(t *testing.T) {
	th := newTestHandler(t)
	th.addUser(t, "alice-oid", "Alice")

	rec := th.do(t, http.MethodPost, "/device/register", `{"device_id":"dev-1"}`, "alice-oid")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	rec = th.do(t, http.MethodGet, "/jobs?id="+out["id"], "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result jobs.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, jobs.StatusPending, result.Status)

	rec = th.do(t, http.MethodGet, "/jobs?id=ghost", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", errorTag(t, rec))
}
