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

// Package web is the HTTP front door. Handlers authenticate the browser
// session, validate input, and produce onto the render and registrar queues;
// all mutation of device records happens in the registrar.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/obelisklabs/beetle"
	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/envelope"
	"github.com/obelisklabs/beetle/lib/httplib"
	"github.com/obelisklabs/beetle/lib/jobs"
	"github.com/obelisklabs/beetle/lib/oauth"
	"github.com/obelisklabs/beetle/lib/render"
	"github.com/obelisklabs/beetle/lib/session"
	"github.com/obelisklabs/beetle/lib/types"
	"github.com/obelisklabs/beetle/lib/utils"
)

// Broker is the subset of the broker client the front door needs: queue
// production and per-device queue length.
type Broker interface {
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)
	HSet(ctx context.Context, key, field string, value any) error
	HGet(ctx context.Context, key, field string) (string, error)
}

// Identity is the identity-provider surface the login flow needs.
type Identity interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*types.OAuthToken, error)
	FetchProfile(ctx context.Context, accessToken string) (*oauth.Profile, error)
}

// Config holds the front door's dependencies.
type Config struct {
	// Broker is the broker session used for queue production.
	Broker Broker
	// Store is the document-store view.
	Store Store
	// Provider is the identity provider client.
	Provider Identity
	// Sessions issues and validates session cookies.
	Sessions *session.Manager
	// Secret signs envelope tokens and wrapped provider tokens.
	Secret []byte
	// UIRedirect is where the browser lands after login.
	UIRedirect string
	// Clock supplies time; defaults to the wall clock.
	Clock clockwork.Clock
	// Logger is the component logger; defaults to the global one.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Broker == nil {
		return trace.BadParameter("missing Broker")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Provider == nil {
		return trace.BadParameter("missing Provider")
	}
	if c.Sessions == nil {
		return trace.BadParameter("missing Sessions")
	}
	if len(c.Secret) == 0 {
		return trace.BadParameter("missing Secret")
	}
	if c.UIRedirect == "" {
		return trace.BadParameter("missing UIRedirect")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(beetle.ComponentKey, beetle.ComponentWeb)
	}
	return nil
}

// Handler is the front door's HTTP handler.
type Handler struct {
	*httprouter.Router

	cfg     Config
	renders *render.Queue
	jobs    *jobs.Queue
}

// NewHandler returns the front door handler with all routes bound.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	renders, err := render.NewQueue(render.QueueConfig{
		Broker: cfg.Broker,
		Secret: cfg.Secret,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	jobQueue, err := jobs.NewQueue(jobs.QueueConfig{
		Broker: cfg.Broker,
		Secret: cfg.Secret,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		Router:  httprouter.New(),
		cfg:     cfg,
		renders: renders,
		jobs:    jobQueue,
	}

	h.GET("/auth/redirect", h.authRedirect)
	h.GET("/auth/complete", h.authComplete)
	h.GET("/auth/identify", httplib.MakeHandler(h.authIdentify))
	h.POST("/device/register", httplib.MakeHandler(h.deviceRegister))
	h.POST("/device/unregister", httplib.MakeHandler(h.deviceUnregister))
	h.GET("/device/info", httplib.MakeHandler(h.deviceInfo))
	h.GET("/device/authority", httplib.MakeHandler(h.deviceAuthority))
	h.POST("/device/queue", httplib.MakeHandler(h.deviceQueue))
	h.GET("/jobs", httplib.MakeHandler(h.jobResult))
	h.GET("/status", httplib.MakeHandler(h.status))

	return h, nil
}

// authRedirect bounces the browser to the provider's authorize endpoint.
func (h *Handler) authRedirect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	state, err := utils.CryptoRandomHex(16)
	if err != nil {
		httplib.ReplyError(w, err)
		return
	}
	http.Redirect(w, r, h.cfg.Provider.AuthCodeURL(state), http.StatusFound)
}

// authComplete finishes the login: code exchange, profile fetch, user
// upsert, token persistence through the registrar, session cookie.
func (h *Handler) authComplete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if code == "" {
		httplib.ReplyError(w, trace.BadParameter("missing code"))
		return
	}
	token, err := h.cfg.Provider.Exchange(ctx, code)
	if err != nil {
		httplib.ReplyError(w, err)
		return
	}
	profile, err := h.cfg.Provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		httplib.ReplyError(w, err)
		return
	}
	user, err := h.cfg.Store.UpsertProfile(ctx, *profile)
	if err != nil {
		httplib.ReplyError(w, err)
		return
	}
	if err := h.persistToken(ctx, user.OID, token); err != nil {
		httplib.ReplyError(w, err)
		return
	}
	cookie, err := h.cfg.Sessions.Issue(user.OID, h.cfg.Clock.Now())
	if err != nil {
		httplib.ReplyError(w, err)
		return
	}
	h.cfg.Logger.InfoContext(ctx, "user logged in", "user", user.OID)
	http.SetCookie(w, cookie)
	http.Redirect(w, r, h.cfg.UIRedirect, http.StatusFound)
}

// persistToken wraps the fresh provider token and hands it to the registrar
// to store on the user. The front door never writes token material itself.
func (h *Handler) persistToken(ctx context.Context, oid string, token *types.OAuthToken) error {
	wrappedAccess, err := envelope.WrapSecret(h.cfg.Secret, token.AccessToken)
	if err != nil {
		return trace.Wrap(err)
	}
	handle := types.TokenHandle{
		Created: h.cfg.Clock.Now(),
		Token: types.OAuthToken{
			AccessToken: wrappedAccess,
			ExpiresIn:   token.ExpiresIn,
		},
	}
	if token.RefreshToken != "" {
		wrappedRefresh, err := envelope.WrapSecret(h.cfg.Secret, token.RefreshToken)
		if err != nil {
			return trace.Wrap(err)
		}
		handle.Token.RefreshToken = wrappedRefresh
	}
	_, err = h.jobs.Push(ctx, jobs.Kind{
		Name:         jobs.KindTokenRefresh,
		TokenRefresh: &jobs.TokenRefreshJob{UserID: oid, Handle: handle},
	})
	return trace.Wrap(err)
}

// currentUser resolves the session cookie to a stored user. Requests without
// a valid session read as "no user here" rather than "forbidden".
func (h *Handler) currentUser(r *http.Request) (*types.User, error) {
	oid, err := h.cfg.Sessions.Parse(r, h.cfg.Clock.Now())
	if err != nil {
		return nil, trace.NotFound("no session")
	}
	user, err := h.cfg.Store.GetUser(r.Context(), oid)
	return user, trace.Wrap(err)
}

func (h *Handler) authIdentify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	user, err := h.currentUser(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// Token material stays server-side even in wrapped form.
	out := *user
	out.LatestToken = nil
	return out, nil
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) deviceRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	user, err := h.currentUser(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req deviceRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.DeviceID == "" {
		return nil, trace.BadParameter("missing device_id")
	}
	id, err := h.jobs.Push(r.Context(), jobs.Kind{
		Name:      jobs.KindOwnership,
		Ownership: &jobs.OwnershipJob{UserID: user.OID, DeviceID: req.DeviceID},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"id": id}, nil
}

func (h *Handler) deviceUnregister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	user, err := h.currentUser(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req deviceRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.DeviceID == "" {
		return nil, trace.BadParameter("missing device_id")
	}
	if !user.HoldsDevice(req.DeviceID) {
		return nil, trace.BadParameter("device %q is not registered to you", req.DeviceID)
	}
	if err := h.cfg.Store.RemoveUserDevice(r.Context(), user.OID, req.DeviceID); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

// deviceInfo is the diagnostic view: liveness, nickname, counters, the
// pending queue depth, and the visible message list.
type deviceInfo struct {
	ID                string             `json:"id"`
	FirstSeen         time.Time          `json:"first_seen"`
	LastSeen          time.Time          `json:"last_seen"`
	Nickname          string             `json:"nickname,omitempty"`
	SentMessageCount  int64              `json:"sent_message_count"`
	CurrentQueueCount int64              `json:"current_queue_count"`
	SentMessages      []types.StateEntry `json:"sent_messages"`
}

func (h *Handler) deviceInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	if _, err := h.currentUser(r); err != nil {
		return nil, trace.Wrap(err)
	}
	deviceID := r.URL.Query().Get("id")
	if deviceID == "" {
		return nil, trace.BadParameter("missing id")
	}
	ctx := r.Context()
	diagnostic, err := h.cfg.Store.GetDiagnostic(ctx, deviceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	queueCount, err := h.cfg.Broker.LLen(ctx, defaults.DeviceQueueKey(deviceID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	info := deviceInfo{
		ID:                diagnostic.ID,
		FirstSeen:         diagnostic.FirstSeen,
		LastSeen:          diagnostic.LastSeen,
		Nickname:          diagnostic.Nickname,
		SentMessageCount:  diagnostic.SentMessageCount,
		CurrentQueueCount: queueCount,
		SentMessages:      []types.StateEntry{},
	}
	state, err := h.cfg.Store.GetDeviceState(ctx, deviceID)
	switch {
	case err == nil && state.Rendering != nil:
		info.SentMessages = state.Rendering.Entries
	case err != nil && !trace.IsNotFound(err):
		return nil, trace.Wrap(err)
	}
	return info, nil
}

func (h *Handler) deviceAuthority(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	if _, err := h.currentUser(r); err != nil {
		return nil, trace.Wrap(err)
	}
	deviceID := r.URL.Query().Get("id")
	if deviceID == "" {
		return nil, trace.BadParameter("missing id")
	}
	authority, err := h.cfg.Store.GetAuthority(r.Context(), deviceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return authority, nil
}

type queueRequest struct {
	DeviceID string    `json:"device_id"`
	Kind     QueueKind `json:"kind"`
}

func (h *Handler) deviceQueue(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	user, err := h.currentUser(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req queueRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.DeviceID == "" {
		return nil, trace.BadParameter("missing device_id")
	}
	if req.Kind.Name == "" {
		return nil, trace.BadParameter("missing kind")
	}
	if _, err := h.checkDeviceAccess(r.Context(), user, req.DeviceID); err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := h.dispatchQueue(r.Context(), user, req.DeviceID, req.Kind)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"id": id}, nil
}

// checkDeviceAccess consults the authority record when one exists and falls
// back to the user's own device map for devices claimed before authority
// records were written. A granted check reports the access level alongside.
func (h *Handler) checkDeviceAccess(ctx context.Context, user *types.User, deviceID string) (types.AccessLevel, error) {
	authority, err := h.cfg.Store.GetAuthority(ctx, deviceID)
	switch {
	case err == nil:
		level, err := authority.AuthorityModel.Access(user.OID)
		if err != nil {
			return "", trace.AccessDenied("no access to device %q", deviceID)
		}
		return level, nil
	case trace.IsNotFound(err):
		if !user.HoldsDevice(deviceID) {
			return "", trace.AccessDenied("no access to device %q", deviceID)
		}
		return types.AccessLevelAll, nil
	}
	return "", trace.Wrap(err)
}

// dispatchQueue turns a queue request into a render push or a registrar job
// and returns the id the caller can poll on the jobs endpoint.
func (h *Handler) dispatchQueue(ctx context.Context, user *types.User, deviceID string, kind QueueKind) (string, error) {
	pushRender := func(variant render.Variant) (string, error) {
		id, _, err := h.renders.Push(ctx, deviceID, render.UserAuthority(user.Name), variant)
		return id, trace.Wrap(err)
	}

	switch kind.Name {
	case QueueLights:
		return pushRender(render.LightingVariant(kind.Flag))
	case QueueLink:
		return pushRender(render.LayoutVariant(render.ScannableLayout(kind.Text)))
	case QueueAway:
		return pushRender(render.LayoutVariant(render.MessageLayout("Busy")))
	case QueueMessage:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name: jobs.KindMutateState,
			MutateState: &jobs.MutateStateJob{
				DeviceID: deviceID,
				Transition: types.StateTransition{
					Transition: types.TransitionPushMessage,
					Content:    kind.Text,
					Origin:     types.UserOrigin(user.Name),
				},
			},
		})
		return id, trace.Wrap(err)
	case QueueClear:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name: jobs.KindMutateState,
			MutateState: &jobs.MutateStateJob{
				DeviceID:   deviceID,
				Transition: types.StateTransition{Transition: types.TransitionClear},
			},
		})
		return id, trace.Wrap(err)
	case QueueRename:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name:   jobs.KindRename,
			Rename: &jobs.RenameJob{DeviceID: deviceID, NewName: kind.Text},
		})
		return id, trace.Wrap(err)
	case QueueRegistration:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name:   jobs.KindRender,
			Render: &jobs.RenderRequest{Kind: jobs.RenderRegistrationScannable, DeviceID: deviceID},
		})
		return id, trace.Wrap(err)
	case QueueMakePublic, QueueMakePrivate:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name: jobs.KindOwnershipChange,
			OwnershipChange: &jobs.OwnershipChangeJob{
				DeviceID:   deviceID,
				MakePublic: kind.Name == QueueMakePublic,
			},
		})
		return id, trace.Wrap(err)
	case QueueSchedule:
		id, err := h.jobs.Push(ctx, jobs.Kind{
			Name: jobs.KindToggleSchedule,
			ToggleSchedule: &jobs.ToggleScheduleJob{
				UserID:       user.OID,
				DeviceID:     deviceID,
				ShouldEnable: kind.Flag,
			},
		})
		return id, trace.Wrap(err)
	}
	return "", trace.BadParameter("unknown queue request %q", kind.Name)
}

func (h *Handler) jobResult(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		return nil, trace.BadParameter("missing id")
	}
	result, err := h.jobs.Result(r.Context(), jobID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	return map[string]any{
		"version":   beetle.Version,
		"timestamp": h.cfg.Clock.Now().UTC(),
	}, nil
}
