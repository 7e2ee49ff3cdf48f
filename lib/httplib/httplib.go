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

// Package httplib provides the glue between httprouter handlers and the
// trace error taxonomy: handlers return a value and an error, and the
// adapter turns them into JSON responses with the right status code.
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// maxBodyBytes bounds request bodies; nothing the API accepts is large.
const maxBodyBytes = 1 << 20

// HandlerFunc is an API handler: it returns the response payload or an
// error from the trace taxonomy.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler adapts a HandlerFunc onto the router. A nil payload with a nil
// error replies {"status": "ok"}.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out == nil {
			out = map[string]string{"status": "ok"}
		}
		ReplyJSON(w, http.StatusOK, out)
	}
}

// ReadJSON decodes a request body into out, rejecting unknown fields.
func ReadJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return trace.BadParameter("failed reading request body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return trace.BadParameter("malformed request body: %v", err)
	}
	return nil
}

// ReplyJSON writes a JSON response with the given status.
func ReplyJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ReplyError maps an error from the trace taxonomy onto an HTTP status and a
// short machine-readable tag. Reasons are deliberately terse; details stay in
// the server log.
func ReplyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	tag := "internal"
	switch {
	case trace.IsBadParameter(err):
		status, tag = http.StatusUnprocessableEntity, "unprocessable"
	case trace.IsNotFound(err):
		status, tag = http.StatusNotFound, "not_found"
	case trace.IsAccessDenied(err):
		status, tag = http.StatusForbidden, "forbidden"
	case trace.IsAlreadyExists(err):
		status, tag = http.StatusConflict, "conflict"
	case trace.IsConnectionProblem(err):
		status, tag = http.StatusServiceUnavailable, "unavailable"
	case trace.IsLimitExceeded(err):
		status, tag = http.StatusTooManyRequests, "rate_limited"
	}
	ReplyJSON(w, status, map[string]string{"error": tag})
}
