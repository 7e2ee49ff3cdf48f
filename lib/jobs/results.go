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

package jobs

import (
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/obelisklabs/beetle/lib/wire"
)

// Result status variants.
const (
	// StatusPending is preset at enqueue time.
	StatusPending = "pending"

	// StatusSuccess marks a completed job.
	StatusSuccess = "success"

	// StatusFailure marks a failed job with a reason.
	StatusFailure = "failure"
)

// Success variants.
const (
	// SuccessTerminal marks a job that finished without follow-up work.
	SuccessTerminal = "terminal"

	// SuccessPercolated marks a job whose completion enqueued further
	// jobs.
	SuccessPercolated = "percolated"
)

// Success describes how a job completed.
type Success struct {
	// Kind is SuccessTerminal or SuccessPercolated.
	Kind string
	// IDs holds the percolated job ids.
	IDs []string
}

// SumEncode implements wire.Encoder.
func (s Success) SumEncode() (string, any) {
	if s.Kind == SuccessPercolated {
		return s.Kind, s.IDs
	}
	return SuccessTerminal, nil
}

// SumDecode implements wire.Decoder.
func (s *Success) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case SuccessTerminal:
		*s = Success{Kind: kind}
		return nil
	case SuccessPercolated:
		var ids []string
		if content != nil {
			if err := content.Decode(&ids); err != nil {
				return trace.Wrap(err)
			}
		}
		*s = Success{Kind: kind, IDs: ids}
		return nil
	}
	return trace.BadParameter("unknown success kind %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (s Success) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Success) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, s) }

// Result is the record written to the job-result hash. Every enqueued job
// transitions exactly once from pending to success or failure.
type Result struct {
	// Status is one of the Status* constants.
	Status string
	// Success is set for StatusSuccess.
	Success *Success
	// Reason is set for StatusFailure.
	Reason string
}

// Pending is the preset result written at enqueue time.
func Pending() Result {
	return Result{Status: StatusPending}
}

// Terminal marks a successful completion with no follow-up jobs.
func Terminal() Result {
	return Result{Status: StatusSuccess, Success: &Success{Kind: SuccessTerminal}}
}

// Percolated marks a successful completion that enqueued the given jobs.
func Percolated(ids ...string) Result {
	return Result{Status: StatusSuccess, Success: &Success{Kind: SuccessPercolated, IDs: ids}}
}

// Failed marks a failed completion.
func Failed(reason string) Result {
	return Result{Status: StatusFailure, Reason: reason}
}

// SumEncode implements wire.Encoder.
func (r Result) SumEncode() (string, any) {
	switch r.Status {
	case StatusSuccess:
		return r.Status, r.Success
	case StatusFailure:
		return r.Status, r.Reason
	}
	return StatusPending, nil
}

// SumDecode implements wire.Decoder.
func (r *Result) SumDecode(kind string, content wire.Raw) error {
	switch kind {
	case StatusPending:
		*r = Result{Status: kind}
		return nil
	case StatusSuccess:
		if content == nil {
			return trace.BadParameter("success result missing detail")
		}
		var success Success
		if err := content.Decode(&success); err != nil {
			return trace.Wrap(err)
		}
		*r = Result{Status: kind, Success: &success}
		return nil
	case StatusFailure:
		var reason string
		if content != nil {
			if err := content.Decode(&reason); err != nil {
				return trace.Wrap(err)
			}
		}
		*r = Result{Status: kind, Reason: reason}
		return nil
	}
	return trace.BadParameter("unknown result status %q", kind)
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) { return wire.MarshalJSONSum(r) }

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error { return wire.UnmarshalJSONSum(data, r) }

// SerializeResult encodes a result for storage in the job-result hash.
func SerializeResult(r Result) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(raw), nil
}

// ParseResult decodes a serialized result from the job-result hash.
func ParseResult(raw string) (Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, trace.BadParameter("malformed job result: %v", err)
	}
	return result, nil
}
