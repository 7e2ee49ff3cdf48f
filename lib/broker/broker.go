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

// Package broker wraps a single authenticated session with the message
// broker. Each worker owns its own session; on command failure the worker
// drops the session and redials on its next tick, re-authenticating through
// the configured credentials.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// Config holds the connection parameters of a broker session.
type Config struct {
	// Addr is the host:port of the broker.
	Addr string
	// Username is the ACL principal to authenticate as; empty means the
	// default user.
	Username string
	// Password authenticates the session.
	Password string
	// TLS, when set, wraps the connection.
	TLS *tls.Config
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing broker Addr")
	}
	return nil
}

// Client is a single connected broker session. It is not safe for concurrent
// use; each worker owns one.
type Client struct {
	cfg Config
	rdb *redis.Client
}

// Connect dials and authenticates a new broker session, verifying liveness
// with a ping before returning.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Username:  cfg.Username,
		Password:  cfg.Password,
		TLSConfig: cfg.TLS,
		// workers redial themselves; a failed command should surface
		// rather than be retried behind their back
		MaxRetries: -1,
	})
	clt := &Client{cfg: cfg, rdb: rdb}
	if err := clt.Ping(ctx); err != nil {
		rdb.Close()
		return nil, trace.Wrap(err)
	}
	return clt, nil
}

// Ping round-trips the session.
func (c *Client) Ping(ctx context.Context) error {
	return convertError(c.rdb.Ping(ctx).Err())
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return trace.Wrap(c.rdb.Close())
}

// LPush prepends values to the list at key and returns the resulting length.
func (c *Client) LPush(ctx context.Context, key string, values ...any) (int64, error) {
	n, err := c.rdb.LPush(ctx, key, values...).Result()
	return n, convertError(err)
}

// RPush appends values to the list at key and returns the resulting length.
func (c *Client) RPush(ctx context.Context, key string, values ...any) (int64, error) {
	n, err := c.rdb.RPush(ctx, key, values...).Result()
	return n, convertError(err)
}

// LPop removes and returns the first element of the list at key. An empty
// list returns a NotFound error.
func (c *Client) LPop(ctx context.Context, key string) (string, error) {
	out, err := c.rdb.LPop(ctx, key).Result()
	return out, convertError(err)
}

// BLPop blocks up to timeout for the first element of the list at key. A
// timeout with no element returns a NotFound error.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	out, err := c.rdb.BLPop(ctx, timeout, key).Result()
	if err != nil {
		return "", convertError(err)
	}
	// BLPOP replies [key, value]
	if len(out) != 2 {
		return "", trace.BadParameter("unexpected BLPOP reply of %d elements", len(out))
	}
	return out[1], nil
}

// LRange returns the elements of the list at key in the inclusive range
// [start, stop].
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	out, err := c.rdb.LRange(ctx, key, start, stop).Result()
	return out, convertError(err)
}

// LLen returns the length of the list at key.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	return n, convertError(err)
}

// LTrim trims the list at key to the inclusive range [start, stop]. A start
// beyond stop empties the list; the stale-eviction path relies on that
// documented idiom.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	return convertError(c.rdb.LTrim(ctx, key, start, stop).Err())
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return convertError(c.rdb.Del(ctx, keys...).Err())
}

// SAdd adds members to the set at key.
func (c *Client) SAdd(ctx context.Context, key string, members ...any) error {
	return convertError(c.rdb.SAdd(ctx, key, members...).Err())
}

// SRem removes members from the set at key.
func (c *Client) SRem(ctx context.Context, key string, members ...any) error {
	return convertError(c.rdb.SRem(ctx, key, members...).Err())
}

// SIsMember reports membership of member in the set at key.
func (c *Client) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, key, member).Result()
	return ok, convertError(err)
}

// SMembers returns all members of the set at key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	return members, convertError(err)
}

// HGet returns the value of field in the hash at key.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	out, err := c.rdb.HGet(ctx, key, field).Result()
	return out, convertError(err)
}

// HSet stores field=value in the hash at key.
func (c *Client) HSet(ctx context.Context, key, field string, value any) error {
	return convertError(c.rdb.HSet(ctx, key, field, value).Err())
}

// ACLSetUser creates or updates an ACL principal with the given rules.
func (c *Client) ACLSetUser(ctx context.Context, user string, rules ...string) error {
	args := make([]any, 0, len(rules)+3)
	args = append(args, "acl", "setuser", user)
	for _, rule := range rules {
		args = append(args, rule)
	}
	return convertError(c.rdb.Do(ctx, args...).Err())
}

// ACLDelUser removes an ACL principal.
func (c *Client) ACLDelUser(ctx context.Context, user string) error {
	return convertError(c.rdb.Do(ctx, "acl", "deluser", user).Err())
}

// ACLList returns the broker's ACL entries, one rule string per principal.
func (c *Client) ACLList(ctx context.Context) ([]string, error) {
	out, err := c.rdb.Do(ctx, "acl", "list").StringSlice()
	return out, convertError(err)
}

// convertError maps go-redis errors onto the trace taxonomy: empty replies
// become NotFound, socket failures become ConnectionProblem, anything else
// an unexpected reply shape.
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return trace.NotFound("no element")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return trace.ConnectionProblem(err, "broker command interrupted")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return trace.ConnectionProblem(err, "broker connection failed")
	}
	return trace.BadParameter("broker command failed: %v", err)
}
