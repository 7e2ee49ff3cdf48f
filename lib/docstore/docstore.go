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

// Package docstore wraps the document store behind a small typed collection
// API. Every worker owns its own Store; mutations are idempotent upserts so
// partial progress after a dropped connection is safe to repeat.
package docstore

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionNames holds the configured collection names.
type CollectionNames struct {
	Users             string `toml:"users"`
	DeviceDiagnostics string `toml:"device_diagnostics"`
	DeviceAuthorities string `toml:"device_authorities"`
	DeviceSchedules   string `toml:"device_schedules"`
	DeviceStates      string `toml:"device_states"`
	DeviceHistories   string `toml:"device_histories"`
	Migrations        string `toml:"migrations"`
}

// CheckAndSetDefaults fills empty collection names.
func (n *CollectionNames) CheckAndSetDefaults() error {
	if n.Users == "" {
		n.Users = "users"
	}
	if n.DeviceDiagnostics == "" {
		n.DeviceDiagnostics = "device_diagnostics"
	}
	if n.DeviceAuthorities == "" {
		n.DeviceAuthorities = "device_authorities"
	}
	if n.DeviceSchedules == "" {
		n.DeviceSchedules = "device_schedules"
	}
	if n.DeviceStates == "" {
		n.DeviceStates = "device_states"
	}
	if n.DeviceHistories == "" {
		n.DeviceHistories = "device_histories"
	}
	if n.Migrations == "" {
		n.Migrations = "migrations"
	}
	return nil
}

// Config holds document store connection parameters.
type Config struct {
	// URL is the store connection string.
	URL string
	// Database is the database name.
	Database string
	// Collections are the collection names used by the system.
	Collections CollectionNames
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.URL == "" {
		return trace.BadParameter("missing document store URL")
	}
	if c.Database == "" {
		return trace.BadParameter("missing document store Database")
	}
	return trace.Wrap(c.Collections.CheckAndSetDefaults())
}

// Store is a connected document store client.
type Store struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials the document store and verifies liveness.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to document store")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, trace.ConnectionProblem(err, "pinging document store")
	}
	return &Store{cfg: cfg, client: client, db: client.Database(cfg.Database)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return trace.Wrap(s.client.Disconnect(ctx))
}

// Names returns the configured collection names.
func (s *Store) Names() CollectionNames {
	return s.cfg.Collections
}

// Collection is a typed view over one store collection.
type Collection[T any] struct {
	coll *mongo.Collection
}

// NewCollection opens a typed collection by name.
func NewCollection[T any](s *Store, name string) Collection[T] {
	return Collection[T]{coll: s.db.Collection(name)}
}

// FindOne returns the first document matching filter, or a NotFound error.
func (c Collection[T]) FindOne(ctx context.Context, filter any) (*T, error) {
	var out T
	if err := c.coll.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

// FindOneAndUpdate applies update to the document matching filter, inserting
// it when absent, and returns the document as it stands after the update.
func (c Collection[T]) FindOneAndUpdate(ctx context.Context, filter, update any) (*T, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out T
	if err := c.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

// ReplaceOne replaces the document matching filter with doc, inserting it
// when absent.
func (c Collection[T]) ReplaceOne(ctx context.Context, filter any, doc T) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := c.coll.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return convertError(err)
	}
	return nil
}

// UpdateOne applies update to the first document matching filter.
func (c Collection[T]) UpdateOne(ctx context.Context, filter, update any) error {
	if _, err := c.coll.UpdateOne(ctx, filter, update); err != nil {
		return convertError(err)
	}
	return nil
}

// UpdateMany applies update to every document matching filter and returns
// the matched count.
func (c Collection[T]) UpdateMany(ctx context.Context, filter, update any) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, convertError(err)
	}
	return res.MatchedCount, nil
}

// DeleteMany removes every document matching filter and returns the deleted
// count.
func (c Collection[T]) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, convertError(err)
	}
	return res.DeletedCount, nil
}

// Find returns up to limit documents matching filter. A limit of zero means
// no bound.
func (c Collection[T]) Find(ctx context.Context, filter any, limit int64) ([]T, error) {
	opts := options.Find()
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, convertError(err)
	}
	defer cursor.Close(ctx)
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return trace.NotFound("document not found")
	case mongo.IsTimeout(err) || mongo.IsNetworkError(err):
		return trace.ConnectionProblem(err, "document store unavailable")
	}
	return trace.BadParameter("document store command failed: %v", err)
}
