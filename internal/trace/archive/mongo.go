// Package archive holds optional trace.Sink implementations that mirror
// traces somewhere beyond the mandatory session JSONL file, for querying
// historical traces across sessions and projects.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/colliery-io/muninn/internal/trace"
)

const (
	defaultCollection = "request_traces"
	defaultTimeout    = 5 * time.Second
)

// MongoArchiver mirrors each finalized RequestTrace into a MongoDB
// collection for cross-session querying, supplementing (never replacing)
// the mandatory JSONLWriter.
type MongoArchiver struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// Options configures a MongoArchiver.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// New constructs a MongoArchiver backed by the provided Mongo client.
func New(opts Options) (*MongoArchiver, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("archive: mongo client is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("archive: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "trace_id", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("archive: create trace_id index: %w", err)
	}

	return &MongoArchiver{coll: coll, timeout: timeout}, nil
}

// traceDocument mirrors trace.RequestTrace into the BSON shape stored in
// Mongo; kept distinct from the JSONL wire struct so a schema change in one
// sink doesn't silently alter the other.
type traceDocument struct {
	TraceID         string    `bson:"trace_id"`
	Timestamp       time.Time `bson:"timestamp"`
	RouterRoute     string    `bson:"router_route,omitempty"`
	TerminatedBy    string    `bson:"terminated_by,omitempty"`
	TotalDurationMS int64     `bson:"total_duration_ms"`
}

// Write inserts rt as a document. A trace-write failure must never fail
// the request; callers log the returned error and move on.
func (a *MongoArchiver) Write(rt trace.RequestTrace) error {
	doc := traceDocument{
		TraceID:         rt.TraceID,
		Timestamp:       rt.Timestamp,
		TerminatedBy:    string(rt.TerminatedByRoot),
		TotalDurationMS: rt.TotalDurationMS,
	}
	if rt.RouterDecision != nil {
		doc.RouterRoute = rt.RouterDecision.Route
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("archive: insert trace %q: %w", rt.TraceID, err)
	}
	return nil
}
