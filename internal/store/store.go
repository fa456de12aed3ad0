// Package store abstracts the key-path addressable document store the
// coordinator uses as its system of record. Paths are slash-separated
// (trips/{id}, users/{id}/activeTrip); list paths hold generated-key
// children. Implementations must make ConditionalUpdate atomic with respect
// to concurrent writers on the same path.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Read for an absent path.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by ConditionalUpdate when the stored value
	// changed between read and commit. Callers retry a bounded number of
	// times.
	ErrConflict = errors.New("store: conditional update conflict")
)

// Snapshot is one delivery on a value subscription. Consumers receive the
// full replacement value every time; Exists=false means the path is absent,
// which is a valid state and not an error.
type Snapshot struct {
	Value  json.RawMessage
	Exists bool
}

// ListItem is one keyed child of a list path, delivered in key order.
type ListItem struct {
	Key   string
	Value json.RawMessage
}

// UpdateFn transforms the current value at a path into the new value. It is
// called with exists=false when the path is absent. Returning a non-nil
// error aborts the update without mutating anything; the error is returned
// to the caller unchanged.
type UpdateFn func(current json.RawMessage, exists bool) (json.RawMessage, error)

// Store is the narrow persistence interface consumed by the coordinator.
type Store interface {
	Read(ctx context.Context, path string) (json.RawMessage, error)
	Write(ctx context.Context, path string, value json.RawMessage) error
	// Update merges the given fields into the JSON object stored at path.
	Update(ctx context.Context, path string, fields map[string]json.RawMessage) error
	// Remove deletes the path. Removing an absent path is a no-op.
	Remove(ctx context.Context, path string) error
	// AppendChild stores value under a freshly generated, time-ordered key
	// beneath listPath and returns the key.
	AppendChild(ctx context.Context, listPath string, value json.RawMessage) (string, error)
	// List returns all children of listPath in key order.
	List(ctx context.Context, listPath string) ([]ListItem, error)
	// SubscribeValue delivers the current value immediately, then a new
	// snapshot after every change, until cancel is called. Slow consumers
	// see only the latest snapshot.
	SubscribeValue(ctx context.Context, path string) (<-chan Snapshot, func(), error)
	// SubscribeList behaves like SubscribeValue for list paths, delivering
	// full ordered snapshots of the children.
	SubscribeList(ctx context.Context, listPath string) (<-chan []ListItem, func(), error)
	// ConditionalUpdate applies fn to the value at path atomically. It
	// returns ErrConflict if a concurrent writer interleaved, or the error
	// returned by fn without mutating anything.
	ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) error
}

// Path helpers for the persisted layout shared by the coordinator, the
// notifier, and the front-end stream handlers.

func TripPath(tripID string) string       { return "trips/" + tripID }
func PassengersPath(tripID string) string { return "trips/" + tripID + "/passengers" }
func PassengerPath(tripID, entryKey string) string {
	return "trips/" + tripID + "/passengers/" + entryKey
}
func ActiveTripPath(userID string) string    { return "users/" + userID + "/activeTrip" }
func NotificationsPath(userID string) string { return "users/" + userID + "/notifications" }

// ParentPath returns the list path a child key lives under.
func ParentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// NewPushKey generates a child key that sorts by creation time, with a
// random suffix to keep concurrent appends distinct.
func NewPushKey(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%013x-%s", now.UnixMilli(), hex.EncodeToString(b))
}

// Marshal is a small helper for writing typed records.
func Marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
