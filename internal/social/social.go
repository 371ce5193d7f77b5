// Package social defines the user, collection and friendship store.
//
// Users are anonymous UUID identities. Each user owns one collection, an
// opaque JSON document written by the front end, which can be locked to
// hide it from friends. Friendships are symmetric.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidUserID is returned for empty or malformed user ids.
var ErrInvalidUserID = errors.New("invalid user id")

// EmptyData is the collection document of a user who never saved one.
var EmptyData = json.RawMessage(`{}`)

// Collection is a user's stored collection document.
type Collection struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
	Locked bool            `json:"locked"`
}

// Store is the interface that user/friend persistence backends must satisfy.
// Implementations must be safe for concurrent use.
type Store interface {
	// Register creates a new user with an empty collection and returns its id.
	Register(ctx context.Context) (string, error)

	// Collection returns the user's collection. A user without a stored row
	// gets EmptyData and Locked=false; this is not an error.
	Collection(ctx context.Context, userID string) (Collection, error)

	// SaveCollection stores data as the user's collection, creating the user
	// if needed. The lock flag is left unchanged.
	SaveCollection(ctx context.Context, userID string, data json.RawMessage) error

	// SetLocked sets the user's lock flag, creating the user if needed.
	SetLocked(ctx context.Context, userID string, locked bool) error

	// AddFriend records the friendship in both directions. Adding an
	// existing friendship is a no-op.
	AddFriend(ctx context.Context, me, friend string) error

	// Friends returns the ids of the user's friends, oldest first. A user
	// without friends gets an empty, non-nil slice.
	Friends(ctx context.Context, userID string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// NewUserID returns a fresh random user id.
func NewUserID() string {
	return uuid.NewString()
}

// CheckUserID rejects ids that are empty or too long to be a stored id.
// Ids are not required to be UUIDs: ids from older clients are kept as is.
func CheckUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 128 {
		return ErrInvalidUserID
	}
	return nil
}

// NormalizeData returns data if it is a JSON document, and EmptyData for an
// empty input. Invalid JSON is rejected.
func NormalizeData(data json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return EmptyData, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("collection data is not valid JSON")
	}
	return data, nil
}
