// Package blob holds out-of-band payloads that are too large to travel
// inline through the panel message channel. A producer stores the
// serialized message and sends a short-lived reference in its place; the
// consumer fetches the payload and revokes the reference.
package blob

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL bounds the lifetime of a reference nobody revoked.
const DefaultTTL = 2 * time.Minute

// ErrNotFound is returned for unknown, revoked or expired references.
var ErrNotFound = errors.New("blob: reference not found")

// Store keeps payloads behind opaque reference URLs.
type Store interface {
	// Put stores data and returns its reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Fetch returns the payload of ref.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// Revoke releases ref. Revoking an unknown ref is not an error.
	Revoke(ctx context.Context, ref string) error
}

// refID extracts the id from a reference built as prefix + id.
func refID(ref, prefix string) (string, bool) {
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	id := ref[len(prefix):]
	return id, id != ""
}
