/******************************************************************************
 *
 *  Description :
 *
 *    External session records. Sessions are issued by a separate system
 *    (a web application, typically) and validated here during the client
 *    handshake. The server never creates records, it only reads and
 *    refreshes them.
 *
 *****************************************************************************/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound - no session record for the given token, or it has expired.
	ErrNotFound = errors.New("store: session not found")
	// ErrMalformed - the stored value is not a session object.
	ErrMalformed = errors.New("store: malformed session record")
	// ErrUnavailable - the backing store could not be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Record is a session record as issued by the session-granting system.
// Known fields are promoted, everything else is kept in Extra and merged
// into the peer as-is.
type Record struct {
	User   string
	UserID string
	Group  string
	Access int
	Name   string

	Extra map[string]any
}

// Sessions is the contract between the handshake logic and the backing store.
type Sessions interface {
	// Get fetches the record for (user, token). Implementations which key
	// by token alone ignore user.
	Get(ctx context.Context, user, token string) (*Record, error)
	// Touch extends the record's lifetime by ttl.
	Touch(ctx context.Context, user, token string, ttl time.Duration) error
	Close() error
}

// Promoted record fields; everything else lands in Extra.
const (
	fieldUser   = "user"
	fieldUserID = "user_id"
	fieldGroup  = "group"
	fieldAccess = "access"
	fieldName   = "name"
)

// decodeRecord parses a raw JSON session value. Returns ErrMalformed if the
// value is not an object.
func decodeRecord(raw []byte) (*Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrMalformed
	}

	rec := &Record{Extra: make(map[string]any)}
	for k, v := range fields {
		switch k {
		case fieldUser:
			rec.User, _ = v.(string)
		case fieldUserID:
			rec.UserID, _ = v.(string)
		case fieldGroup:
			rec.Group, _ = v.(string)
		case fieldName:
			rec.Name, _ = v.(string)
		case fieldAccess:
			// encoding/json decodes numbers as float64.
			if f, ok := v.(float64); ok {
				rec.Access = int(f)
			}
		default:
			rec.Extra[k] = v
		}
	}
	return rec, nil
}
