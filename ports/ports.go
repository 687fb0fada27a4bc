// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers for records and versions.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Collaborator Ports
// -----------------------------------------------------------------------------

// Session is a resolved user session. The transport that delivers the
// session identifier (cookie, header) is outside this layer.
type Session struct {
	// ID is the opaque session identifier.
	ID string

	// AccountID is the signed-in account, empty when anonymous.
	AccountID string

	// PreviousURL is the last page the session visited.
	PreviousURL string

	// Tags are arbitrary labels attached to the session, used for
	// realtime scoping.
	Tags []string
}

// SignedIn reports whether the session carries an account.
func (s Session) SignedIn() bool {
	return s.AccountID != ""
}

// SessionResolver resolves opaque session identifiers to sessions.
type SessionResolver interface {
	// Resolve returns the session for a token. A nil session with a
	// nil error means the token is unknown.
	Resolve(ctx context.Context, token string) (*Session, error)

	// SetPreviousURL records the last visited URL on the session.
	SetPreviousURL(ctx context.Context, token, url string) error
}

// Role is one access-control role held by an account.
type Role struct {
	Name string
}

// Action names one operation on an entity, as checked by access control
// and broadcast to realtime subscribers.
type Action string

const (
	ActionCreate         Action = "create"
	ActionRead           Action = "read"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionArchive        Action = "archive"
	ActionVersionRead    Action = "version-read"
	ActionVersionRestore Action = "version-restore"
	ActionVersionDelete  Action = "version-delete"
)

// AccessControl supplies role resolution and per-record filtering. The
// entity core calls these but does not implement role storage or rule
// evaluation.
type AccessControl interface {
	// GetRoles resolves the roles held by an account.
	GetRoles(ctx context.Context, accountID string) ([]Role, error)

	// CanDo reports whether the roles may perform the action on the
	// named entity.
	CanDo(ctx context.Context, roles []Role, entity string, action Action) (bool, error)

	// FilterAction returns, per record, only the fields the roles are
	// entitled to see or alter for the action. A record the roles may
	// not touch at all is dropped from the result.
	FilterAction(ctx context.Context, roles []Role, entity string, records []map[string]any, action Action) ([]map[string]any, error)
}

// Broadcaster fans out entity lifecycle messages to realtime
// subscribers. Delivery mechanics are out of scope; scope identifiers
// are role names and record attribute tags.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, scope []string, payload map[string]any) error
}
