package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope is the tenant/project identifier. Every key and every query is
// partitioned by Scope; no component may scan across scopes except explicit
// administrative cleanup paths.
type Scope string

// ID is the stable identifier of an entity within a scope.
type ID string

// NewID mints a fresh entity identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Kind names an entity family.
type Kind string

const (
	KindAccount    Kind = "account"
	KindUser       Kind = "user"
	KindIdea       Kind = "idea"
	KindComment    Kind = "comment"
	KindEngagement Kind = "engagement"
	KindSession    Kind = "session"
	KindCounter    Kind = "counter"
)

// Key is the composite primary-store key (scope, entityId).
type Key struct {
	Scope Scope
	Kind  Kind
	ID    ID
}

// String returns the canonical wire form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Scope, k.Kind, k.ID)
}

// ActionClass distinguishes the idempotent user actions guarded by the
// membership filter.
type ActionClass string

const (
	ActionVote    ActionClass = "vote"
	ActionFund    ActionClass = "fund"
	ActionExpress ActionClass = "express"
)

// Account is a billing/tenancy root. One account owns one scope.
type Account struct {
	Scope     Scope     `json:"scope"`
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	OwnerID   ID        `json:"owner_id"`
	Plan      string    `json:"plan"`
	Suspended bool      `json:"suspended"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a member of a scope. The Filters map carries one serialized
// membership filter per action class, recording which targets this user has
// already voted on / funded / reacted to.
type User struct {
	Scope       Scope     `json:"scope"`
	ID          ID        `json:"id"`
	Handle      string    `json:"handle"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`

	Filters map[ActionClass][]byte `json:"filters,omitempty"`
}

// Idea is a piece of user-submitted content ranked and funded by the
// community.
type Idea struct {
	Scope     Scope     `json:"scope"`
	ID        ID        `json:"id"`
	AuthorID  ID        `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Aggregates, updated only via atomic increments.
	Funded    int64 `json:"funded"`
	Votes     int64 `json:"votes"`
	Reactions int64 `json:"reactions"`
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}

// Tally returns the (positive, negative) vote pair used for ranking.
func (i *Idea) Tally() (positive, negative int64) {
	return i.Upvotes, i.Downvotes
}

// Comment is a threaded reply on an idea, ranked by the Wilson lower bound
// of its vote tally.
type Comment struct {
	Scope     Scope     `json:"scope"`
	ID        ID        `json:"id"`
	IdeaID    ID        `json:"idea_id"`
	AuthorID  ID        `json:"author_id"`
	ParentID  ID        `json:"parent_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`

	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}

// Tally returns the (positive, negative) vote pair used for ranking.
func (c *Comment) Tally() (positive, negative int64) {
	return c.Upvotes, c.Downvotes
}

// Engagement records one idempotent user action (vote, fund, express)
// against a target. Its ID is derived from (actor, action, target) so a
// repeat of the same logical action maps to the same key.
type Engagement struct {
	Scope     Scope       `json:"scope"`
	ID        ID          `json:"id"`
	ActorID   ID          `json:"actor_id"`
	TargetID  ID          `json:"target_id"`
	Action    ActionClass `json:"action"`
	Amount    int64       `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// EngagementID derives the deterministic engagement key for an
// (actor, action, target) triple.
func EngagementID(actor ID, action ActionClass, target ID) ID {
	return ID(fmt.Sprintf("%s:%s:%s", actor, action, target))
}

// Session is an authenticated login session for a user. Sessions are
// enumerated and cascade-deleted when an account is revoked.
type Session struct {
	Scope     Scope     `json:"scope"`
	ID        ID        `json:"id"`
	UserID    ID        `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
