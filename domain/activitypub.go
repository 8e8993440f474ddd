package domain

import (
	"time"

	"github.com/google/uuid"
)

// Actor types as declared by the remote actor document
const (
	ActorPerson      = "Person"
	ActorService     = "Service"
	ActorGroup       = "Group"
	ActorApplication = "Application"
)

// Account represents a local or federated actor.
// Domain is empty for local accounts.
type Account struct {
	Id               uuid.UUID
	Username         string
	Domain           string
	URI              string // ActivityPub actor id
	URL              string // Profile page
	InboxURI         string
	SharedInboxURI   string
	OutboxURI        string
	FollowersURI     string
	FeaturedURI      string
	PublicKeyPem     string
	PrivateKeyPem    string // Only set for local accounts
	DisplayName      string
	ActorType        string
	Locked           bool
	Silenced         bool
	Suspended        bool
	InstanceActor    bool
	MovedToAccountId *uuid.UUID
	AlsoKnownAs      []string
	LastFetchedAt    time.Time
	CreatedAt        time.Time
}

// IsLocal reports whether the account belongs to this server
func (a *Account) IsLocal() bool {
	return a.Domain == ""
}

// IsGroup reports whether the actor is a group actor
func (a *Account) IsGroup() bool {
	return a.ActorType == ActorGroup
}

// Acct returns user or user@domain
func (a *Account) Acct() string {
	if a.IsLocal() {
		return a.Username
	}
	return a.Username + "@" + a.Domain
}

// DeliveryInbox prefers the shared inbox when the remote server advertises one
func (a *Account) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

// DomainBlock is a local account hiding a whole remote domain
type DomainBlock struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	Domain    string
	CreatedAt time.Time
}

// FollowState is the lifecycle of a follow or membership request
type FollowState string

const (
	FollowRequested FollowState = "requested"
	FollowAccepted  FollowState = "accepted"
	FollowRejected  FollowState = "rejected"
)

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // The follower
	TargetAccountId uuid.UUID // The account being followed
	URI             string    // ActivityPub Follow activity URI, used for correlation
	State           FollowState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the edge still counts as requested or following
func (f *Follow) Active() bool {
	return f.State == FollowRequested || f.State == FollowAccepted
}

// Block represents an account blocking another account
type Block struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	TargetAccountId uuid.UUID
	URI             string
	CreatedAt       time.Time
}

// Activity represents an inbound ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
}

// DeliveryQueueItem represents an item in the outbound delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	AccountId    uuid.UUID // Local account whose key signs the delivery
	InboxURI     string
	ActivityJSON string // The complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// RelayState is the lifecycle of a relay subscription
type RelayState string

const (
	RelayPending  RelayState = "pending"
	RelayAccepted RelayState = "accepted"
	RelayRejected RelayState = "rejected"
)

// Relay represents an ActivityPub relay subscription
type Relay struct {
	Id               uuid.UUID
	InboxURI         string // The relay's inbox URI for delivering activities
	FollowActivityId string // The URI of our Follow activity, echoed back in Accept/Reject
	State            RelayState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
