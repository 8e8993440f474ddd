package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group is a local or remote group that accounts can join
type Group struct {
	Id        uuid.UUID
	AccountId uuid.UUID // The group actor
	URI       string
	InboxURI  string
	Locked    bool
	Local     bool
	CreatedAt time.Time
}

// GroupMembership follows the same requested/accepted/rejected lifecycle as Follow
type GroupMembership struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	GroupId   uuid.UUID
	URI       string
	State     FollowState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Device is a registered end-to-end encryption device of a local account
type Device struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	DeviceId  string
	Name      string
	CreatedAt time.Time
}

// EncryptedMessage is an opaque payload addressed to one local device
type EncryptedMessage struct {
	Id              uuid.UUID
	DeviceId        uuid.UUID // Local receiving device row
	FromAccountId   uuid.UUID
	FromDeviceId    string
	Type            int
	Body            string
	Digest          string
	MessageFranking string
	CreatedAt       time.Time
}
