package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a background job family
type Kind string

const (
	KindNotify          Kind = "notify"
	KindDistribute      Kind = "distribute"
	KindDeliver         Kind = "deliver"
	KindRedownloadMedia Kind = "redownload_media"
	KindResolveThread   Kind = "resolve_thread"
	KindFetchReplies    Kind = "fetch_replies"
	KindMoveFollower    Kind = "move_follower"
	KindRefreshAccount  Kind = "refresh_account"
	KindRefreshPoll     Kind = "refresh_poll"
)

// Task is a fire-and-forget unit of work submitted after a handler commits.
// Which fields are meaningful depends on Kind.
type Task struct {
	Kind             Kind
	AccountId        uuid.UUID // Subject: recipient of a notification, signer of a delivery, moving follower
	FromAccountId    uuid.UUID // Originating account
	TargetId         uuid.UUID // Status, media attachment or account the task acts on
	URI              string
	Payload          []byte   // Raw JSON for deliveries
	Inboxes          []string // Delivery targets
	NotificationType string
	Delay            time.Duration
	Attempt          int
}
