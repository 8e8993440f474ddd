package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility of a status
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
	VisibilityLimited  Visibility = "limited"
	VisibilityGroup    Visibility = "group"
)

// Distributable reports whether the visibility allows reblogs and quotes
func (v Visibility) Distributable() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted
}

// Approval states for posts submitted to a group
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// Status is a post or a reblog
type Status struct {
	Id                 uuid.UUID
	URI                string
	URL                string
	AccountId          uuid.UUID
	Text               string
	SpoilerText        string
	Language           string
	Sensitive          bool
	Visibility         Visibility
	InReplyToId        *uuid.UUID
	InReplyToURI       string
	InReplyToAccountId *uuid.UUID
	ReblogOfId         *uuid.UUID
	PollId             *uuid.UUID
	GroupId            *uuid.UUID
	ApprovalStatus     string
	QuoteId            *uuid.UUID
	Local              bool
	CreatedAt          time.Time
	EditedAt           *time.Time
}

// IsReblog reports whether the status is an Announce wrapper
func (s *Status) IsReblog() bool {
	return s.ReblogOfId != nil
}

// StatusEdit is one revision in the edit history of a status. The first
// edit of a status also records the original revision.
type StatusEdit struct {
	Id                 uuid.UUID
	StatusId           uuid.UUID
	AccountId          uuid.UUID
	Text               string
	SpoilerText        string
	Sensitive          bool
	MediaAttachmentIds []uuid.UUID
	PollOptions        []string // Nil when the revision had no poll
	CreatedAt          time.Time
}

// Tombstone records a permanently deleted object URI
type Tombstone struct {
	Id        uuid.UUID
	URI       string
	AccountId uuid.UUID
	CreatedAt time.Time
}

// Mention links a status to an account it addresses
type Mention struct {
	Id        uuid.UUID
	StatusId  uuid.UUID
	AccountId uuid.UUID
	Silent    bool // Audience-only; no notification
	CreatedAt time.Time
}

// Tag is a normalized hashtag
type Tag struct {
	Id        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// CustomEmoji is a remote or local shortcode emoji
type CustomEmoji struct {
	Id             uuid.UUID
	Shortcode      string
	Domain         string
	URI            string
	ImageRemoteURL string
	UpdatedAt      time.Time
}

// MediaAttachment is a remote file referenced by a status
type MediaAttachment struct {
	Id          uuid.UUID
	StatusId    uuid.UUID
	AccountId   uuid.UUID
	RemoteURL   string
	Type        string
	Description string
	Blurhash    string
	Downloaded  bool
	CreatedAt   time.Time
}

// Poll attached to a status
type Poll struct {
	Id            uuid.UUID
	StatusId      uuid.UUID
	AccountId     uuid.UUID
	Options       []string
	CachedTallies []int
	Multiple      bool
	ExpiresAt     *time.Time
	VotersCount   int
	LockVersion   int
	CreatedAt     time.Time
}

// Expired reports whether the poll no longer accepts votes
func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// OptionIndex returns the index of the named option or -1
func (p *Poll) OptionIndex(name string) int {
	for i, option := range p.Options {
		if option == name {
			return i
		}
	}
	return -1
}

// PollVote is one choice cast by one account
type PollVote struct {
	Id        uuid.UUID
	PollId    uuid.UUID
	AccountId uuid.UUID
	Choice    int
	URI       string
	CreatedAt time.Time
}

// Favourite represents a Like on a status
type Favourite struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	StatusId  uuid.UUID
	URI       string
	CreatedAt time.Time
}

// EmojiReaction represents an EmojiReact on a status
type EmojiReaction struct {
	Id            uuid.UUID
	AccountId     uuid.UUID
	StatusId      uuid.UUID
	Name          string
	CustomEmojiId *uuid.UUID
	URI           string
	CreatedAt     time.Time
}

// QuoteState is the lifecycle of a quote authorization
type QuoteState string

const (
	QuotePending  QuoteState = "pending"
	QuoteAccepted QuoteState = "accepted"
	QuoteRejected QuoteState = "rejected"
)

// Quote links a quoting status to the status it quotes
type Quote struct {
	Id              uuid.UUID
	StatusId        *uuid.UUID // Nil until the quoting status is materialized locally
	QuotedStatusId  uuid.UUID
	AccountId       uuid.UUID // Author of the quoting status
	QuotedAccountId uuid.UUID
	ActivityURI     string // QuoteRequest activity id
	ApprovalURI     string
	State           QuoteState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusPin is a featured status on an actor's profile
type StatusPin struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	StatusId  uuid.UUID
	CreatedAt time.Time
}

// Report represents an inbound Flag
type Report struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // Reporter, usually the remote instance actor
	TargetAccountId uuid.UUID
	StatusIds       []uuid.UUID
	Comment         string
	URI             string
	CreatedAt       time.Time
}
