package activitypub

import (
	"context"
	"net/http"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/google/uuid"
)

// Database defines the database operations required by the ActivityPub package.
// Lookups return (nil, nil) when the record does not exist. Inserts that hit a
// uniqueness constraint return an error wrapping domain.ErrDuplicate.
type Database interface {
	// Account operations
	ReadAccountById(id uuid.UUID) (*domain.Account, error)
	ReadAccountByURI(uri string) (*domain.Account, error)
	ReadLocalAccountByUsername(username string) (*domain.Account, error)
	CreateAccount(acc *domain.Account) error
	UpdateAccount(acc *domain.Account) error
	IsDomainBlocked(accountId uuid.UUID, host string) (bool, error)

	// Follow operations
	ReadFollow(accountId, targetAccountId uuid.UUID) (*domain.Follow, error)
	ReadFollowByURI(uri string) (*domain.Follow, error)
	CreateFollow(follow *domain.Follow) error
	UpdateFollow(follow *domain.Follow) error
	DeleteFollow(id uuid.UUID) error
	ReadLocalFollowers(accountId uuid.UUID) ([]domain.Follow, error)
	HasLocalFollowers(accountId uuid.UUID) (bool, error)
	ReadRemoteFollowerInboxes(accountId uuid.UUID) ([]string, error)

	// Block operations
	ReadBlock(accountId, targetAccountId uuid.UUID) (*domain.Block, error)
	CreateBlock(block *domain.Block) error
	DeleteBlock(id uuid.UUID) error

	// Status operations
	ReadStatusById(id uuid.UUID) (*domain.Status, error)
	ReadStatusByURI(uri string) (*domain.Status, error)
	ReadReblog(accountId, statusId uuid.UUID) (*domain.Status, error)
	CreateStatus(status *domain.Status) error
	UpdateStatus(status *domain.Status) error
	DeleteStatus(id uuid.UUID) error
	TombstoneExists(uri string) (bool, error)
	CreateTombstone(tombstone *domain.Tombstone) error
	CreateStatusEdit(edit *domain.StatusEdit) error
	ReadStatusEdits(statusId uuid.UUID) ([]domain.StatusEdit, error)

	// Status attachments
	ReadMentions(statusId uuid.UUID) ([]domain.Mention, error)
	CreateMention(mention *domain.Mention) error
	UpdateMention(mention *domain.Mention) error
	FindOrCreateTag(name string) (*domain.Tag, error)
	LinkStatusTag(statusId, tagId uuid.UUID) error
	UnlinkStatusTags(statusId uuid.UUID) error
	ReadStatusTagNames(statusId uuid.UUID) ([]string, error)
	ReadCustomEmoji(shortcode, host string) (*domain.CustomEmoji, error)
	SaveCustomEmoji(emoji *domain.CustomEmoji) error
	CreateMediaAttachment(media *domain.MediaAttachment) error
	ReadMediaAttachmentById(id uuid.UUID) (*domain.MediaAttachment, error)
	ReadMediaAttachments(statusId uuid.UUID) ([]domain.MediaAttachment, error)
	UpdateMediaAttachment(media *domain.MediaAttachment) error
	DeleteMediaAttachment(id uuid.UUID) error

	// Poll operations
	ReadPollById(id uuid.UUID) (*domain.Poll, error)
	CreatePoll(poll *domain.Poll) error
	UpdatePollCounters(poll *domain.Poll) error
	DeletePoll(id uuid.UUID) error
	HasPollVote(pollId, accountId uuid.UUID) (bool, error)
	CreatePollVote(vote *domain.PollVote) error

	// Interaction operations
	ReadFavourite(accountId, statusId uuid.UUID) (*domain.Favourite, error)
	CreateFavourite(favourite *domain.Favourite) error
	DeleteFavourite(id uuid.UUID) error
	ReadEmojiReaction(accountId, statusId uuid.UUID, name string) (*domain.EmojiReaction, error)
	CreateEmojiReaction(reaction *domain.EmojiReaction) error
	DeleteEmojiReaction(id uuid.UUID) error
	RegisterTrend(statusId uuid.UUID) error

	// Quote operations
	ReadQuoteById(id uuid.UUID) (*domain.Quote, error)
	ReadQuoteByActivityURI(uri string) (*domain.Quote, error)
	CreateQuote(quote *domain.Quote) error
	UpdateQuote(quote *domain.Quote) error

	// Featured collection operations
	ReadStatusPin(accountId, statusId uuid.UUID) (*domain.StatusPin, error)
	CreateStatusPin(pin *domain.StatusPin) error
	DeleteStatusPin(id uuid.UUID) error

	// Moderation
	CreateReport(report *domain.Report) error

	// Group operations
	ReadGroupById(id uuid.UUID) (*domain.Group, error)
	ReadGroupMembership(accountId, groupId uuid.UUID) (*domain.GroupMembership, error)
	ReadGroupMembershipByURI(uri string) (*domain.GroupMembership, error)
	CreateGroupMembership(membership *domain.GroupMembership) error
	UpdateGroupMembership(membership *domain.GroupMembership) error
	DeleteGroupMembership(id uuid.UUID) error
	ReadRemoteGroupMemberInboxes(groupId uuid.UUID) ([]string, error)

	// Encrypted messaging
	ReadDevice(accountId uuid.UUID, deviceId string) (*domain.Device, error)
	CreateEncryptedMessage(message *domain.EncryptedMessage) error

	// Relay operations
	ReadRelayByFollowActivityId(activityId string) (*domain.Relay, error)
	ReadRelayByInboxURI(inboxURI string) (*domain.Relay, error)
	UpdateRelay(relay *domain.Relay) error

	// Feeds and notifications
	InsertFeedEntries(statusId uuid.UUID, accountIds []uuid.UUID) error
	CreateNotification(notification *domain.Notification) error

	// Activity operations
	CreateActivity(activity *domain.Activity) error
	UpdateActivity(activity *domain.Activity) error
	ReadActivityByURI(uri string) (*domain.Activity, error)

	// Delivery queue operations
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(id uuid.UUID) error

	// Transaction runs fn atomically; fn must only use the Database it is given
	Transaction(fn func(tx Database) error) error
}

// Fetcher dereferences remote actors, objects and media
type Fetcher interface {
	// FetchAccount fetches the actor document at uri and stores it locally
	FetchAccount(ctx context.Context, uri string) (*domain.Account, error)
	// FetchObject returns the decoded JSON document at uri
	FetchObject(ctx context.Context, uri string) (map[string]any, error)
	// DownloadMedia caches the remote file of an attachment
	DownloadMedia(ctx context.Context, media *domain.MediaAttachment) error
}

// TaskQueue accepts background work without blocking
type TaskQueue interface {
	Submit(t tasks.Task) bool
}

// MarkerStore holds short-lived coordination markers
type MarkerStore interface {
	Set(key, value string, ttl time.Duration) error
	Exists(key string) (bool, error)
	Delete(key string) error
}

// HTTPClient defines the HTTP client operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is the default HTTP client used in production
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient creates a new default HTTP client with the specified timeout
func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes the HTTP request
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
