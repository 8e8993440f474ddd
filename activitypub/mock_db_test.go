package activitypub

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// MockDatabase is an in-memory mock implementation of the Database interface for testing.
// It stores data in maps and mirrors the uniqueness rules of the sqlite schema.
type MockDatabase struct {
	mu sync.RWMutex

	// Storage maps
	Accounts        map[uuid.UUID]*domain.Account
	DomainBlocks    []domain.DomainBlock
	Follows         map[uuid.UUID]*domain.Follow
	Blocks          map[uuid.UUID]*domain.Block
	Statuses        map[uuid.UUID]*domain.Status
	Tombstones      map[string]*domain.Tombstone
	Mentions        []domain.Mention
	Tags            map[string]*domain.Tag
	StatusTags      map[uuid.UUID][]uuid.UUID
	Emojis          map[string]*domain.CustomEmoji
	Media           map[uuid.UUID]*domain.MediaAttachment
	MediaOrder      []uuid.UUID
	Edits           []domain.StatusEdit
	Polls           map[uuid.UUID]domain.Poll
	PollVotes       []domain.PollVote
	Favourites      map[uuid.UUID]*domain.Favourite
	Reactions       map[uuid.UUID]*domain.EmojiReaction
	Trends          map[uuid.UUID]int
	Quotes          map[uuid.UUID]*domain.Quote
	Pins            map[uuid.UUID]*domain.StatusPin
	Reports         []*domain.Report
	Groups          map[uuid.UUID]*domain.Group
	Memberships     map[uuid.UUID]*domain.GroupMembership
	Devices         []domain.Device
	Messages        []*domain.EncryptedMessage
	Relays          map[uuid.UUID]*domain.Relay
	Feeds           map[uuid.UUID][]uuid.UUID
	Notifications   []*domain.Notification
	Activities      map[string]*domain.Activity
	DeliveryQueue   map[uuid.UUID]*domain.DeliveryQueueItem
	Transactions    int
	pollConflicts   int
	pollUpdateErr   error
	PollUpdateCalls int
	deliveryBudget  int

	// Error injection for testing error handling
	ForceError error
}

// NewMockDatabase creates a new mock database with initialized maps
func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		Accounts:      make(map[uuid.UUID]*domain.Account),
		Follows:       make(map[uuid.UUID]*domain.Follow),
		Blocks:        make(map[uuid.UUID]*domain.Block),
		Statuses:      make(map[uuid.UUID]*domain.Status),
		Tombstones:    make(map[string]*domain.Tombstone),
		Tags:          make(map[string]*domain.Tag),
		StatusTags:    make(map[uuid.UUID][]uuid.UUID),
		Emojis:        make(map[string]*domain.CustomEmoji),
		Media:         make(map[uuid.UUID]*domain.MediaAttachment),
		Polls:         make(map[uuid.UUID]domain.Poll),
		Favourites:    make(map[uuid.UUID]*domain.Favourite),
		Reactions:     make(map[uuid.UUID]*domain.EmojiReaction),
		Trends:        make(map[uuid.UUID]int),
		Quotes:        make(map[uuid.UUID]*domain.Quote),
		Pins:          make(map[uuid.UUID]*domain.StatusPin),
		Groups:        make(map[uuid.UUID]*domain.Group),
		Memberships:   make(map[uuid.UUID]*domain.GroupMembership),
		Relays:        make(map[uuid.UUID]*domain.Relay),
		Feeds:         make(map[uuid.UUID][]uuid.UUID),
		Activities:    make(map[string]*domain.Activity),
		DeliveryQueue: make(map[uuid.UUID]*domain.DeliveryQueueItem),
	}
}

func duplicate(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrDuplicate)
}

// SetForceError sets an error to be returned by all operations
func (m *MockDatabase) SetForceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForceError = err
}

// ConflictNextPollUpdates makes the next n poll counter updates fail as stale
func (m *MockDatabase) ConflictNextPollUpdates(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollConflicts = n
}

// FailPollUpdates makes every poll counter update return err until reset with nil
func (m *MockDatabase) FailPollUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollUpdateErr = err
}

// FailDeliveriesAfter lets n more deliveries be queued and fails the rest.
// A negative n removes the limit.
func (m *MockDatabase) FailDeliveriesAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryBudget = n + 1
}

// AddAccount adds an account to the mock database
func (m *MockDatabase) AddAccount(acc *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[acc.Id] = acc
}

// AddStatus adds a status to the mock database
func (m *MockDatabase) AddStatus(s *domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[s.Id] = s
}

// AddPoll adds a poll to the mock database
func (m *MockDatabase) AddPoll(p *domain.Poll) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Polls[p.Id] = *p
}

// AddGroup adds a group to the mock database
func (m *MockDatabase) AddGroup(g *domain.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Groups[g.Id] = g
}

// AddRelay adds a relay to the mock database
func (m *MockDatabase) AddRelay(r *domain.Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Relays[r.Id] = r
}

// AddDevice adds an encryption device to the mock database
func (m *MockDatabase) AddDevice(d domain.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Devices = append(m.Devices, d)
}

// AddDomainBlock adds a domain block to the mock database
func (m *MockDatabase) AddDomainBlock(b domain.DomainBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DomainBlocks = append(m.DomainBlocks, b)
}

// CountStatusesByURI returns how many statuses share a URI
func (m *MockDatabase) CountStatusesByURI(uri string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.Statuses {
		if s.URI == uri {
			n++
		}
	}
	return n
}

// NotificationsFor returns notifications of one type received by accountId
func (m *MockDatabase) NotificationsFor(accountId uuid.UUID, typ domain.NotificationType) []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	for _, n := range m.Notifications {
		if n.AccountId == accountId && n.NotificationType == typ {
			out = append(out, n)
		}
	}
	return out
}

// Account operations

func (m *MockDatabase) ReadAccountById(id uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.Accounts[id], nil
}

func (m *MockDatabase) ReadAccountByURI(uri string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, acc := range m.Accounts {
		if acc.URI == uri {
			return acc, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) ReadLocalAccountByUsername(username string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, acc := range m.Accounts {
		if acc.IsLocal() && strings.EqualFold(acc.Username, username) {
			return acc, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateAccount(acc *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, existing := range m.Accounts {
		if existing.URI == acc.URI {
			return duplicate("account")
		}
	}
	m.Accounts[acc.Id] = acc
	return nil
}

func (m *MockDatabase) UpdateAccount(acc *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.Accounts[acc.Id] = acc
	return nil
}

func (m *MockDatabase) IsDomainBlocked(accountId uuid.UUID, host string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.DomainBlocks {
		if b.AccountId == accountId && strings.EqualFold(b.Domain, host) {
			return true, nil
		}
	}
	return false, nil
}

// Follow operations

func (m *MockDatabase) ReadFollow(accountId, targetAccountId uuid.UUID) (*domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, f := range m.Follows {
		if f.AccountId == accountId && f.TargetAccountId == targetAccountId {
			return f, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) ReadFollowByURI(uri string) (*domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, f := range m.Follows {
		if f.URI == uri {
			return f, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateFollow(follow *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, f := range m.Follows {
		if f.AccountId == follow.AccountId && f.TargetAccountId == follow.TargetAccountId {
			return duplicate("follow")
		}
	}
	m.Follows[follow.Id] = follow
	return nil
}

func (m *MockDatabase) UpdateFollow(follow *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Follows[follow.Id] = follow
	return nil
}

func (m *MockDatabase) DeleteFollow(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Follows, id)
	return nil
}

func (m *MockDatabase) localFollowers(accountId uuid.UUID) []domain.Follow {
	var out []domain.Follow
	for _, f := range m.Follows {
		if f.TargetAccountId != accountId || f.State != domain.FollowAccepted {
			continue
		}
		if follower, ok := m.Accounts[f.AccountId]; ok && follower.IsLocal() {
			out = append(out, *f)
		}
	}
	return out
}

func (m *MockDatabase) ReadLocalFollowers(accountId uuid.UUID) ([]domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localFollowers(accountId), nil
}

func (m *MockDatabase) HasLocalFollowers(accountId uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.localFollowers(accountId)) > 0, nil
}

func (m *MockDatabase) ReadRemoteFollowerInboxes(accountId uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var inboxes []string
	for _, f := range m.Follows {
		if f.TargetAccountId != accountId || f.State != domain.FollowAccepted {
			continue
		}
		follower, ok := m.Accounts[f.AccountId]
		if !ok || follower.IsLocal() {
			continue
		}
		inbox := follower.DeliveryInbox()
		if !seen[inbox] {
			seen[inbox] = true
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes, nil
}

// Block operations

func (m *MockDatabase) ReadBlock(accountId, targetAccountId uuid.UUID) (*domain.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.Blocks {
		if b.AccountId == accountId && b.TargetAccountId == targetAccountId {
			return b, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateBlock(block *domain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Blocks {
		if b.AccountId == block.AccountId && b.TargetAccountId == block.TargetAccountId {
			return duplicate("block")
		}
	}
	m.Blocks[block.Id] = block
	return nil
}

func (m *MockDatabase) DeleteBlock(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Blocks, id)
	return nil
}

// Status operations

func (m *MockDatabase) ReadStatusById(id uuid.UUID) (*domain.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.Statuses[id], nil
}

func (m *MockDatabase) ReadStatusByURI(uri string) (*domain.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, s := range m.Statuses {
		if s.URI == uri {
			return s, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) ReadReblog(accountId, statusId uuid.UUID) (*domain.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.Statuses {
		if s.AccountId == accountId && s.ReblogOfId != nil && *s.ReblogOfId == statusId {
			return s, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateStatus(status *domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, s := range m.Statuses {
		if s.URI == status.URI {
			return duplicate("status")
		}
		if status.ReblogOfId != nil && s.ReblogOfId != nil && *s.ReblogOfId == *status.ReblogOfId && s.AccountId == status.AccountId {
			return duplicate("reblog")
		}
	}
	if status.CreatedAt.IsZero() {
		status.CreatedAt = time.Now()
	}
	m.Statuses[status.Id] = status
	return nil
}

func (m *MockDatabase) UpdateStatus(status *domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[status.Id] = status
	return nil
}

func (m *MockDatabase) DeleteStatus(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Statuses, id)
	for sid, s := range m.Statuses {
		if s.ReblogOfId != nil && *s.ReblogOfId == id {
			delete(m.Statuses, sid)
		}
	}
	return nil
}

func (m *MockDatabase) CreateStatusEdit(edit *domain.StatusEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, *edit)
	return nil
}

func (m *MockDatabase) ReadStatusEdits(statusId uuid.UUID) ([]domain.StatusEdit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.StatusEdit
	for _, edit := range m.Edits {
		if edit.StatusId == statusId {
			out = append(out, edit)
		}
	}
	return out, nil
}

func (m *MockDatabase) TombstoneExists(uri string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.Tombstones[uri]
	return ok, nil
}

func (m *MockDatabase) CreateTombstone(tombstone *domain.Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Tombstones[tombstone.URI]; ok {
		return duplicate("tombstone")
	}
	m.Tombstones[tombstone.URI] = tombstone
	return nil
}

// Status attachments

func (m *MockDatabase) ReadMentions(statusId uuid.UUID) ([]domain.Mention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Mention
	for _, mention := range m.Mentions {
		if mention.StatusId == statusId {
			out = append(out, mention)
		}
	}
	return out, nil
}

func (m *MockDatabase) CreateMention(mention *domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Mentions {
		if existing.StatusId == mention.StatusId && existing.AccountId == mention.AccountId {
			return duplicate("mention")
		}
	}
	m.Mentions = append(m.Mentions, *mention)
	return nil
}

func (m *MockDatabase) UpdateMention(mention *domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Mentions {
		if m.Mentions[i].Id == mention.Id {
			m.Mentions[i].Silent = mention.Silent
		}
	}
	return nil
}

func (m *MockDatabase) FindOrCreateTag(name string) (*domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.ToLower(name)
	if tag, ok := m.Tags[name]; ok {
		return tag, nil
	}
	tag := &domain.Tag{Id: uuid.New(), Name: name, CreatedAt: time.Now()}
	m.Tags[name] = tag
	return tag, nil
}

func (m *MockDatabase) LinkStatusTag(statusId, tagId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusTags[statusId] = append(m.StatusTags[statusId], tagId)
	return nil
}

func (m *MockDatabase) UnlinkStatusTags(statusId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.StatusTags, statusId)
	return nil
}

func (m *MockDatabase) ReadStatusTagNames(statusId uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, tagId := range m.StatusTags[statusId] {
		for _, tag := range m.Tags {
			if tag.Id == tagId {
				names = append(names, tag.Name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockDatabase) ReadCustomEmoji(shortcode, host string) (*domain.CustomEmoji, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Emojis[shortcode+"@"+host], nil
}

func (m *MockDatabase) SaveCustomEmoji(emoji *domain.CustomEmoji) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emojis[emoji.Shortcode+"@"+emoji.Domain] = emoji
	return nil
}

func (m *MockDatabase) CreateMediaAttachment(media *domain.MediaAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Media[media.Id] = media
	m.MediaOrder = append(m.MediaOrder, media.Id)
	return nil
}

func (m *MockDatabase) ReadMediaAttachments(statusId uuid.UUID) ([]domain.MediaAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MediaAttachment
	for _, id := range m.MediaOrder {
		if media, ok := m.Media[id]; ok && media.StatusId == statusId {
			out = append(out, *media)
		}
	}
	return out, nil
}

func (m *MockDatabase) DeleteMediaAttachment(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Media, id)
	return nil
}

func (m *MockDatabase) ReadMediaAttachmentById(id uuid.UUID) (*domain.MediaAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Media[id], nil
}

func (m *MockDatabase) UpdateMediaAttachment(media *domain.MediaAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Media[media.Id] = media
	return nil
}

// Poll operations. Polls are stored by value so compare-and-swap is observable.

func (m *MockDatabase) ReadPollById(id uuid.UUID) (*domain.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.Polls[id]
	if !ok {
		return nil, nil
	}
	p.CachedTallies = append([]int(nil), p.CachedTallies...)
	return &p, nil
}

func (m *MockDatabase) CreatePoll(poll *domain.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *poll
	p.CachedTallies = append([]int(nil), poll.CachedTallies...)
	m.Polls[poll.Id] = p
	return nil
}

func (m *MockDatabase) UpdatePollCounters(poll *domain.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollUpdateCalls++
	if m.pollUpdateErr != nil {
		return m.pollUpdateErr
	}
	stored, ok := m.Polls[poll.Id]
	if !ok {
		return domain.ErrStaleObject
	}
	if m.pollConflicts > 0 {
		m.pollConflicts--
		stored.LockVersion++
		m.Polls[poll.Id] = stored
		return domain.ErrStaleObject
	}
	if stored.LockVersion != poll.LockVersion {
		return domain.ErrStaleObject
	}
	stored.CachedTallies = append([]int(nil), poll.CachedTallies...)
	stored.VotersCount = poll.VotersCount
	stored.ExpiresAt = poll.ExpiresAt
	stored.LockVersion++
	m.Polls[poll.Id] = stored
	poll.LockVersion++
	return nil
}

func (m *MockDatabase) DeletePoll(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Polls, id)
	votes := m.PollVotes[:0]
	for _, v := range m.PollVotes {
		if v.PollId != id {
			votes = append(votes, v)
		}
	}
	m.PollVotes = votes
	return nil
}

func (m *MockDatabase) HasPollVote(pollId, accountId uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.PollVotes {
		if v.PollId == pollId && v.AccountId == accountId {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockDatabase) CreatePollVote(vote *domain.PollVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.PollVotes {
		if v.PollId == vote.PollId && v.AccountId == vote.AccountId && v.Choice == vote.Choice {
			return duplicate("poll vote")
		}
	}
	m.PollVotes = append(m.PollVotes, *vote)
	return nil
}

// Interaction operations

func (m *MockDatabase) ReadFavourite(accountId, statusId uuid.UUID) (*domain.Favourite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.Favourites {
		if f.AccountId == accountId && f.StatusId == statusId {
			return f, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateFavourite(favourite *domain.Favourite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Favourites {
		if f.AccountId == favourite.AccountId && f.StatusId == favourite.StatusId {
			return duplicate("favourite")
		}
	}
	m.Favourites[favourite.Id] = favourite
	return nil
}

func (m *MockDatabase) DeleteFavourite(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Favourites, id)
	return nil
}

func (m *MockDatabase) ReadEmojiReaction(accountId, statusId uuid.UUID, name string) (*domain.EmojiReaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.Reactions {
		if r.AccountId == accountId && r.StatusId == statusId && r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateEmojiReaction(reaction *domain.EmojiReaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Reactions {
		if r.AccountId == reaction.AccountId && r.StatusId == reaction.StatusId && r.Name == reaction.Name {
			return duplicate("reaction")
		}
	}
	m.Reactions[reaction.Id] = reaction
	return nil
}

func (m *MockDatabase) DeleteEmojiReaction(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Reactions, id)
	return nil
}

func (m *MockDatabase) RegisterTrend(statusId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trends[statusId]++
	return nil
}

// Quote operations

func (m *MockDatabase) ReadQuoteById(id uuid.UUID) (*domain.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Quotes[id], nil
}

func (m *MockDatabase) ReadQuoteByActivityURI(uri string) (*domain.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.Quotes {
		if q.ActivityURI == uri {
			return q, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateQuote(quote *domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quote.ActivityURI != "" {
		for _, q := range m.Quotes {
			if q.ActivityURI == quote.ActivityURI {
				return duplicate("quote")
			}
		}
	}
	now := time.Now()
	quote.CreatedAt = now
	quote.UpdatedAt = now
	m.Quotes[quote.Id] = quote
	return nil
}

func (m *MockDatabase) UpdateQuote(quote *domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Quotes[quote.Id] = quote
	return nil
}

// Featured collection operations

func (m *MockDatabase) ReadStatusPin(accountId, statusId uuid.UUID) (*domain.StatusPin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.Pins {
		if p.AccountId == accountId && p.StatusId == statusId {
			return p, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateStatusPin(pin *domain.StatusPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Pins {
		if p.AccountId == pin.AccountId && p.StatusId == pin.StatusId {
			return duplicate("pin")
		}
	}
	m.Pins[pin.Id] = pin
	return nil
}

func (m *MockDatabase) DeleteStatusPin(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Pins, id)
	return nil
}

// Moderation

func (m *MockDatabase) CreateReport(report *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, report)
	return nil
}

// Group operations

func (m *MockDatabase) ReadGroupById(id uuid.UUID) (*domain.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Groups[id], nil
}

func (m *MockDatabase) ReadGroupMembership(accountId, groupId uuid.UUID) (*domain.GroupMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, gm := range m.Memberships {
		if gm.AccountId == accountId && gm.GroupId == groupId {
			return gm, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) ReadGroupMembershipByURI(uri string) (*domain.GroupMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, gm := range m.Memberships {
		if gm.URI == uri {
			return gm, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateGroupMembership(membership *domain.GroupMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gm := range m.Memberships {
		if gm.AccountId == membership.AccountId && gm.GroupId == membership.GroupId {
			return duplicate("membership")
		}
	}
	m.Memberships[membership.Id] = membership
	return nil
}

func (m *MockDatabase) UpdateGroupMembership(membership *domain.GroupMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Memberships[membership.Id] = membership
	return nil
}

func (m *MockDatabase) DeleteGroupMembership(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Memberships, id)
	return nil
}

func (m *MockDatabase) ReadRemoteGroupMemberInboxes(groupId uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var inboxes []string
	for _, gm := range m.Memberships {
		if gm.GroupId != groupId || gm.State != domain.FollowAccepted {
			continue
		}
		if acc, ok := m.Accounts[gm.AccountId]; ok && !acc.IsLocal() {
			inboxes = append(inboxes, acc.DeliveryInbox())
		}
	}
	return inboxes, nil
}

// Encrypted messaging

func (m *MockDatabase) ReadDevice(accountId uuid.UUID, deviceId string) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.Devices {
		if m.Devices[i].AccountId == accountId && m.Devices[i].DeviceId == deviceId {
			d := m.Devices[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) CreateEncryptedMessage(message *domain.EncryptedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, message)
	return nil
}

// Relay operations

func (m *MockDatabase) ReadRelayByFollowActivityId(activityId string) (*domain.Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.Relays {
		if r.FollowActivityId == activityId {
			return r, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) ReadRelayByInboxURI(inboxURI string) (*domain.Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.Relays {
		if r.InboxURI == inboxURI {
			return r, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) UpdateRelay(relay *domain.Relay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Relays[relay.Id] = relay
	return nil
}

// Feeds and notifications

func (m *MockDatabase) InsertFeedEntries(statusId uuid.UUID, accountIds []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range accountIds {
		m.Feeds[id] = append(m.Feeds[id], statusId)
	}
	return nil
}

func (m *MockDatabase) CreateNotification(notification *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, notification)
	return nil
}

// Activity operations

func (m *MockDatabase) CreateActivity(activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if _, ok := m.Activities[activity.ActivityURI]; ok {
		return duplicate("activity")
	}
	m.Activities[activity.ActivityURI] = activity
	return nil
}

func (m *MockDatabase) UpdateActivity(activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Activities[activity.ActivityURI] = activity
	return nil
}

func (m *MockDatabase) ReadActivityByURI(uri string) (*domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Activities[uri], nil
}

// Delivery queue operations

func (m *MockDatabase) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveryBudget > 0 {
		m.deliveryBudget--
		if m.deliveryBudget == 0 {
			m.deliveryBudget = 1
			return errors.New("database is locked")
		}
	}
	m.DeliveryQueue[item.Id] = item
	return nil
}

func (m *MockDatabase) ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	now := time.Now()
	var items []domain.DeliveryQueueItem
	for _, item := range m.DeliveryQueue {
		if len(items) == limit {
			break
		}
		if !item.NextRetryAt.After(now) {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (m *MockDatabase) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.DeliveryQueue[id]; ok {
		item.Attempts = attempts
		item.NextRetryAt = nextRetry
	}
	return nil
}

func (m *MockDatabase) DeleteDelivery(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.DeliveryQueue, id)
	return nil
}

// mockSnapshot holds the rows a failed transaction restores
type mockSnapshot struct {
	statuses   map[uuid.UUID]*domain.Status
	mentions   []domain.Mention
	statusTags map[uuid.UUID][]uuid.UUID
	media      map[uuid.UUID]*domain.MediaAttachment
	mediaOrder []uuid.UUID
	edits      []domain.StatusEdit
	polls      map[uuid.UUID]domain.Poll
	pollVotes  []domain.PollVote
	deliveries map[uuid.UUID]*domain.DeliveryQueueItem
}

func (m *MockDatabase) snapshot() mockSnapshot {
	snap := mockSnapshot{
		statuses:   make(map[uuid.UUID]*domain.Status, len(m.Statuses)),
		mentions:   append([]domain.Mention(nil), m.Mentions...),
		statusTags: make(map[uuid.UUID][]uuid.UUID, len(m.StatusTags)),
		media:      make(map[uuid.UUID]*domain.MediaAttachment, len(m.Media)),
		mediaOrder: append([]uuid.UUID(nil), m.MediaOrder...),
		edits:      append([]domain.StatusEdit(nil), m.Edits...),
		polls:      make(map[uuid.UUID]domain.Poll, len(m.Polls)),
		pollVotes:  append([]domain.PollVote(nil), m.PollVotes...),
		deliveries: make(map[uuid.UUID]*domain.DeliveryQueueItem, len(m.DeliveryQueue)),
	}
	for k, v := range m.Statuses {
		snap.statuses[k] = v
	}
	for k, v := range m.StatusTags {
		snap.statusTags[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range m.Media {
		snap.media[k] = v
	}
	for k, v := range m.Polls {
		snap.polls[k] = v
	}
	for k, v := range m.DeliveryQueue {
		snap.deliveries[k] = v
	}
	return snap
}

func (m *MockDatabase) restore(snap mockSnapshot) {
	m.Statuses = snap.statuses
	m.Mentions = snap.mentions
	m.StatusTags = snap.statusTags
	m.Media = snap.media
	m.MediaOrder = snap.mediaOrder
	m.Edits = snap.edits
	m.Polls = snap.polls
	m.PollVotes = snap.pollVotes
	m.DeliveryQueue = snap.deliveries
}

// Transaction runs fn against the mock itself. Status, mention, tag, media,
// edit, poll and delivery rows are rolled back when fn fails.
func (m *MockDatabase) Transaction(fn func(tx Database) error) error {
	m.mu.Lock()
	m.Transactions++
	snap := m.snapshot()
	m.mu.Unlock()

	err := fn(m)
	if err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
	}
	return err
}

var _ Database = (*MockDatabase)(nil)
