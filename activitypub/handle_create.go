package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

// Object types ingested as statuses
var statusTypes = []string{"Note", "Question", "Article", "Page", "Image", "Video", "Audio", "Event"}

const redownloadDelay = 5 * time.Minute

const (
	// Closed polls are refetched this long after their end time
	pollRefreshGrace = time.Minute
	// Polls running longer than this are not scheduled for a final refresh
	pollRefreshHorizon = 30 * 24 * time.Hour
)

func (e *Engine) handleCreate(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	obj := env.ObjectMap()
	if obj == nil {
		uri := env.ObjectURI()
		if uri == "" || !util.SameHost(uri, actor.URI) {
			log.Printf("Inbox: Create from %s references foreign object %s", actor.URI, uri)
			return nil, nil
		}
		fetched, err := e.fetcher.FetchObject(ctx, uri)
		if err != nil {
			log.Printf("Inbox: Failed to fetch object %s: %v", uri, err)
			return nil, nil
		}
		obj = fetched
		env.Object = obj
	}

	switch {
	case hasType(obj, "EncryptedMessage"):
		return e.createEncryptedMessage(env, obj, actor, opts)
	case isVoteShaped(obj):
		handled, vote, err := e.createPollVote(ctx, obj, actor)
		if handled {
			return vote, err
		}
		return e.createStatus(ctx, env, obj, actor, opts)
	case hasType(obj, statusTypes...):
		return e.createStatus(ctx, env, obj, actor, opts)
	}

	log.Printf("Inbox: Unsupported object type %s in Create from %s", firstType(obj["type"]), actor.URI)
	return nil, nil
}

// createStatus ingests a new status or widens the audience of a known one
func (e *Engine) createStatus(ctx context.Context, env *Envelope, obj map[string]any, actor *domain.Account, opts Options) (any, error) {
	uri := stringField(obj, "id")
	if uri == "" || !util.SameHost(uri, actor.URI) {
		log.Printf("Inbox: Rejecting status %s with foreign origin from %s", uri, actor.URI)
		return nil, nil
	}

	to, cc := objectAudience(env, obj)
	parentURI := uriOf(obj["inReplyTo"])
	parent, err := e.statusFromURI(parentURI)
	if err != nil {
		return nil, err
	}

	addressed := append(append([]string{}, to...), cc...)
	for _, tag := range asMaps(obj["tag"]) {
		if hasType(tag, "Mention") {
			addressed = append(addressed, stringField(tag, "href"))
		}
	}
	related, err := e.relatedToLocalActivity(actor, addressed, parent, opts)
	if err != nil {
		return nil, err
	}
	if !related {
		log.Printf("Inbox: Ignoring status %s unrelated to local accounts", uri)
		return nil, nil
	}

	var (
		fx     effects
		status *domain.Status
	)
	err = e.locks.WithLock(ctx, "create:"+uri, func() error {
		deleted, err := e.locks.DeleteArrivedFirst(actor.Id, uri)
		if err != nil {
			return fmt.Errorf("failed to check delete marker: %w", err)
		}
		if deleted {
			log.Printf("Inbox: Delete for %s arrived before its Create", uri)
			return nil
		}
		tombstoned, err := e.db.TombstoneExists(uri)
		if err != nil {
			return fmt.Errorf("failed to check tombstone: %w", err)
		}
		if tombstoned {
			log.Printf("Inbox: Rejecting Create of deleted status %s", uri)
			return nil
		}

		existing, err := e.statusFromURI(uri)
		if err != nil {
			return err
		}
		if existing != nil {
			status, err = e.widenAudience(existing, actor, opts, &fx)
			return err
		}

		status, err = e.createNewStatus(ctx, env, obj, actor, parent, opts, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if status == nil {
		return nil, nil
	}
	return status, nil
}

// widenAudience handles a second delivery of a known status to another
// local inbox: the recipient gains access through a silent mention.
func (e *Engine) widenAudience(status *domain.Status, actor *domain.Account, opts Options, fx *effects) (*domain.Status, error) {
	if opts.DeliveredToAccountId == nil || status.AccountId != actor.Id {
		return status, nil
	}
	recipientId := *opts.DeliveredToAccountId
	mentions, err := e.db.ReadMentions(status.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read mentions: %w", err)
	}
	for _, m := range mentions {
		if m.AccountId == recipientId {
			return status, nil
		}
	}

	err = e.db.Transaction(func(tx Database) error {
		mention := &domain.Mention{
			Id:        uuid.New(),
			StatusId:  status.Id,
			AccountId: recipientId,
			Silent:    true,
			CreatedAt: e.now(),
		}
		if err := tx.CreateMention(mention); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("failed to add mention: %w", err)
		}
		if status.Visibility == domain.VisibilityDirect {
			status.Visibility = domain.VisibilityLimited
			if err := tx.UpdateStatus(status); err != nil {
				return fmt.Errorf("failed to update visibility: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	follow, err := e.db.ReadFollow(recipientId, actor.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read follow: %w", err)
	}
	if follow != nil && follow.State == domain.FollowAccepted {
		fx.distributeTo(status, recipientId)
	}
	return status, nil
}

// statusDraft is everything resolved for a new status before it is written
type statusDraft struct {
	status   *domain.Status
	audience *audience
	tags     []string
	emojis   []*domain.CustomEmoji
	media    []*domain.MediaAttachment
	poll     *domain.Poll
	quote    *domain.Quote

	// quoteKnown is set when the quote was authorized before the status arrived
	quoteKnown bool
}

func (e *Engine) createNewStatus(ctx context.Context, env *Envelope, obj map[string]any, actor *domain.Account, parent *domain.Status, opts Options, fx *effects) (*domain.Status, error) {
	uri := stringField(obj, "id")
	text, lang := contentOf(obj)
	now := e.now()

	status := &domain.Status{
		Id:           uuid.New(),
		URI:          uri,
		URL:          uriOf(obj["url"]),
		AccountId:    actor.Id,
		Text:         text,
		SpoilerText:  stringField(obj, "summary"),
		Language:     lang,
		InReplyToURI: uriOf(obj["inReplyTo"]),
		CreatedAt:    now,
	}
	if status.URL == "" {
		status.URL = uri
	}
	if sensitive, ok := obj["sensitive"].(bool); ok {
		status.Sensitive = sensitive
	}
	if !opts.OverrideTimestamps {
		if published := parseTime(stringField(obj, "published")); !published.IsZero() {
			status.CreatedAt = published
		}
		if updated := parseTime(stringField(obj, "updated")); !updated.IsZero() && updated.After(status.CreatedAt) {
			status.EditedAt = &updated
		}
	}
	if parent != nil {
		status.InReplyToId = &parent.Id
		status.InReplyToAccountId = &parent.AccountId
	}

	draft := &statusDraft{status: status}

	// Resolve mentions, hashtags and emojis
	explicit, err := e.resolveTags(ctx, obj, actor, draft)
	if err != nil {
		return nil, err
	}

	// Compute visibility and the local audience
	to, cc := objectAudience(env, obj)
	draft.audience, err = e.resolveAudience(e.db, to, cc, actor, explicit, opts)
	if err != nil {
		return nil, err
	}
	status.Visibility = draft.audience.Visibility

	// Check group membership for group posts
	if ok, err := e.resolveGroup(status, actor, to, cc, opts); err != nil || !ok {
		return nil, err
	}

	// Attach poll, quote and media
	draft.poll = e.buildPoll(obj, status)
	if err := e.resolveQuote(obj, actor, draft); err != nil {
		return nil, err
	}
	e.resolveMedia(ctx, obj, actor, draft, fx)

	// Store everything in one transaction
	err = e.db.Transaction(func(tx Database) error {
		return persistDraft(tx, draft, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Lost a race with another process; the winner owns side effects
			return e.statusFromURI(uri)
		}
		return nil, fmt.Errorf("failed to store status: %w", err)
	}
	log.Printf("Inbox: Stored status %s from %s", uri, actor.URI)

	e.statusCreated(env, obj, actor, parent, draft, opts, fx)
	return status, nil
}

func persistDraft(tx Database, d *statusDraft, now time.Time) error {
	s := d.status
	if d.poll != nil {
		s.PollId = &d.poll.Id
		if err := tx.CreatePoll(d.poll); err != nil {
			return fmt.Errorf("failed to store poll: %w", err)
		}
	}
	if d.quote != nil {
		s.QuoteId = &d.quote.Id
		d.quote.StatusId = &s.Id
		if d.quoteKnown {
			if err := tx.UpdateQuote(d.quote); err != nil {
				return fmt.Errorf("failed to link quote: %w", err)
			}
		} else if err := tx.CreateQuote(d.quote); err != nil {
			return fmt.Errorf("failed to store quote: %w", err)
		}
	}
	if err := tx.CreateStatus(s); err != nil {
		return err
	}

	for _, m := range d.audience.Mentions {
		m.Id = uuid.New()
		m.StatusId = s.Id
		m.CreatedAt = now
		if err := tx.CreateMention(m); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("failed to store mention: %w", err)
		}
	}
	for _, name := range d.tags {
		tag, err := tx.FindOrCreateTag(name)
		if err != nil {
			return fmt.Errorf("failed to store tag %s: %w", name, err)
		}
		if err := tx.LinkStatusTag(s.Id, tag.Id); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("failed to link tag %s: %w", name, err)
		}
	}
	for _, emoji := range d.emojis {
		if err := tx.SaveCustomEmoji(emoji); err != nil {
			return fmt.Errorf("failed to store emoji %s: %w", emoji.Shortcode, err)
		}
	}
	for _, media := range d.media {
		media.StatusId = s.Id
		if err := tx.CreateMediaAttachment(media); err != nil {
			return fmt.Errorf("failed to store media: %w", err)
		}
	}
	return nil
}

// statusCreated schedules everything that follows a committed status
func (e *Engine) statusCreated(env *Envelope, obj map[string]any, actor *domain.Account, parent *domain.Status, d *statusDraft, opts Options, fx *effects) {
	status := d.status

	if status.InReplyToURI != "" && parent == nil {
		fx.add(tasks.Task{Kind: tasks.KindResolveThread, TargetId: status.Id, URI: status.InReplyToURI})
	}
	if replies := uriOf(obj["replies"]); replies != "" {
		fx.add(tasks.Task{Kind: tasks.KindFetchReplies, TargetId: status.Id, URI: replies})
	}
	e.schedulePollRefresh(d.poll, status, fx)

	if e.realtime(status.CreatedAt, opts) {
		switch status.Visibility {
		case domain.VisibilityDirect, domain.VisibilityLimited:
			for _, m := range d.audience.Mentions {
				fx.distributeTo(status, m.AccountId)
			}
		default:
			fx.distribute(status)
		}
		for _, m := range d.audience.Mentions {
			if m.Silent || d.audience.Silenced[m.AccountId] {
				continue
			}
			recipient, err := e.db.ReadAccountById(m.AccountId)
			if err != nil {
				log.Printf("Inbox: Failed to read mentioned account %s: %v", m.AccountId, err)
				continue
			}
			fx.notify(recipient, actor.Id, domain.NotificationMention, &status.Id)
		}
	}

	if env.Signed && parent != nil && parent.Local && status.Visibility.Distributable() {
		e.forwardToFollowers(env, actor, parent.AccountId, fx)
	}
}

// schedulePollRefresh refetches a remote poll shortly after it closes
func (e *Engine) schedulePollRefresh(poll *domain.Poll, status *domain.Status, fx *effects) {
	if poll == nil || poll.ExpiresAt == nil {
		return
	}
	if until := poll.ExpiresAt.Sub(e.now()); until > 0 && until <= pollRefreshHorizon {
		fx.add(tasks.Task{
			Kind:     tasks.KindRefreshPoll,
			TargetId: poll.Id,
			URI:      status.URI,
			Delay:    until + pollRefreshGrace,
		})
	}
}

// forwardToFollowers relays a signed activity to the remote followers of a
// local account
func (e *Engine) forwardToFollowers(env *Envelope, actor *domain.Account, localId uuid.UUID, fx *effects) {
	inboxes, err := e.db.ReadRemoteFollowerInboxes(localId)
	if err != nil {
		log.Printf("Inbox: Failed to read follower inboxes for forwarding: %v", err)
		return
	}
	e.forwardPayload(env, localId, inboxes, actor, fx)
}

// resolveTags collects explicit mentions, hashtags and custom emojis
func (e *Engine) resolveTags(ctx context.Context, obj map[string]any, actor *domain.Account, d *statusDraft) ([]*domain.Account, error) {
	var explicit []*domain.Account
	seenTags := make(map[string]bool)

	for _, tag := range asMaps(obj["tag"]) {
		switch {
		case hasType(tag, "Mention"):
			href := stringField(tag, "href")
			if href == "" {
				continue
			}
			acc, err := e.accountFromURI(ctx, href, true)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				log.Printf("Inbox: Skipping unresolvable mention %s", href)
				continue
			}
			explicit = append(explicit, acc)

		case hasType(tag, "Hashtag"):
			name := util.NormalizeHashtag(stringField(tag, "name"))
			if ok, msg := util.IsValidHashtag(name); !ok {
				log.Printf("Inbox: Skipping hashtag %q: %s", name, msg)
				continue
			}
			if !seenTags[name] {
				seenTags[name] = true
				d.tags = append(d.tags, name)
			}

		case hasType(tag, "Emoji"):
			emoji, err := e.resolveEmoji(tag, actor)
			if err != nil {
				return nil, err
			}
			if emoji != nil {
				d.emojis = append(d.emojis, emoji)
			}
		}
	}
	return explicit, nil
}

// resolveEmoji returns the emoji to upsert, or nil when the stored copy is current
func (e *Engine) resolveEmoji(tag map[string]any, actor *domain.Account) (*domain.CustomEmoji, error) {
	shortcode := strings.Trim(stringField(tag, "name"), ":")
	icon := uriOf(tag["icon"])
	if shortcode == "" || icon == "" || actor.IsLocal() {
		return nil, nil
	}
	updated := parseTime(stringField(tag, "updated"))

	existing, err := e.db.ReadCustomEmoji(shortcode, actor.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to read emoji: %w", err)
	}
	if existing != nil && existing.ImageRemoteURL == icon &&
		(updated.IsZero() || !updated.After(existing.UpdatedAt)) {
		return nil, nil
	}

	emoji := &domain.CustomEmoji{
		Id:             uuid.New(),
		Shortcode:      shortcode,
		Domain:         actor.Domain,
		URI:            stringField(tag, "id"),
		ImageRemoteURL: icon,
		UpdatedAt:      updated,
	}
	if existing != nil {
		emoji.Id = existing.Id
	}
	if emoji.UpdatedAt.IsZero() {
		emoji.UpdatedAt = e.now()
	}
	return emoji, nil
}

// resolveGroup attaches a status delivered to a local group inbox to that
// group. Returns false when the author may not post there.
func (e *Engine) resolveGroup(status *domain.Status, actor *domain.Account, to, cc []string, opts Options) (bool, error) {
	if opts.DeliveredToGroupId == nil {
		return true, nil
	}
	group, err := e.db.ReadGroupById(*opts.DeliveredToGroupId)
	if err != nil {
		return false, fmt.Errorf("failed to read group: %w", err)
	}
	if group == nil || !group.Local {
		return true, nil
	}
	addressed := false
	for _, uri := range append(append([]string{}, to...), cc...) {
		if uri == group.URI {
			addressed = true
			break
		}
	}
	if !addressed {
		return true, nil
	}

	membership, err := e.db.ReadGroupMembership(actor.Id, group.Id)
	if err != nil {
		return false, fmt.Errorf("failed to read membership: %w", err)
	}
	if membership == nil || membership.State != domain.FollowAccepted {
		log.Printf("Inbox: %s posted to group %s without being a member", actor.URI, group.URI)
		return false, nil
	}

	status.GroupId = &group.Id
	status.Visibility = domain.VisibilityGroup
	status.ApprovalStatus = domain.ApprovalApproved
	if group.Locked {
		status.ApprovalStatus = domain.ApprovalPending
	}
	return true, nil
}

// resolveMedia downloads up to the configured number of attachments.
// Failed downloads are stored anyway and retried later.
func (e *Engine) resolveMedia(ctx context.Context, obj map[string]any, actor *domain.Account, d *statusDraft, fx *effects) {
	for _, att := range asMaps(obj["attachment"]) {
		if len(d.media) >= e.conf.Inbox.MaxMediaAttachments {
			break
		}
		url := uriOf(att["url"])
		if url == "" {
			continue
		}
		d.media = append(d.media, e.newMedia(ctx, att, url, actor, fx))
	}
}

// newMedia builds an attachment and downloads its file. A failed download
// schedules a retry.
func (e *Engine) newMedia(ctx context.Context, att map[string]any, url string, actor *domain.Account, fx *effects) *domain.MediaAttachment {
	media := &domain.MediaAttachment{
		Id:          uuid.New(),
		AccountId:   actor.Id,
		RemoteURL:   url,
		Type:        mediaTypeOf(att),
		Description: stringField(att, "name"),
		Blurhash:    stringField(att, "blurhash"),
		CreatedAt:   e.now(),
	}
	if err := e.fetcher.DownloadMedia(ctx, media); err != nil {
		log.Printf("Inbox: Failed to download %s, retrying later: %v", url, err)
		fx.add(tasks.Task{Kind: tasks.KindRedownloadMedia, TargetId: media.Id, Delay: redownloadDelay})
	} else {
		media.Downloaded = true
	}
	return media
}

func mediaTypeOf(att map[string]any) string {
	mime := stringField(att, "mediaType")
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	}
	switch firstType(att["type"]) {
	case "Image":
		return "image"
	case "Video":
		return "video"
	case "Audio":
		return "audio"
	}
	return "unknown"
}

// objectAudience prefers the object's own addressing over the activity's
func objectAudience(env *Envelope, obj map[string]any) ([]string, []string) {
	to, cc := asStrings(obj["to"]), asStrings(obj["cc"])
	if len(to) == 0 && len(cc) == 0 {
		return env.To, env.Cc
	}
	return to, cc
}
