package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

func (e *Engine) handleUpdate(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	uri := env.ObjectURI()
	if uri == actor.URI {
		var fx effects
		fx.add(tasks.Task{Kind: tasks.KindRefreshAccount, TargetId: actor.Id, URI: actor.URI})
		e.flush(&fx)
		return actor, nil
	}
	obj := env.ObjectMap()
	if obj == nil || !hasType(obj, statusTypes...) || !util.SameHost(uri, actor.URI) {
		return nil, nil
	}

	var (
		fx     effects
		status *domain.Status
	)
	err := e.locks.WithLock(ctx, "create:"+uri, func() error {
		found, err := e.statusFromURI(uri)
		if err != nil {
			return err
		}
		if found == nil || found.AccountId != actor.Id {
			return nil
		}
		status = found

		// Without a newer updated timestamp only poll tallies may change
		updated := parseTime(stringField(obj, "updated"))
		if updated.IsZero() || (found.EditedAt != nil && !updated.After(*found.EditedAt)) {
			return e.refreshUnchangedPoll(found, obj)
		}
		return e.editStatus(ctx, found, obj, actor, updated, &fx)
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

// refreshUnchangedPoll copies tallies from an implicit update, as long as the
// poll still has the same options
func (e *Engine) refreshUnchangedPoll(status *domain.Status, obj map[string]any) error {
	if status.PollId == nil || !hasType(obj, "Question") {
		return nil
	}
	poll, err := e.db.ReadPollById(*status.PollId)
	if err != nil {
		return fmt.Errorf("failed to read poll: %w", err)
	}
	if poll == nil {
		return nil
	}
	options, _, _ := pollOptions(obj)
	if !slices.Equal(options, poll.Options) {
		log.Printf("Inbox: Ignoring poll options changed without an edit on %s", status.URI)
		return nil
	}
	return e.refreshPoll(poll.Id, obj)
}

// editStatus applies an explicit edit and records the revision history
func (e *Engine) editStatus(ctx context.Context, status *domain.Status, obj map[string]any, actor *domain.Account, updated time.Time, fx *effects) error {
	text, _ := contentOf(obj)
	spoiler := stringField(obj, "summary")
	sensitive := status.Sensitive
	if s, ok := obj["sensitive"].(bool); ok {
		sensitive = s
	}

	draft := &statusDraft{status: status}
	explicit, err := e.resolveTags(ctx, obj, actor, draft)
	if err != nil {
		return err
	}

	// Match attachments by URL so known files are not downloaded again
	oldMedia, err := e.db.ReadMediaAttachments(status.Id)
	if err != nil {
		return fmt.Errorf("failed to read media: %w", err)
	}
	media := e.reviseMedia(ctx, oldMedia, obj, actor, fx)
	mediaEdited := mediaChanged(oldMedia, media)

	var oldPoll *domain.Poll
	if status.PollId != nil {
		if oldPoll, err = e.db.ReadPollById(*status.PollId); err != nil {
			return fmt.Errorf("failed to read poll: %w", err)
		}
	}
	newPoll := e.buildPoll(obj, status)
	pollEdited := !samePoll(oldPoll, newPoll)
	if !pollEdited {
		newPoll = oldPoll
	}

	changed := text != status.Text || spoiler != status.SpoilerText ||
		sensitive != status.Sensitive || mediaEdited || pollEdited

	var added []uuid.UUID
	err = e.db.Transaction(func(tx Database) error {
		// Record the original revision before the first edit
		if changed {
			edits, err := tx.ReadStatusEdits(status.Id)
			if err != nil {
				return fmt.Errorf("failed to read edits: %w", err)
			}
			if len(edits) == 0 {
				at := status.CreatedAt
				if status.EditedAt != nil {
					at = *status.EditedAt
				}
				ids := make([]uuid.UUID, 0, len(oldMedia))
				for _, m := range oldMedia {
					ids = append(ids, m.Id)
				}
				if err := e.recordRevision(tx, status, ids, oldPoll, at); err != nil {
					return err
				}
			}
		}

		// Replace the poll
		if pollEdited {
			if oldPoll != nil {
				if err := tx.DeletePoll(oldPoll.Id); err != nil {
					return fmt.Errorf("failed to delete poll: %w", err)
				}
				status.PollId = nil
			}
			if newPoll != nil {
				if err := tx.CreatePoll(newPoll); err != nil {
					return fmt.Errorf("failed to store poll: %w", err)
				}
				status.PollId = &newPoll.Id
			}
		}

		// Update kept attachments, store new ones and drop the rest
		kept := make(map[uuid.UUID]bool, len(media))
		for _, m := range media {
			kept[m.Id] = true
			if m.StatusId == status.Id {
				if err := tx.UpdateMediaAttachment(m); err != nil {
					return fmt.Errorf("failed to update media: %w", err)
				}
				continue
			}
			m.StatusId = status.Id
			if err := tx.CreateMediaAttachment(m); err != nil {
				return fmt.Errorf("failed to store media: %w", err)
			}
		}
		for _, m := range oldMedia {
			if !kept[m.Id] {
				if err := tx.DeleteMediaAttachment(m.Id); err != nil {
					return fmt.Errorf("failed to delete media: %w", err)
				}
			}
		}

		if err := reviseTags(tx, status.Id, draft.tags); err != nil {
			return err
		}
		for _, emoji := range draft.emojis {
			if err := tx.SaveCustomEmoji(emoji); err != nil {
				return fmt.Errorf("failed to store emoji %s: %w", emoji.Shortcode, err)
			}
		}
		if added, err = e.reviseMentions(tx, status.Id, explicit); err != nil {
			return err
		}

		if !changed {
			return nil
		}
		status.Text = text
		status.SpoilerText = spoiler
		status.Sensitive = sensitive
		status.EditedAt = &updated
		if err := tx.UpdateStatus(status); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(media))
		for _, m := range media {
			ids = append(ids, m.Id)
		}
		return e.recordRevision(tx, status, ids, newPoll, updated)
	})
	if err != nil {
		return err
	}
	if changed {
		log.Printf("Inbox: Edited status %s", status.URI)
	}

	for _, id := range added {
		recipient, err := e.db.ReadAccountById(id)
		if err != nil {
			log.Printf("Inbox: Failed to read mentioned account %s: %v", id, err)
			continue
		}
		fx.notify(recipient, actor.Id, domain.NotificationMention, &status.Id)
	}
	if pollEdited {
		e.schedulePollRefresh(newPoll, status, fx)
	} else if newPoll != nil {
		return e.refreshPoll(newPoll.Id, obj)
	}
	return nil
}

// reviseMedia returns the attachments of an edited object. Known URLs keep
// their stored row with refreshed metadata; new URLs are downloaded.
func (e *Engine) reviseMedia(ctx context.Context, old []domain.MediaAttachment, obj map[string]any, actor *domain.Account, fx *effects) []*domain.MediaAttachment {
	byURL := make(map[string]domain.MediaAttachment, len(old))
	for _, m := range old {
		byURL[m.RemoteURL] = m
	}
	var media []*domain.MediaAttachment
	seen := make(map[string]bool)
	for _, att := range asMaps(obj["attachment"]) {
		if len(media) >= e.conf.Inbox.MaxMediaAttachments {
			break
		}
		url := uriOf(att["url"])
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		if known, ok := byURL[url]; ok {
			known.Description = stringField(att, "name")
			known.Blurhash = stringField(att, "blurhash")
			media = append(media, &known)
			continue
		}
		media = append(media, e.newMedia(ctx, att, url, actor, fx))
	}
	return media
}

// mediaChanged compares attachment lists by URL and description
func mediaChanged(old []domain.MediaAttachment, media []*domain.MediaAttachment) bool {
	if len(old) != len(media) {
		return true
	}
	for i := range old {
		if old[i].RemoteURL != media[i].RemoteURL || old[i].Description != media[i].Description {
			return true
		}
	}
	return false
}

// samePoll reports whether a poll keeps its options and mode
func samePoll(a, b *domain.Poll) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Multiple == b.Multiple && slices.Equal(a.Options, b.Options)
}

// reviseTags relinks the hashtags of a status when the set changed
func reviseTags(tx Database, statusId uuid.UUID, tags []string) error {
	current, err := tx.ReadStatusTagNames(statusId)
	if err != nil {
		return fmt.Errorf("failed to read tags: %w", err)
	}
	want := slices.Clone(tags)
	sort.Strings(want)
	if slices.Equal(current, want) {
		return nil
	}
	if err := tx.UnlinkStatusTags(statusId); err != nil {
		return fmt.Errorf("failed to unlink tags: %w", err)
	}
	for _, name := range want {
		tag, err := tx.FindOrCreateTag(name)
		if err != nil {
			return fmt.Errorf("failed to store tag %s: %w", name, err)
		}
		if err := tx.LinkStatusTag(statusId, tag.Id); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("failed to link tag %s: %w", name, err)
		}
	}
	return nil
}

// reviseMentions makes the explicit mentions of a status match an edit.
// Dropped mentions turn silent so the recipient keeps access. Returns the
// accounts that became explicitly mentioned.
func (e *Engine) reviseMentions(tx Database, statusId uuid.UUID, explicit []*domain.Account) ([]uuid.UUID, error) {
	mentions, err := tx.ReadMentions(statusId)
	if err != nil {
		return nil, fmt.Errorf("failed to read mentions: %w", err)
	}
	existing := make(map[uuid.UUID]domain.Mention, len(mentions))
	for _, m := range mentions {
		existing[m.AccountId] = m
	}

	var added []uuid.UUID
	wanted := make(map[uuid.UUID]bool, len(explicit))
	for _, acc := range explicit {
		if wanted[acc.Id] {
			continue
		}
		wanted[acc.Id] = true
		m, ok := existing[acc.Id]
		switch {
		case !ok:
			mention := &domain.Mention{Id: uuid.New(), StatusId: statusId, AccountId: acc.Id, CreatedAt: e.now()}
			if err := tx.CreateMention(mention); err != nil && !errors.Is(err, domain.ErrDuplicate) {
				return nil, fmt.Errorf("failed to store mention: %w", err)
			}
		case m.Silent:
			m.Silent = false
			if err := tx.UpdateMention(&m); err != nil {
				return nil, fmt.Errorf("failed to update mention: %w", err)
			}
		default:
			continue
		}
		added = append(added, acc.Id)
	}

	for _, m := range mentions {
		if m.Silent || wanted[m.AccountId] {
			continue
		}
		m.Silent = true
		if err := tx.UpdateMention(&m); err != nil {
			return nil, fmt.Errorf("failed to update mention: %w", err)
		}
	}
	return added, nil
}

// recordRevision stores a snapshot of the editable fields of a status
func (e *Engine) recordRevision(tx Database, status *domain.Status, mediaIds []uuid.UUID, poll *domain.Poll, at time.Time) error {
	edit := &domain.StatusEdit{
		Id:                 uuid.New(),
		StatusId:           status.Id,
		AccountId:          status.AccountId,
		Text:               status.Text,
		SpoilerText:        status.SpoilerText,
		Sensitive:          status.Sensitive,
		MediaAttachmentIds: mediaIds,
		CreatedAt:          at,
	}
	if poll != nil {
		edit.PollOptions = slices.Clone(poll.Options)
	}
	if err := tx.CreateStatusEdit(edit); err != nil {
		return fmt.Errorf("failed to store edit: %w", err)
	}
	return nil
}

// refreshPoll copies remote tallies into a poll with optimistic locking
func (e *Engine) refreshPoll(pollId uuid.UUID, obj map[string]any) error {
	_, tallies, _ := pollOptions(obj)
	for i := 0; i < e.conf.Inbox.PollVoteRetries; i++ {
		poll, err := e.db.ReadPollById(pollId)
		if err != nil {
			return fmt.Errorf("failed to read poll: %w", err)
		}
		if poll == nil {
			return nil
		}
		if len(tallies) == len(poll.Options) {
			poll.CachedTallies = tallies
		}
		if voters := intField(obj, "votersCount"); voters > 0 {
			poll.VotersCount = voters
		}
		if expiry := pollExpiry(obj, e.now()); expiry != nil {
			poll.ExpiresAt = expiry
		}
		err = e.db.UpdatePollCounters(poll)
		if !errors.Is(err, domain.ErrStaleObject) {
			return err
		}
		pollVoteConflicts.Inc()
	}
	log.Printf("Inbox: Gave up refreshing poll %s", pollId)
	return nil
}
