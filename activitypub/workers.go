package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/google/uuid"
)

// Reply collections are only sampled; the rest arrives by push or later fetches
const maxFetchedReplies = 5

// TaskRegistry is implemented by tasks.Queue
type TaskRegistry interface {
	Register(kind tasks.Kind, h tasks.Handler)
}

// RegisterTasks binds the engine's background jobs to a queue
func (e *Engine) RegisterTasks(r TaskRegistry) {
	r.Register(tasks.KindNotify, e.runNotify)
	r.Register(tasks.KindDistribute, e.runDistribute)
	r.Register(tasks.KindDeliver, e.runDeliver)
	r.Register(tasks.KindRedownloadMedia, e.runRedownloadMedia)
	r.Register(tasks.KindResolveThread, e.runResolveThread)
	r.Register(tasks.KindFetchReplies, e.runFetchReplies)
	r.Register(tasks.KindMoveFollower, e.runMoveFollower)
	r.Register(tasks.KindRefreshAccount, e.runRefreshAccount)
	r.Register(tasks.KindRefreshPoll, e.runRefreshPoll)
}

func (e *Engine) runNotify(ctx context.Context, t tasks.Task) error {
	n := &domain.Notification{
		Id:               uuid.New(),
		AccountId:        t.AccountId,
		NotificationType: domain.NotificationType(t.NotificationType),
		FromAccountId:    t.FromAccountId,
		CreatedAt:        e.now(),
	}
	if t.TargetId != uuid.Nil {
		statusId := t.TargetId
		n.StatusId = &statusId
	}
	if err := e.db.CreateNotification(n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// runDistribute inserts a status into one feed, or into the feeds of every
// local follower of the author
func (e *Engine) runDistribute(ctx context.Context, t tasks.Task) error {
	if t.AccountId != uuid.Nil {
		return e.db.InsertFeedEntries(t.TargetId, []uuid.UUID{t.AccountId})
	}
	followers, err := e.db.ReadLocalFollowers(t.FromAccountId)
	if err != nil {
		return fmt.Errorf("failed to read local followers: %w", err)
	}
	recipients := make([]uuid.UUID, 0, len(followers))
	for _, f := range followers {
		if f.State == domain.FollowAccepted {
			recipients = append(recipients, f.AccountId)
		}
	}
	if len(recipients) == 0 {
		return nil
	}
	if err := e.db.InsertFeedEntries(t.TargetId, recipients); err != nil {
		return fmt.Errorf("failed to insert feed entries: %w", err)
	}
	return nil
}

// runDeliver hands a payload to the persistent delivery queue, one row per inbox
func (e *Engine) runDeliver(ctx context.Context, t tasks.Task) error {
	// All rows or none, so a retried task queues each inbox once
	return e.db.Transaction(func(tx Database) error {
		seen := make(map[string]bool, len(t.Inboxes))
		for _, inbox := range t.Inboxes {
			if inbox == "" || seen[inbox] {
				continue
			}
			seen[inbox] = true
			now := e.now()
			item := &domain.DeliveryQueueItem{
				Id:           uuid.New(),
				AccountId:    t.AccountId,
				InboxURI:     inbox,
				ActivityJSON: string(t.Payload),
				NextRetryAt:  now,
				CreatedAt:    now,
			}
			if err := tx.EnqueueDelivery(item); err != nil {
				return fmt.Errorf("failed to enqueue delivery to %s: %w", inbox, err)
			}
		}
		return nil
	})
}

func (e *Engine) runRedownloadMedia(ctx context.Context, t tasks.Task) error {
	media, err := e.db.ReadMediaAttachmentById(t.TargetId)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	if media == nil || media.Downloaded {
		return nil
	}
	if err := e.fetcher.DownloadMedia(ctx, media); err != nil {
		return err
	}
	media.Downloaded = true
	return e.db.UpdateMediaAttachment(media)
}

// runResolveThread fetches the parent of a reply and links it
func (e *Engine) runResolveThread(ctx context.Context, t tasks.Task) error {
	parent, err := e.fetchStatus(ctx, t.URI, Options{Fetched: true})
	if err != nil {
		return err
	}
	if parent == nil {
		log.Printf("Tasks: Parent %s could not be resolved", t.URI)
		return nil
	}
	status, err := e.db.ReadStatusById(t.TargetId)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if status == nil || status.InReplyToId != nil {
		return nil
	}
	status.InReplyToId = &parent.Id
	status.InReplyToAccountId = &parent.AccountId
	if err := e.db.UpdateStatus(status); err != nil {
		return fmt.Errorf("failed to link reply: %w", err)
	}
	return nil
}

// runFetchReplies ingests the first page of a status's replies collection
func (e *Engine) runFetchReplies(ctx context.Context, t tasks.Task) error {
	collection, err := e.fetcher.FetchObject(ctx, t.URI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	items := collectionItems(collection)
	if len(items) == 0 {
		page := collection["first"]
		pageMap, ok := page.(map[string]any)
		if !ok {
			pageURI := uriOf(page)
			if pageURI == "" {
				return nil
			}
			if pageMap, err = e.fetcher.FetchObject(ctx, pageURI); err != nil {
				return err
			}
		}
		items = collectionItems(pageMap)
	}

	for i, item := range items {
		if i == maxFetchedReplies {
			break
		}
		uri := uriOf(item)
		if uri == "" || e.isLocalURI(uri) {
			continue
		}
		if _, err := e.fetchStatus(ctx, uri, Options{Fetched: true}); err != nil {
			log.Printf("Tasks: Failed to fetch reply %s: %v", uri, err)
		}
	}
	return nil
}

func collectionItems(m map[string]any) []any {
	for _, key := range []string{"orderedItems", "items"} {
		if items, ok := m[key].([]any); ok {
			return items
		}
	}
	return nil
}

// runMoveFollower moves one local follower from the origin to the target of a Move
func (e *Engine) runMoveFollower(ctx context.Context, t tasks.Task) error {
	follower, err := e.db.ReadAccountById(t.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read follower: %w", err)
	}
	target, err := e.db.ReadAccountById(t.TargetId)
	if err != nil {
		return fmt.Errorf("failed to read move target: %w", err)
	}
	if follower == nil || target == nil || !follower.IsLocal() {
		return nil
	}

	origin, err := e.db.ReadAccountById(t.FromAccountId)
	if err != nil {
		return fmt.Errorf("failed to read moved account: %w", err)
	}

	// Drop the follow of the old account and tell its server
	var fx effects
	old, err := e.db.ReadFollow(follower.Id, t.FromAccountId)
	if err != nil {
		return fmt.Errorf("failed to read follow: %w", err)
	}
	if old != nil {
		if err := e.db.DeleteFollow(old.Id); err != nil {
			return fmt.Errorf("failed to remove follow: %w", err)
		}
		if origin != nil && !origin.IsLocal() {
			undo := e.undoActivity(follower, e.followActivity(old.URI, follower, origin))
			if err := fx.deliver(follower, undo, origin.InboxURI); err != nil {
				return err
			}
		}
	}

	fx.notify(follower, t.FromAccountId, domain.NotificationMove, nil)

	block, err := e.db.ReadBlock(follower.Id, target.Id)
	if err != nil {
		return fmt.Errorf("failed to read block: %w", err)
	}
	existing, err := e.db.ReadFollow(follower.Id, target.Id)
	if err != nil {
		return fmt.Errorf("failed to read follow: %w", err)
	}
	if block != nil || (existing != nil && existing.Active()) {
		e.flush(&fx)
		return nil
	}

	state := domain.FollowRequested
	if target.IsLocal() && !target.Locked {
		state = domain.FollowAccepted
	}
	now := e.now()
	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       follower.Id,
		TargetAccountId: target.Id,
		URI:             e.activityURI(),
		State:           state,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		follow.Id = existing.Id
		follow.CreatedAt = existing.CreatedAt
		err = e.db.UpdateFollow(follow)
	} else {
		err = e.db.CreateFollow(follow)
	}
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("failed to follow move target: %w", err)
	}

	if target.IsLocal() {
		typ := domain.NotificationFollow
		if state == domain.FollowRequested {
			typ = domain.NotificationFollowRequest
		}
		fx.notify(target, follower.Id, typ, nil)
	} else if err := fx.deliver(follower, e.followActivity(follow.URI, follower, target), target.InboxURI); err != nil {
		return err
	}
	e.flush(&fx)
	log.Printf("Tasks: %s now follows %s after move", follower.Acct(), target.URI)
	return nil
}

func (e *Engine) runRefreshAccount(ctx context.Context, t tasks.Task) error {
	if t.URI == "" || e.isLocalURI(t.URI) {
		return nil
	}
	_, err := e.fetcher.FetchAccount(ctx, t.URI)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// runRefreshPoll pulls the final tallies of a remote poll once it has closed
func (e *Engine) runRefreshPoll(ctx context.Context, t tasks.Task) error {
	if t.URI == "" || e.isLocalURI(t.URI) {
		return nil
	}
	obj, err := e.fetcher.FetchObject(ctx, t.URI)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stringField(obj, "type") != "Question" {
		return nil
	}
	return e.refreshPoll(t.TargetId, obj)
}
