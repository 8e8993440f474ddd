package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

func (e *Engine) handleAnnounce(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	objectURI := env.ObjectURI()
	if objectURI == "" || env.Id == "" {
		return nil, nil
	}
	deleted, err := e.locks.DeleteArrivedFirst(actor.Id, env.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to check delete marker: %w", err)
	}
	if deleted {
		log.Printf("Inbox: Undo for announce %s arrived before it", env.Id)
		return nil, nil
	}

	known, err := e.statusFromURI(objectURI)
	if err != nil {
		return nil, err
	}
	related, err := e.relatedToLocalActivity(actor, nil, known, opts)
	if err != nil {
		return nil, err
	}
	if !related {
		log.Printf("Inbox: Ignoring announce %s unrelated to local accounts", env.Id)
		return nil, nil
	}

	var (
		fx      effects
		reblog  *domain.Status
		created bool
	)
	err = e.locks.WithLock(ctx, "announce:"+objectURI, func() error {
		original, err := e.fetchStatus(ctx, objectURI, opts)
		if err != nil {
			return err
		}
		if original == nil || original.IsReblog() {
			log.Printf("Inbox: Announced object %s could not be resolved", objectURI)
			return nil
		}
		if original.AccountId != actor.Id && !original.Visibility.Distributable() {
			log.Printf("Inbox: %s may not announce %s", actor.URI, objectURI)
			return nil
		}

		reblog, err = e.db.ReadReblog(actor.Id, original.Id)
		if err != nil {
			return fmt.Errorf("failed to read reblog: %w", err)
		}
		if reblog != nil {
			return nil
		}

		reblog = &domain.Status{
			Id:         uuid.New(),
			URI:        env.Id,
			URL:        env.Id,
			AccountId:  actor.Id,
			ReblogOfId: &original.Id,
			Visibility: visibilityFrom(env.To, env.Cc, actor.FollowersURI),
			CreatedAt:  e.now(),
		}
		if !opts.OverrideTimestamps && !env.Published.IsZero() {
			reblog.CreatedAt = env.Published
		}
		if err := e.db.CreateStatus(reblog); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				reblog, err = e.db.ReadReblog(actor.Id, original.Id)
				return err
			}
			return fmt.Errorf("failed to store reblog: %w", err)
		}
		created = true
		return e.reblogCreated(reblog, original, actor, opts, &fx)
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if reblog == nil {
		return nil, nil
	}
	if created {
		log.Printf("Inbox: %s announced %s", actor.URI, objectURI)
	}
	return reblog, nil
}

func (e *Engine) reblogCreated(reblog, original *domain.Status, actor *domain.Account, opts Options, fx *effects) error {
	if opts.RelayedThroughActor == nil && original.Local {
		author, err := e.db.ReadAccountById(original.AccountId)
		if err != nil {
			return fmt.Errorf("failed to read author: %w", err)
		}
		groupRepost, err := e.rebloggedByFollowedGroup(actor, author)
		if err != nil {
			return err
		}
		if !groupRepost {
			fx.notify(author, actor.Id, domain.NotificationReblog, &reblog.Id)
		}
	}
	if e.realtime(reblog.CreatedAt, opts) {
		fx.distribute(reblog)
	}
	return nil
}

// rebloggedByFollowedGroup reports whether actor is a group that author
// follows, which boosts its members' posts as a matter of course
func (e *Engine) rebloggedByFollowedGroup(actor, author *domain.Account) (bool, error) {
	if author == nil || !actor.IsGroup() {
		return false, nil
	}
	follow, err := e.db.ReadFollow(author.Id, actor.Id)
	if err != nil {
		return false, fmt.Errorf("failed to read follow: %w", err)
	}
	return follow != nil && follow.State == domain.FollowAccepted, nil
}
