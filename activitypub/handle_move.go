package activitypub

import (
	"context"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
)

// handleMove redirects an account and moves its local followers to the
// new account. Repeated Moves within the cooldown are ignored.
func (e *Engine) handleMove(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	if env.ObjectURI() != actor.URI {
		log.Printf("Inbox: %s tried to move %s", actor.URI, env.ObjectURI())
		return nil, nil
	}
	targetURI := env.TargetURI()
	if targetURI == "" || targetURI == actor.URI {
		return nil, nil
	}

	var (
		fx     effects
		target *domain.Account
	)
	err := e.locks.WithLock(ctx, "move:"+actor.Id.String(), func() error {
		marked, err := e.locks.MarkMoving(actor.Id, e.conf.Inbox.MoveCooldown)
		if err != nil {
			return fmt.Errorf("failed to set move marker: %w", err)
		}
		if !marked {
			log.Printf("Inbox: Move of %s is already in progress", actor.URI)
			return nil
		}

		target, err = e.moveTarget(ctx, targetURI)
		if err != nil {
			return err
		}
		if target == nil || target.Suspended || !contains(target.AlsoKnownAs, actor.URI) {
			log.Printf("Inbox: Move target %s does not list %s as an alias", targetURI, actor.URI)
			target = nil
			return e.locks.UnmarkMoving(actor.Id)
		}

		if actor.MovedToAccountId == nil {
			actor.MovedToAccountId = &target.Id
			if err := e.db.UpdateAccount(actor); err != nil {
				return fmt.Errorf("failed to store redirect: %w", err)
			}
		}

		followers, err := e.db.ReadLocalFollowers(actor.Id)
		if err != nil {
			return fmt.Errorf("failed to read followers: %w", err)
		}
		for _, f := range followers {
			fx.add(tasks.Task{
				Kind:          tasks.KindMoveFollower,
				AccountId:     f.AccountId,
				FromAccountId: actor.Id,
				TargetId:      target.Id,
			})
		}
		log.Printf("Inbox: %s moved to %s, migrating %d local followers", actor.URI, target.URI, len(followers))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if target == nil {
		return nil, nil
	}
	return target, nil
}

// moveTarget fetches a fresh copy of remote targets so a just-added alias is seen
func (e *Engine) moveTarget(ctx context.Context, uri string) (*domain.Account, error) {
	if e.isLocalURI(uri) {
		return e.localAccountFromURI(uri)
	}
	acc, err := e.fetcher.FetchAccount(ctx, uri)
	if err != nil {
		log.Printf("Inbox: Failed to fetch move target %s: %v", uri, err)
		return nil, nil
	}
	return acc, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
