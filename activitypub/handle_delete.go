package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

func (e *Engine) handleDelete(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	uri := env.ObjectURI()
	if uri == "" {
		return nil, nil
	}
	if uri == actor.URI {
		return e.deleteActor(actor)
	}
	if actor.Suspended {
		return nil, nil
	}
	if !util.SameHost(uri, actor.URI) {
		log.Printf("Inbox: %s tried to delete foreign object %s", actor.URI, uri)
		return nil, nil
	}

	var (
		fx     effects
		status *domain.Status
	)
	err := e.locks.WithLock(ctx, "create:"+uri, func() error {
		tombstone := &domain.Tombstone{
			Id:        uuid.New(),
			URI:       uri,
			AccountId: actor.Id,
			CreatedAt: e.now(),
		}
		if err := e.db.CreateTombstone(tombstone); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("failed to store tombstone: %w", err)
		}

		found, err := e.statusFromURI(uri)
		if err != nil {
			return err
		}
		if found == nil || found.AccountId != actor.Id {
			// The Create may still be in flight
			if err := e.locks.MarkDeleted(actor.Id, uri, e.conf.Inbox.DeleteMarkerTTL); err != nil {
				return fmt.Errorf("failed to set delete marker: %w", err)
			}
			return nil
		}

		if env.Signed && found.InReplyToId != nil {
			parent, err := e.db.ReadStatusById(*found.InReplyToId)
			if err != nil {
				return fmt.Errorf("failed to read parent: %w", err)
			}
			if parent != nil && parent.Local {
				e.forwardToFollowers(env, actor, parent.AccountId, &fx)
			}
		}
		if err := e.db.DeleteStatus(found.Id); err != nil {
			return fmt.Errorf("failed to delete status: %w", err)
		}
		status = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if status == nil {
		return nil, nil
	}
	log.Printf("Inbox: Deleted status %s", uri)
	return status, nil
}

// deleteActor handles a remote account deleting itself
func (e *Engine) deleteActor(actor *domain.Account) (any, error) {
	if actor.IsLocal() || actor.Suspended {
		return nil, nil
	}
	actor.Suspended = true
	if err := e.db.UpdateAccount(actor); err != nil {
		return nil, fmt.Errorf("failed to suspend account: %w", err)
	}
	log.Printf("Inbox: Remote account %s was deleted", actor.URI)
	return actor, nil
}
