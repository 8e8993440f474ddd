package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// handleAdd pins a status to the actor's featured collection
func (e *Engine) handleAdd(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	status, err := e.featuredStatus(ctx, env, actor, opts)
	if err != nil || status == nil {
		return nil, err
	}
	pin, err := e.db.ReadStatusPin(actor.Id, status.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read pin: %w", err)
	}
	if pin != nil {
		return pin, nil
	}
	pin = &domain.StatusPin{
		Id:        uuid.New(),
		AccountId: actor.Id,
		StatusId:  status.Id,
		CreatedAt: e.now(),
	}
	if err := e.db.CreateStatusPin(pin); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return e.db.ReadStatusPin(actor.Id, status.Id)
		}
		return nil, fmt.Errorf("failed to store pin: %w", err)
	}
	return pin, nil
}

// handleRemove unpins a status from the actor's featured collection
func (e *Engine) handleRemove(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	if actor.FeaturedURI == "" || env.TargetURI() != actor.FeaturedURI {
		return nil, nil
	}
	status, err := e.statusFromURI(env.ObjectURI())
	if err != nil || status == nil || status.AccountId != actor.Id {
		return nil, err
	}
	pin, err := e.db.ReadStatusPin(actor.Id, status.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read pin: %w", err)
	}
	if pin == nil {
		return nil, nil
	}
	if err := e.db.DeleteStatusPin(pin.Id); err != nil {
		return nil, fmt.Errorf("failed to remove pin: %w", err)
	}
	return pin, nil
}

// featuredStatus resolves the status of an Add aimed at the actor's featured
// collection, fetching it if needed
func (e *Engine) featuredStatus(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (*domain.Status, error) {
	if actor.FeaturedURI == "" || env.TargetURI() != actor.FeaturedURI {
		return nil, nil
	}
	status, err := e.fetchStatus(ctx, env.ObjectURI(), opts)
	if err != nil || status == nil {
		return nil, err
	}
	if status.AccountId != actor.Id || status.IsReblog() {
		return nil, nil
	}
	return status, nil
}
