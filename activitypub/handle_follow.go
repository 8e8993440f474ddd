package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

func (e *Engine) handleFollow(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	target, err := e.localAccountFromURI(env.ObjectURI())
	if err != nil {
		return nil, err
	}
	if target == nil {
		log.Printf("Inbox: Follow target %s is not a local account", env.ObjectURI())
		return nil, nil
	}

	var (
		fx     effects
		result any
	)
	key := "follow:" + actor.Id.String() + ":" + target.Id.String()
	err = e.locks.WithLock(ctx, key, func() error {
		var err error
		result, err = e.follow(env, actor, target, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	return result, nil
}

func (e *Engine) follow(env *Envelope, actor, target *domain.Account, fx *effects) (any, error) {
	// Check if a relay is subscribing to us
	if target.InstanceActor {
		relay, err := e.relayOf(actor)
		if err != nil {
			return nil, err
		}
		if relay != nil {
			return e.acceptRelayFollow(env, relay, actor, target, fx)
		}
	}

	// Check blocks and domain blocks
	refused, err := e.refusesFollow(actor, target)
	if err != nil {
		return nil, err
	}
	if refused {
		log.Printf("Inbox: Rejecting follow from %s to %s", actor.URI, target.Acct())
		return nil, fx.deliver(target, e.response("Reject", target, env), actor.InboxURI)
	}

	// Check if the follow already exists
	existing, err := e.db.ReadFollow(actor.Id, target.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read follow: %w", err)
	}
	if existing != nil && existing.Active() {
		// Repeated Follow: remember the newest activity id and re-acknowledge
		if existing.URI != env.Id {
			existing.URI = env.Id
			existing.UpdatedAt = e.now()
			if err := e.db.UpdateFollow(existing); err != nil {
				return nil, fmt.Errorf("failed to update follow: %w", err)
			}
		}
		if existing.State == domain.FollowAccepted {
			if err := fx.deliver(target, e.response("Accept", target, env), actor.InboxURI); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	// Locked accounts review requests
	state := domain.FollowAccepted
	if target.Locked || actor.Silenced {
		state = domain.FollowRequested
	}

	now := e.now()
	follow := existing
	if follow != nil {
		// A previously rejected edge is revived in place
		follow.URI = env.Id
		follow.State = state
		follow.UpdatedAt = now
		if err := e.db.UpdateFollow(follow); err != nil {
			return nil, fmt.Errorf("failed to update follow: %w", err)
		}
	} else {
		// Create follow relationship
		follow = &domain.Follow{
			Id:              uuid.New(),
			AccountId:       actor.Id,
			TargetAccountId: target.Id,
			URI:             env.Id,
			State:           state,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.db.CreateFollow(follow); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return e.db.ReadFollow(actor.Id, target.Id)
			}
			return nil, fmt.Errorf("failed to create follow: %w", err)
		}
	}

	if state == domain.FollowRequested {
		fx.notify(target, actor.Id, domain.NotificationFollowRequest, nil)
		log.Printf("Inbox: %s requested to follow %s", actor.URI, target.Acct())
		return follow, nil
	}

	// Notify and send Accept
	fx.notify(target, actor.Id, domain.NotificationFollow, nil)
	if err := fx.deliver(target, e.response("Accept", target, env), actor.InboxURI); err != nil {
		return nil, err
	}
	log.Printf("Inbox: %s now follows %s", actor.URI, target.Acct())
	return follow, nil
}

// refusesFollow reports whether target must turn a follow from actor down
func (e *Engine) refusesFollow(actor, target *domain.Account) (bool, error) {
	if target.InstanceActor || target.MovedToAccountId != nil {
		return true, nil
	}
	block, err := e.db.ReadBlock(target.Id, actor.Id)
	if err != nil {
		return false, fmt.Errorf("failed to read block: %w", err)
	}
	if block != nil {
		return true, nil
	}
	blocked, err := e.db.IsDomainBlocked(target.Id, actor.Domain)
	if err != nil {
		return false, fmt.Errorf("failed to read domain block: %w", err)
	}
	return blocked, nil
}

// relayOf returns the relay subscription that actor delivers for
func (e *Engine) relayOf(actor *domain.Account) (*domain.Relay, error) {
	for _, inbox := range []string{actor.InboxURI, actor.SharedInboxURI} {
		if inbox == "" {
			continue
		}
		relay, err := e.db.ReadRelayByInboxURI(inbox)
		if err != nil {
			return nil, fmt.Errorf("failed to read relay: %w", err)
		}
		if relay != nil {
			return relay, nil
		}
	}
	return nil, nil
}

// acceptRelayFollow answers a relay that subscribes back to our instance actor
func (e *Engine) acceptRelayFollow(env *Envelope, relay *domain.Relay, actor, instance *domain.Account, fx *effects) (any, error) {
	if relay.State != domain.RelayAccepted {
		relay.State = domain.RelayAccepted
		relay.UpdatedAt = e.now()
		if err := e.db.UpdateRelay(relay); err != nil {
			return nil, fmt.Errorf("failed to update relay: %w", err)
		}
	}
	log.Printf("Inbox: Relay %s subscribed to this instance", relay.InboxURI)
	return relay, fx.deliver(instance, e.response("Accept", instance, env), actor.InboxURI)
}
