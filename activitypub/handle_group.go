package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// localGroup resolves the local group an activity was delivered to, together
// with the group's actor account
func (e *Engine) localGroup(env *Envelope, opts Options) (*domain.Group, *domain.Account, error) {
	if opts.DeliveredToGroupId == nil {
		log.Printf("Inbox: %s %s was not delivered to a group inbox", env.Type, env.Id)
		return nil, nil, nil
	}
	group, err := e.db.ReadGroupById(*opts.DeliveredToGroupId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read group: %w", err)
	}
	if group == nil || !group.Local || env.ObjectURI() != group.URI {
		return nil, nil, nil
	}
	groupAccount, err := e.db.ReadAccountById(group.AccountId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read group actor: %w", err)
	}
	if groupAccount == nil {
		return nil, nil, nil
	}
	return group, groupAccount, nil
}

// handleJoin runs the membership lifecycle of a local group, mirroring Follow
func (e *Engine) handleJoin(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	group, groupAccount, err := e.localGroup(env, opts)
	if err != nil || group == nil {
		return nil, err
	}

	var (
		fx         effects
		membership *domain.GroupMembership
	)
	key := "join:" + actor.Id.String() + ":" + group.Id.String()
	err = e.locks.WithLock(ctx, key, func() error {
		var err error
		membership, err = e.join(env, actor, group, groupAccount, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if membership == nil {
		return nil, nil
	}
	return membership, nil
}

func (e *Engine) join(env *Envelope, actor *domain.Account, group *domain.Group, groupAccount *domain.Account, fx *effects) (*domain.GroupMembership, error) {
	// Check blocks and domain blocks
	refused, err := e.refusesFollow(actor, groupAccount)
	if err != nil {
		return nil, err
	}
	if refused {
		log.Printf("Inbox: Rejecting join of %s to %s", actor.URI, group.URI)
		return nil, fx.deliver(groupAccount, e.response("Reject", groupAccount, env), actor.InboxURI)
	}

	// Check if already a member; re-acknowledge repeats
	existing, err := e.db.ReadGroupMembership(actor.Id, group.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}
	if existing != nil && existing.State != domain.FollowRejected {
		if existing.URI != env.Id {
			existing.URI = env.Id
			existing.UpdatedAt = e.now()
			if err := e.db.UpdateGroupMembership(existing); err != nil {
				return nil, fmt.Errorf("failed to update membership: %w", err)
			}
		}
		if existing.State == domain.FollowAccepted {
			if err := fx.deliver(groupAccount, e.response("Accept", groupAccount, env), actor.InboxURI); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	// Locked groups review requests
	state := domain.FollowAccepted
	if group.Locked || actor.Silenced {
		state = domain.FollowRequested
	}
	now := e.now()
	membership := existing
	if membership != nil {
		// Revive a rejected membership
		membership.URI = env.Id
		membership.State = state
		membership.UpdatedAt = now
		if err := e.db.UpdateGroupMembership(membership); err != nil {
			return nil, fmt.Errorf("failed to update membership: %w", err)
		}
	} else {
		// Create membership
		membership = &domain.GroupMembership{
			Id:        uuid.New(),
			AccountId: actor.Id,
			GroupId:   group.Id,
			URI:       env.Id,
			State:     state,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.db.CreateGroupMembership(membership); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return e.db.ReadGroupMembership(actor.Id, group.Id)
			}
			return nil, fmt.Errorf("failed to store membership: %w", err)
		}
	}

	if state == domain.FollowRequested {
		fx.notify(groupAccount, actor.Id, domain.NotificationGroupJoinRequest, nil)
		return membership, nil
	}
	// Notify the group and send Accept
	fx.notify(groupAccount, actor.Id, domain.NotificationGroupJoin, nil)
	if err := fx.deliver(groupAccount, e.response("Accept", groupAccount, env), actor.InboxURI); err != nil {
		return nil, err
	}
	log.Printf("Inbox: %s joined %s", actor.URI, group.URI)
	return membership, nil
}

// handleLeave removes a membership and tells the group's remote members
func (e *Engine) handleLeave(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	group, groupAccount, err := e.localGroup(env, opts)
	if err != nil || group == nil {
		return nil, err
	}
	membership, err := e.db.ReadGroupMembership(actor.Id, group.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}
	if membership == nil {
		return nil, nil
	}
	if err := e.db.DeleteGroupMembership(membership.Id); err != nil {
		return nil, fmt.Errorf("failed to remove membership: %w", err)
	}

	var fx effects
	inboxes, err := e.db.ReadRemoteGroupMemberInboxes(group.Id)
	if err != nil {
		log.Printf("Inbox: Failed to read member inboxes of %s: %v", group.URI, err)
	} else {
		e.forwardPayload(env, groupAccount.Id, inboxes, actor, &fx)
	}
	e.flush(&fx)
	log.Printf("Inbox: %s left %s", actor.URI, group.URI)
	return membership, nil
}
