package activitypub

import (
	"context"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
)

// handleAccept processes an Accept of one of our Follow, QuoteRequest or Join
// activities, or of a relay subscription.
func (e *Engine) handleAccept(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	relay, err := e.relayForResponse(env)
	if err != nil {
		return nil, err
	}
	if relay != nil {
		return e.setRelayState(relay, domain.RelayAccepted)
	}

	follow, err := e.followForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if follow != nil {
		if follow.State != domain.FollowRequested {
			return follow, nil
		}
		follow.State = domain.FollowAccepted
		follow.UpdatedAt = e.now()
		if err := e.db.UpdateFollow(follow); err != nil {
			return nil, fmt.Errorf("failed to accept follow: %w", err)
		}
		log.Printf("Inbox: Follow %s accepted by %s", follow.URI, actor.URI)
		return follow, nil
	}

	quote, err := e.quoteForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if quote != nil {
		// Accepted and rejected are final
		if quote.State != domain.QuotePending {
			return quote, nil
		}
		quote.State = domain.QuoteAccepted
		if approval := uriOf(env.Raw["result"]); approval != "" {
			quote.ApprovalURI = approval
		}
		quote.UpdatedAt = e.now()
		if err := e.db.UpdateQuote(quote); err != nil {
			return nil, fmt.Errorf("failed to accept quote: %w", err)
		}
		return quote, nil
	}

	membership, err := e.membershipForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if membership != nil && membership.State == domain.FollowRequested {
		membership.State = domain.FollowAccepted
		membership.UpdatedAt = e.now()
		if err := e.db.UpdateGroupMembership(membership); err != nil {
			return nil, fmt.Errorf("failed to accept membership: %w", err)
		}
		return membership, nil
	}

	log.Printf("Inbox: Accept %s did not match any pending request", env.Id)
	return nil, nil
}

// handleReject processes a Reject of one of our requests. Rejecting an
// already accepted follow or membership removes it.
func (e *Engine) handleReject(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	relay, err := e.relayForResponse(env)
	if err != nil {
		return nil, err
	}
	if relay != nil {
		return e.setRelayState(relay, domain.RelayRejected)
	}

	follow, err := e.followForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if follow != nil {
		switch follow.State {
		case domain.FollowRequested:
			follow.State = domain.FollowRejected
			follow.UpdatedAt = e.now()
			if err := e.db.UpdateFollow(follow); err != nil {
				return nil, fmt.Errorf("failed to reject follow: %w", err)
			}
		case domain.FollowAccepted:
			if err := e.db.DeleteFollow(follow.Id); err != nil {
				return nil, fmt.Errorf("failed to remove follow: %w", err)
			}
		}
		return follow, nil
	}

	quote, err := e.quoteForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if quote != nil {
		if quote.State != domain.QuotePending {
			return quote, nil
		}
		quote.State = domain.QuoteRejected
		quote.UpdatedAt = e.now()
		if err := e.db.UpdateQuote(quote); err != nil {
			return nil, fmt.Errorf("failed to reject quote: %w", err)
		}
		return quote, nil
	}

	membership, err := e.membershipForResponse(env, actor)
	if err != nil {
		return nil, err
	}
	if membership != nil {
		switch membership.State {
		case domain.FollowRequested:
			membership.State = domain.FollowRejected
			membership.UpdatedAt = e.now()
			if err := e.db.UpdateGroupMembership(membership); err != nil {
				return nil, fmt.Errorf("failed to reject membership: %w", err)
			}
		case domain.FollowAccepted:
			if err := e.db.DeleteGroupMembership(membership.Id); err != nil {
				return nil, fmt.Errorf("failed to remove membership: %w", err)
			}
		}
		return membership, nil
	}

	log.Printf("Inbox: Reject %s did not match any request", env.Id)
	return nil, nil
}

func (e *Engine) relayForResponse(env *Envelope) (*domain.Relay, error) {
	uri := env.ObjectURI()
	if uri == "" {
		return nil, nil
	}
	relay, err := e.db.ReadRelayByFollowActivityId(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay: %w", err)
	}
	return relay, nil
}

func (e *Engine) setRelayState(relay *domain.Relay, state domain.RelayState) (*domain.Relay, error) {
	if relay.State == state {
		return relay, nil
	}
	relay.State = state
	relay.UpdatedAt = e.now()
	if err := e.db.UpdateRelay(relay); err != nil {
		return nil, fmt.Errorf("failed to update relay: %w", err)
	}
	log.Printf("Inbox: Relay %s is now %s", relay.InboxURI, state)
	return relay, nil
}

// followForResponse finds the local account's follow of actor that an
// Accept or Reject refers to, by activity id or by the embedded Follow.
func (e *Engine) followForResponse(env *Envelope, actor *domain.Account) (*domain.Follow, error) {
	if obj := env.ObjectMap(); obj != nil && !hasType(obj, "Follow") {
		return nil, nil
	}
	if uri := env.ObjectURI(); uri != "" {
		follow, err := e.db.ReadFollowByURI(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to read follow: %w", err)
		}
		if follow != nil {
			if follow.TargetAccountId != actor.Id {
				return nil, nil
			}
			return follow, nil
		}
	}

	obj := env.ObjectMap()
	if obj == nil || uriOf(obj["object"]) != actor.URI {
		return nil, nil
	}
	follower, err := e.localAccountFromURI(uriOf(obj["actor"]))
	if err != nil || follower == nil {
		return nil, err
	}
	follow, err := e.db.ReadFollow(follower.Id, actor.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read follow: %w", err)
	}
	return follow, nil
}

// quoteForResponse finds a quote of actor's status by our QuoteRequest id.
// Only quotes authored locally can be answered.
func (e *Engine) quoteForResponse(env *Envelope, actor *domain.Account) (*domain.Quote, error) {
	if obj := env.ObjectMap(); obj != nil && !hasType(obj, "QuoteRequest") {
		return nil, nil
	}
	uri := env.ObjectURI()
	if uri == "" {
		return nil, nil
	}
	quote, err := e.db.ReadQuoteByActivityURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	if quote == nil || quote.QuotedAccountId != actor.Id || quote.StatusId == nil {
		return nil, nil
	}
	status, err := e.db.ReadStatusById(*quote.StatusId)
	if err != nil {
		return nil, fmt.Errorf("failed to read quoting status: %w", err)
	}
	if status == nil || !status.Local {
		return nil, nil
	}
	return quote, nil
}

// membershipForResponse finds our Join of the group represented by actor
func (e *Engine) membershipForResponse(env *Envelope, actor *domain.Account) (*domain.GroupMembership, error) {
	if obj := env.ObjectMap(); obj != nil && !hasType(obj, "Join") {
		return nil, nil
	}
	uri := env.ObjectURI()
	if uri == "" {
		return nil, nil
	}
	membership, err := e.db.ReadGroupMembershipByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}
	if membership == nil {
		return nil, nil
	}
	group, err := e.db.ReadGroupById(membership.GroupId)
	if err != nil {
		return nil, fmt.Errorf("failed to read group: %w", err)
	}
	if group == nil || group.AccountId != actor.Id {
		return nil, nil
	}
	return membership, nil
}
