package activitypub

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/tusk/domain"
)

// handleUndo reverses an earlier activity of the same actor
func (e *Engine) handleUndo(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	obj := env.ObjectMap()
	if obj == nil {
		return e.undoByURI(env.ObjectURI(), actor)
	}
	if actorURI := uriOf(obj["actor"]); actorURI != "" && actorURI != actor.URI {
		log.Printf("Inbox: %s tried to undo an activity of %s", actor.URI, actorURI)
		return nil, nil
	}

	inner := NewEnvelope(obj)
	switch ParseKind(inner.Type) {
	case KindAnnounce:
		return e.undoAnnounce(inner.Id, actor)
	case KindFollow:
		return e.undoFollow(inner, actor)
	case KindLike:
		return e.undoLike(inner, actor)
	case KindEmojiReact:
		return e.undoReaction(inner, actor, reactionName(inner.Raw))
	case KindBlock:
		return e.undoBlock(inner, actor)
	case KindAccept:
		return e.undoAccept(inner, actor)
	}
	log.Printf("Inbox: Unsupported Undo of %s", inner.Type)
	return nil, nil
}

// undoByURI handles Undo activities that only reference the original
func (e *Engine) undoByURI(uri string, actor *domain.Account) (any, error) {
	if uri == "" {
		return nil, nil
	}
	status, err := e.statusFromURI(uri)
	if err != nil {
		return nil, err
	}
	if status != nil && status.IsReblog() {
		return e.undoAnnounce(uri, actor)
	}
	follow, err := e.db.ReadFollowByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read follow: %w", err)
	}
	if follow != nil && follow.AccountId == actor.Id {
		if err := e.db.DeleteFollow(follow.Id); err != nil {
			return nil, fmt.Errorf("failed to remove follow: %w", err)
		}
		return follow, nil
	}
	return nil, nil
}

func (e *Engine) undoAnnounce(uri string, actor *domain.Account) (any, error) {
	reblog, err := e.statusFromURI(uri)
	if err != nil {
		return nil, err
	}
	if reblog == nil {
		// The Announce may still be on its way
		if err := e.locks.MarkDeleted(actor.Id, uri, e.conf.Inbox.DeleteMarkerTTL); err != nil {
			return nil, fmt.Errorf("failed to set delete marker: %w", err)
		}
		return nil, nil
	}
	if !reblog.IsReblog() || reblog.AccountId != actor.Id {
		return nil, nil
	}
	if err := e.db.DeleteStatus(reblog.Id); err != nil {
		return nil, fmt.Errorf("failed to remove reblog: %w", err)
	}
	log.Printf("Inbox: %s undid announce %s", actor.URI, uri)
	return reblog, nil
}

func (e *Engine) undoFollow(inner *Envelope, actor *domain.Account) (any, error) {
	target, err := e.localAccountFromURI(inner.ObjectURI())
	if err != nil || target == nil {
		return nil, err
	}
	follow, err := e.db.ReadFollow(actor.Id, target.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read follow: %w", err)
	}
	if follow == nil {
		return nil, nil
	}
	if err := e.db.DeleteFollow(follow.Id); err != nil {
		return nil, fmt.Errorf("failed to remove follow: %w", err)
	}
	log.Printf("Inbox: %s unfollowed %s", actor.URI, target.Acct())
	return follow, nil
}

func (e *Engine) undoLike(inner *Envelope, actor *domain.Account) (any, error) {
	if name := reactionName(inner.Raw); name != "" {
		return e.undoReaction(inner, actor, name)
	}
	status, err := e.localStatus(inner.ObjectURI())
	if err != nil || status == nil {
		return nil, err
	}
	fav, err := e.db.ReadFavourite(actor.Id, status.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read favourite: %w", err)
	}
	if fav == nil {
		if inner.Id != "" {
			if err := e.locks.MarkDeleted(actor.Id, inner.Id, e.conf.Inbox.DeleteMarkerTTL); err != nil {
				return nil, fmt.Errorf("failed to set delete marker: %w", err)
			}
		}
		return nil, nil
	}
	if err := e.db.DeleteFavourite(fav.Id); err != nil {
		return nil, fmt.Errorf("failed to remove favourite: %w", err)
	}
	return fav, nil
}

func (e *Engine) undoReaction(inner *Envelope, actor *domain.Account, name string) (any, error) {
	if name == "" {
		return nil, nil
	}
	status, err := e.localStatus(inner.ObjectURI())
	if err != nil || status == nil {
		return nil, err
	}
	reaction, err := e.db.ReadEmojiReaction(actor.Id, status.Id, strings.Trim(name, ":"))
	if err != nil {
		return nil, fmt.Errorf("failed to read reaction: %w", err)
	}
	if reaction == nil {
		return nil, nil
	}
	if err := e.db.DeleteEmojiReaction(reaction.Id); err != nil {
		return nil, fmt.Errorf("failed to remove reaction: %w", err)
	}
	return reaction, nil
}

func (e *Engine) undoBlock(inner *Envelope, actor *domain.Account) (any, error) {
	target, err := e.localAccountFromURI(inner.ObjectURI())
	if err != nil || target == nil {
		return nil, err
	}
	block, err := e.db.ReadBlock(actor.Id, target.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read block: %w", err)
	}
	if block == nil {
		return nil, nil
	}
	if err := e.db.DeleteBlock(block.Id); err != nil {
		return nil, fmt.Errorf("failed to remove block: %w", err)
	}
	return block, nil
}

// undoAccept revokes a follow the actor had accepted from a local account
func (e *Engine) undoAccept(inner *Envelope, actor *domain.Account) (any, error) {
	follow, err := e.followForResponse(inner, actor)
	if err != nil || follow == nil {
		return nil, err
	}
	if err := e.db.DeleteFollow(follow.Id); err != nil {
		return nil, fmt.Errorf("failed to remove follow: %w", err)
	}
	log.Printf("Inbox: %s revoked follow %s", actor.URI, follow.URI)
	return follow, nil
}
