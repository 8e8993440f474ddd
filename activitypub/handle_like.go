package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// localStatus resolves uri to a status authored on this server
func (e *Engine) localStatus(uri string) (*domain.Status, error) {
	status, err := e.statusFromURI(uri)
	if err != nil || status == nil || !status.Local || status.IsReblog() {
		return nil, err
	}
	return status, nil
}

// reactionName reads the emoji of an EmojiReact, or of a Misskey reaction
// sent as a Like
func reactionName(raw map[string]any) string {
	if name := stringField(raw, "_misskey_reaction"); name != "" {
		return name
	}
	if hasType(raw, "EmojiReact", "EmojiReaction") {
		return strings.TrimSpace(stringField(raw, "content"))
	}
	return ""
}

func (e *Engine) handleLike(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	if name := reactionName(env.Raw); name != "" {
		return e.react(env, actor, name)
	}
	status, err := e.likeTarget(env, actor)
	if err != nil || status == nil {
		return nil, err
	}

	fav := &domain.Favourite{
		Id:        uuid.New(),
		AccountId: actor.Id,
		StatusId:  status.Id,
		URI:       env.Id,
		CreatedAt: e.now(),
	}
	if err := e.db.CreateFavourite(fav); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return e.db.ReadFavourite(actor.Id, status.Id)
		}
		return nil, fmt.Errorf("failed to store favourite: %w", err)
	}

	var fx effects
	if err := e.interactionCreated(status, actor, domain.NotificationFavourite, &fx); err != nil {
		return nil, err
	}
	e.flush(&fx)
	return fav, nil
}

func (e *Engine) handleEmojiReact(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	name := reactionName(env.Raw)
	if name == "" {
		log.Printf("Inbox: EmojiReact %s carries no emoji", env.Id)
		return nil, nil
	}
	return e.react(env, actor, name)
}

func (e *Engine) react(env *Envelope, actor *domain.Account, name string) (any, error) {
	status, err := e.likeTarget(env, actor)
	if err != nil || status == nil {
		return nil, err
	}

	reaction := &domain.EmojiReaction{
		Id:        uuid.New(),
		AccountId: actor.Id,
		StatusId:  status.Id,
		Name:      name,
		URI:       env.Id,
		CreatedAt: e.now(),
	}
	if strings.HasPrefix(name, ":") && strings.HasSuffix(name, ":") && len(name) > 2 {
		emoji, err := e.reactionEmoji(env, actor, strings.Trim(name, ":"))
		if err != nil {
			return nil, err
		}
		if emoji == nil {
			log.Printf("Inbox: Reaction %s names unknown emoji %s", env.Id, name)
			return nil, nil
		}
		reaction.Name = emoji.Shortcode
		reaction.CustomEmojiId = &emoji.Id
	}

	if err := e.db.CreateEmojiReaction(reaction); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return e.db.ReadEmojiReaction(actor.Id, status.Id, reaction.Name)
		}
		return nil, fmt.Errorf("failed to store reaction: %w", err)
	}

	var fx effects
	if err := e.interactionCreated(status, actor, domain.NotificationReaction, &fx); err != nil {
		return nil, err
	}
	e.flush(&fx)
	return reaction, nil
}

// likeTarget resolves the local status of a Like or EmojiReact, dropping
// activities that were undone before they arrived
func (e *Engine) likeTarget(env *Envelope, actor *domain.Account) (*domain.Status, error) {
	status, err := e.localStatus(env.ObjectURI())
	if err != nil {
		return nil, err
	}
	if status == nil {
		log.Printf("Inbox: %s target %s is not a local status", env.Type, env.ObjectURI())
		return nil, nil
	}
	if env.Id != "" {
		deleted, err := e.locks.DeleteArrivedFirst(actor.Id, env.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to check delete marker: %w", err)
		}
		if deleted {
			return nil, nil
		}
	}
	return status, nil
}

// reactionEmoji finds the custom emoji a reaction refers to in the
// activity's tags and stores or refreshes it
func (e *Engine) reactionEmoji(env *Envelope, actor *domain.Account, shortcode string) (*domain.CustomEmoji, error) {
	for _, tag := range asMaps(env.Raw["tag"]) {
		if !hasType(tag, "Emoji") || strings.Trim(stringField(tag, "name"), ":") != shortcode {
			continue
		}
		emoji, err := e.resolveEmoji(tag, actor)
		if err != nil {
			return nil, err
		}
		if emoji != nil {
			if err := e.db.SaveCustomEmoji(emoji); err != nil {
				return nil, fmt.Errorf("failed to store emoji: %w", err)
			}
		}
		break
	}
	emoji, err := e.db.ReadCustomEmoji(shortcode, actor.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to read emoji: %w", err)
	}
	return emoji, nil
}

func (e *Engine) interactionCreated(status *domain.Status, actor *domain.Account, typ domain.NotificationType, fx *effects) error {
	author, err := e.db.ReadAccountById(status.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read author: %w", err)
	}
	fx.notify(author, actor.Id, typ, &status.Id)
	if err := e.db.RegisterTrend(status.Id); err != nil {
		log.Printf("Inbox: Failed to register trend for %s: %v", status.Id, err)
	}
	return nil
}
