package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// handleBlock records a remote account blocking a local one and tears down
// follows in both directions
func (e *Engine) handleBlock(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	target, err := e.localAccountFromURI(env.ObjectURI())
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	var block *domain.Block
	err = e.db.Transaction(func(tx Database) error {
		for _, pair := range [][2]uuid.UUID{{target.Id, actor.Id}, {actor.Id, target.Id}} {
			follow, err := tx.ReadFollow(pair[0], pair[1])
			if err != nil {
				return fmt.Errorf("failed to read follow: %w", err)
			}
			if follow != nil {
				if err := tx.DeleteFollow(follow.Id); err != nil {
					return fmt.Errorf("failed to remove follow: %w", err)
				}
			}
		}

		block = &domain.Block{
			Id:              uuid.New(),
			AccountId:       actor.Id,
			TargetAccountId: target.Id,
			URI:             env.Id,
			CreatedAt:       e.now(),
		}
		err := tx.CreateBlock(block)
		if errors.Is(err, domain.ErrDuplicate) {
			block, err = tx.ReadBlock(actor.Id, target.Id)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store block: %w", err)
	}
	log.Printf("Inbox: %s blocked %s", actor.URI, target.Acct())
	return block, nil
}
