package activitypub

import (
	"context"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// handleFlag files one report per reported local account
func (e *Engine) handleFlag(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	if e.conf.Inbox.RejectsReportsFrom(actor.Domain) {
		log.Printf("Inbox: Dropping report from %s", actor.Domain)
		return nil, nil
	}

	var order []uuid.UUID
	reports := make(map[uuid.UUID]*domain.Report)
	reportFor := func(targetId uuid.UUID) *domain.Report {
		if r, ok := reports[targetId]; ok {
			return r
		}
		r := &domain.Report{
			Id:              uuid.New(),
			AccountId:       actor.Id,
			TargetAccountId: targetId,
			Comment:         stringField(env.Raw, "content"),
			URI:             env.Id,
			CreatedAt:       e.now(),
		}
		reports[targetId] = r
		order = append(order, targetId)
		return r
	}

	for _, uri := range env.ObjectURIs() {
		acc, err := e.localAccountFromURI(uri)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			reportFor(acc.Id)
			continue
		}
		status, err := e.localStatus(uri)
		if err != nil {
			return nil, err
		}
		if status != nil {
			r := reportFor(status.AccountId)
			r.StatusIds = append(r.StatusIds, status.Id)
		}
	}

	if len(order) == 0 {
		return nil, nil
	}
	created := make([]*domain.Report, 0, len(order))
	for _, targetId := range order {
		r := reports[targetId]
		if err := e.db.CreateReport(r); err != nil {
			return nil, fmt.Errorf("failed to store report: %w", err)
		}
		created = append(created, r)
	}
	log.Printf("Inbox: %s filed %d reports", actor.URI, len(created))
	return created, nil
}
