package activitypub

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

// effects collects background work produced by a handler. Nothing is
// submitted until flush, which handlers call after their transaction commits.
type effects struct {
	tasks []tasks.Task
}

func (fx *effects) add(t tasks.Task) {
	fx.tasks = append(fx.tasks, t)
}

// notify schedules a notification for a local recipient
func (fx *effects) notify(recipient *domain.Account, fromId uuid.UUID, typ domain.NotificationType, statusId *uuid.UUID) {
	if recipient == nil || !recipient.IsLocal() || recipient.Id == fromId {
		return
	}
	t := tasks.Task{
		Kind:             tasks.KindNotify,
		AccountId:        recipient.Id,
		FromAccountId:    fromId,
		NotificationType: string(typ),
	}
	if statusId != nil {
		t.TargetId = *statusId
	}
	fx.add(t)
}

// distribute fans a status out to the home feeds of its author's local followers
func (fx *effects) distribute(status *domain.Status) {
	fx.add(tasks.Task{
		Kind:          tasks.KindDistribute,
		FromAccountId: status.AccountId,
		TargetId:      status.Id,
	})
}

// distributeTo inserts a status into a single local feed
func (fx *effects) distributeTo(status *domain.Status, accountId uuid.UUID) {
	fx.add(tasks.Task{
		Kind:          tasks.KindDistribute,
		AccountId:     accountId,
		FromAccountId: status.AccountId,
		TargetId:      status.Id,
	})
}

// forward relays a payload verbatim to inboxes, signed by a local account
func (fx *effects) forward(signerId uuid.UUID, payload []byte, inboxes []string) {
	if len(inboxes) == 0 || len(payload) == 0 {
		return
	}
	fx.add(tasks.Task{
		Kind:      tasks.KindDeliver,
		AccountId: signerId,
		Payload:   payload,
		Inboxes:   inboxes,
	})
}

// deliver serializes an activity and schedules it for the given inboxes
func (fx *effects) deliver(signer *domain.Account, activity map[string]any, inboxes ...string) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	fx.forward(signer.Id, payload, inboxes)
	return nil
}

// forwardPayload relays the activity verbatim to inboxes, skipping the
// sender's own server
func (e *Engine) forwardPayload(env *Envelope, signerId uuid.UUID, inboxes []string, sender *domain.Account, fx *effects) {
	targets := make([]string, 0, len(inboxes))
	for _, inbox := range inboxes {
		if inbox == sender.InboxURI || inbox == sender.SharedInboxURI || util.SameHost(inbox, sender.URI) {
			continue
		}
		targets = append(targets, inbox)
	}
	payload := env.Body
	if len(payload) == 0 {
		var err error
		payload, err = json.Marshal(env.Raw)
		if err != nil {
			log.Printf("Inbox: Failed to marshal forwarded activity: %v", err)
			return
		}
	}
	fx.forward(signerId, payload, targets)
}

// flush hands the collected work to the task queue
func (e *Engine) flush(fx *effects) {
	for _, t := range fx.tasks {
		if !e.tasks.Submit(t) {
			log.Printf("Inbox: Task queue full, dropped %s task for %s", t.Kind, t.TargetId)
		}
	}
	fx.tasks = nil
}
