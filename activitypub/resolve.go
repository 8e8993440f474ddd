package activitypub

import (
	"context"
	"fmt"
	"log"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
)

// accountFromURI looks an account up locally. Unknown remote accounts are
// fetched when fetch is set; fetch failures resolve to nil.
func (e *Engine) accountFromURI(ctx context.Context, uri string, fetch bool) (*domain.Account, error) {
	if uri == "" {
		return nil, nil
	}
	acc, err := e.db.ReadAccountByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", uri, err)
	}
	if acc != nil || !fetch || e.isLocalURI(uri) {
		return acc, nil
	}
	acc, err = e.fetcher.FetchAccount(ctx, uri)
	if err != nil {
		log.Printf("Inbox: Failed to fetch account %s: %v", uri, err)
		return nil, nil
	}
	return acc, nil
}

// localAccountFromURI resolves uri only if it names an account on this server
func (e *Engine) localAccountFromURI(uri string) (*domain.Account, error) {
	if !e.isLocalURI(uri) {
		return nil, nil
	}
	acc, err := e.db.ReadAccountByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", uri, err)
	}
	if acc == nil || !acc.IsLocal() {
		return nil, nil
	}
	return acc, nil
}

// statusFromURI looks a status up locally
func (e *Engine) statusFromURI(uri string) (*domain.Status, error) {
	if uri == "" {
		return nil, nil
	}
	status, err := e.db.ReadStatusByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read status %s: %w", uri, err)
	}
	return status, nil
}

// fetchStatus returns the local copy of a status, dereferencing and
// ingesting it when it is unknown. The fetched document must live on the
// same host as its author.
func (e *Engine) fetchStatus(ctx context.Context, uri string, opts Options) (*domain.Status, error) {
	status, err := e.statusFromURI(uri)
	if err != nil || status != nil || uri == "" || e.isLocalURI(uri) {
		return status, err
	}

	obj, err := e.fetcher.FetchObject(ctx, uri)
	if err != nil {
		log.Printf("Inbox: Failed to fetch object %s: %v", uri, err)
		return nil, nil
	}
	id := stringField(obj, "id")
	if !util.SameHost(id, uri) {
		log.Printf("Inbox: Fetched object %s claims foreign id %s", uri, id)
		return nil, nil
	}
	authorURI := uriOf(obj["attributedTo"])
	if !util.SameHost(authorURI, id) {
		log.Printf("Inbox: Fetched object %s is attributed to foreign actor %s", id, authorURI)
		return nil, nil
	}
	author, err := e.accountFromURI(ctx, authorURI, true)
	if err != nil || author == nil {
		return nil, err
	}

	env := NewEnvelope(map[string]any{
		"id":     id + "#create",
		"type":   "Create",
		"actor":  author.URI,
		"object": obj,
		"to":     obj["to"],
		"cc":     obj["cc"],
	})
	result, err := e.handleCreate(ctx, env, author, Options{Fetched: true, RequestId: opts.RequestId})
	if err != nil {
		return nil, err
	}
	status, _ = result.(*domain.Status)
	return status, nil
}

// relayAccepted reports whether the activity reached us through a relay we subscribe to
func (e *Engine) relayAccepted(opts Options) (bool, error) {
	relayActor := opts.RelayedThroughActor
	if relayActor == nil {
		return false, nil
	}
	for _, inbox := range []string{relayActor.InboxURI, relayActor.SharedInboxURI} {
		if inbox == "" {
			continue
		}
		relay, err := e.db.ReadRelayByInboxURI(inbox)
		if err != nil {
			return false, fmt.Errorf("failed to read relay: %w", err)
		}
		if relay != nil && relay.State == domain.RelayAccepted {
			return true, nil
		}
	}
	return false, nil
}

// relatedToLocalActivity decides whether an object from actor concerns
// anybody on this server. Unrelated objects are dropped.
func (e *Engine) relatedToLocalActivity(actor *domain.Account, addressed []string, parent *domain.Status, opts Options) (bool, error) {
	if opts.Fetched || opts.DeliveredToAccountId != nil || opts.DeliveredToGroupId != nil {
		return true, nil
	}

	followed, err := e.db.HasLocalFollowers(actor.Id)
	if err != nil {
		return false, fmt.Errorf("failed to check followers: %w", err)
	}
	if followed {
		return true, nil
	}

	relayed, err := e.relayAccepted(opts)
	if err != nil || relayed {
		return relayed, err
	}

	for _, uri := range addressed {
		if e.isLocalURI(uri) {
			return true, nil
		}
	}

	if parent != nil {
		if parent.Local {
			return true, nil
		}
		followed, err := e.db.HasLocalFollowers(parent.AccountId)
		if err != nil {
			return false, fmt.Errorf("failed to check followers: %w", err)
		}
		return followed, nil
	}
	return false, nil
}
