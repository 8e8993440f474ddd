package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

const quoteAuthorizationsPath = "/quote_authorizations/"

// handleQuoteRequest answers a request to quote one of our statuses
func (e *Engine) handleQuoteRequest(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	if !util.SameHost(env.Id, actor.URI) {
		log.Printf("Inbox: QuoteRequest %s does not originate from %s", env.Id, actor.URI)
		return nil, nil
	}
	quoted, err := e.statusFromURI(env.ObjectURI())
	if err != nil {
		return nil, err
	}
	if quoted == nil || !quoted.Local || quoted.IsReblog() || !quoted.Visibility.Distributable() {
		log.Printf("Inbox: QuoteRequest %s targets a status that cannot be quoted", env.Id)
		return nil, nil
	}
	author, err := e.db.ReadAccountById(quoted.AccountId)
	if err != nil {
		return nil, fmt.Errorf("failed to read quoted author: %w", err)
	}
	if author == nil {
		return nil, nil
	}

	var (
		fx    effects
		quote *domain.Quote
	)
	err = e.locks.WithLock(ctx, "quote:"+env.Id, func() error {
		allowed, err := e.quoteAllowed(actor, author)
		if err != nil {
			return err
		}
		if allowed {
			quote, err = e.acceptQuoteRequest(ctx, env, actor, author, quoted, opts, &fx)
		} else {
			quote, err = e.rejectQuoteRequest(env, actor, author, quoted, &fx)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.flush(&fx)
	if quote == nil {
		return nil, nil
	}
	return quote, nil
}

// quoteAllowed applies the quote policy: no block in either direction
func (e *Engine) quoteAllowed(actor, author *domain.Account) (bool, error) {
	for _, pair := range [][2]*domain.Account{{author, actor}, {actor, author}} {
		block, err := e.db.ReadBlock(pair[0].Id, pair[1].Id)
		if err != nil {
			return false, fmt.Errorf("failed to read block: %w", err)
		}
		if block != nil {
			return false, nil
		}
	}
	blocked, err := e.db.IsDomainBlocked(author.Id, actor.Domain)
	if err != nil {
		return false, fmt.Errorf("failed to read domain block: %w", err)
	}
	return !blocked, nil
}

func (e *Engine) acceptQuoteRequest(ctx context.Context, env *Envelope, actor, author *domain.Account, quoted *domain.Status, opts Options, fx *effects) (*domain.Quote, error) {
	instrumentURI := uriOf(env.Raw["instrument"])
	if instrumentURI == "" || !util.SameHost(instrumentURI, actor.URI) {
		return nil, nil
	}
	status, err := e.fetchStatus(ctx, instrumentURI, opts)
	if err != nil {
		return nil, err
	}
	if status == nil || status.QuoteId == nil || status.AccountId != actor.Id {
		log.Printf("Inbox: QuoteRequest %s has no usable instrument", env.Id)
		return nil, nil
	}
	quote, err := e.db.ReadQuoteById(*status.QuoteId)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	if quote == nil || quote.QuotedStatusId != quoted.Id {
		log.Printf("Inbox: Instrument %s does not quote %s", status.URI, quoted.URI)
		return nil, nil
	}

	quote.ActivityURI = env.Id
	quote.State = domain.QuoteAccepted
	quote.ApprovalURI = author.URI + quoteAuthorizationsPath + quote.Id.String()
	if err := e.db.UpdateQuote(quote); err != nil {
		return nil, fmt.Errorf("failed to accept quote: %w", err)
	}

	accept := e.response("Accept", author, env)
	accept["result"] = quote.ApprovalURI
	if err := fx.deliver(author, accept, actor.InboxURI); err != nil {
		return nil, err
	}
	fx.notify(author, actor.Id, domain.NotificationQuote, &status.Id)
	if e.realtime(status.CreatedAt, opts) {
		fx.distribute(status)
	}
	log.Printf("Inbox: Accepted quote of %s by %s", quoted.URI, actor.URI)
	return quote, nil
}

func (e *Engine) rejectQuoteRequest(env *Envelope, actor, author *domain.Account, quoted *domain.Status, fx *effects) (*domain.Quote, error) {
	quote := &domain.Quote{
		Id:              uuid.New(),
		QuotedStatusId:  quoted.Id,
		AccountId:       actor.Id,
		QuotedAccountId: author.Id,
		ActivityURI:     env.Id,
		State:           domain.QuoteRejected,
	}
	if err := e.db.CreateQuote(quote); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, fmt.Errorf("failed to store rejected quote: %w", err)
		}
		quote, err = e.db.ReadQuoteByActivityURI(env.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to read quote: %w", err)
		}
	}
	if err := fx.deliver(author, e.response("Reject", author, env), actor.InboxURI); err != nil {
		return nil, err
	}
	log.Printf("Inbox: Rejected quote of %s by %s", quoted.URI, actor.URI)
	return quote, nil
}

// resolveQuote links a new status to the status it quotes. A quote we
// authorized earlier is reused; otherwise a pending quote is recorded.
func (e *Engine) resolveQuote(obj map[string]any, actor *domain.Account, d *statusDraft) error {
	quotedURI := ""
	for _, key := range []string{"quote", "quoteUrl", "quoteUri", "_misskey_quote"} {
		if quotedURI = uriOf(obj[key]); quotedURI != "" {
			break
		}
	}
	if quotedURI == "" {
		return nil
	}
	quoted, err := e.statusFromURI(quotedURI)
	if err != nil || quoted == nil {
		return err
	}

	approval := uriOf(obj["quoteAuthorization"])
	if approval != "" && e.isLocalURI(approval) {
		quote, err := e.quoteFromApproval(approval)
		if err != nil {
			return err
		}
		if quote != nil && quote.QuotedStatusId == quoted.Id && quote.AccountId == actor.Id && quote.State == domain.QuoteAccepted {
			d.quote = quote
			d.quoteKnown = true
			return nil
		}
	}

	state := domain.QuotePending
	if quoted.AccountId == actor.Id {
		state = domain.QuoteAccepted
	}
	d.quote = &domain.Quote{
		Id:              uuid.New(),
		QuotedStatusId:  quoted.Id,
		AccountId:       actor.Id,
		QuotedAccountId: quoted.AccountId,
		State:           state,
	}
	if !e.isLocalURI(approval) {
		d.quote.ApprovalURI = approval
	}
	return nil
}

// quoteFromApproval resolves one of our quote authorization URIs
func (e *Engine) quoteFromApproval(uri string) (*domain.Quote, error) {
	if !strings.Contains(uri, quoteAuthorizationsPath) {
		return nil, nil
	}
	id, err := uuid.Parse(path.Base(uri))
	if err != nil {
		return nil, nil
	}
	quote, err := e.db.ReadQuoteById(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	return quote, nil
}
