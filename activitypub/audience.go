package activitypub

import (
	"fmt"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// visibilityFrom derives a status visibility from its addressing
func visibilityFrom(to, cc []string, followersURI string) domain.Visibility {
	for _, uri := range to {
		if isPublic(uri) {
			return domain.VisibilityPublic
		}
	}
	for _, uri := range cc {
		if isPublic(uri) {
			return domain.VisibilityUnlisted
		}
	}
	if followersURI != "" {
		for _, uri := range to {
			if uri == followersURI {
				return domain.VisibilityPrivate
			}
		}
	}
	return domain.VisibilityDirect
}

// audience is the resolved addressing of a new status
type audience struct {
	Visibility domain.Visibility
	Mentions   []*domain.Mention
	// Silenced holds explicitly tagged accounts that were not addressed;
	// they are attributed but never notified
	Silenced map[uuid.UUID]bool
}

// resolveAudience turns to/cc into silent mentions and the final visibility.
// explicit are the accounts tagged in the status; they win over silent ones.
func (e *Engine) resolveAudience(db Database, to, cc []string, author *domain.Account, explicit []*domain.Account, opts Options) (*audience, error) {
	a := &audience{
		Visibility: visibilityFrom(to, cc, author.FollowersURI),
		Silenced:   make(map[uuid.UUID]bool),
	}

	tagged := make(map[uuid.UUID]bool, len(explicit))
	for _, acc := range explicit {
		if tagged[acc.Id] {
			continue
		}
		tagged[acc.Id] = true
		a.Mentions = append(a.Mentions, &domain.Mention{AccountId: acc.Id})
	}

	var addressed []*domain.Account
	seen := make(map[uuid.UUID]bool)
	seenURI := make(map[string]bool)
	for _, uri := range append(append([]string{}, to...), cc...) {
		if isPublic(uri) || uri == author.FollowersURI || seenURI[uri] {
			continue
		}
		seenURI[uri] = true
		acc, err := db.ReadAccountByURI(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve audience %s: %w", uri, err)
		}
		if acc == nil || seen[acc.Id] {
			continue
		}
		seen[acc.Id] = true
		addressed = append(addressed, acc)
	}

	if opts.DeliveredToAccountId != nil && !seen[*opts.DeliveredToAccountId] {
		acc, err := db.ReadAccountById(*opts.DeliveredToAccountId)
		if err != nil {
			return nil, fmt.Errorf("failed to read recipient: %w", err)
		}
		if acc != nil {
			seen[acc.Id] = true
			addressed = append(addressed, acc)
		}
	}

	for _, acc := range addressed {
		if tagged[acc.Id] || acc.Id == author.Id {
			continue
		}
		a.Mentions = append(a.Mentions, &domain.Mention{AccountId: acc.Id, Silent: true})
		if a.Visibility == domain.VisibilityDirect {
			a.Visibility = domain.VisibilityLimited
		}
	}

	for id := range tagged {
		if !seen[id] {
			a.Silenced[id] = true
		}
	}
	return a, nil
}
