package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// isVoteShaped reports whether obj looks like a poll answer: a named reply
// without content
func isVoteShaped(obj map[string]any) bool {
	text, _ := contentOf(obj)
	return stringField(obj, "name") != "" && uriOf(obj["inReplyTo"]) != "" && text == ""
}

// createPollVote records a vote on a local poll. handled is false when the
// parent is not a local poll, in which case obj is an ordinary reply.
func (e *Engine) createPollVote(ctx context.Context, obj map[string]any, actor *domain.Account) (bool, *domain.PollVote, error) {
	parent, err := e.statusFromURI(uriOf(obj["inReplyTo"]))
	if err != nil {
		return true, nil, err
	}
	if parent == nil || !parent.Local || parent.PollId == nil {
		return false, nil, nil
	}
	poll, err := e.db.ReadPollById(*parent.PollId)
	if err != nil {
		return true, nil, fmt.Errorf("failed to read poll: %w", err)
	}
	if poll == nil {
		return false, nil, nil
	}

	if poll.Expired(e.now()) {
		log.Printf("Inbox: Ignoring vote from %s on expired poll %s", actor.URI, poll.Id)
		return true, nil, nil
	}
	choice := poll.OptionIndex(stringField(obj, "name"))
	if choice < 0 {
		log.Printf("Inbox: Ignoring vote from %s for unknown option %q", actor.URI, stringField(obj, "name"))
		return true, nil, nil
	}

	var vote *domain.PollVote
	key := "vote:" + poll.Id.String() + ":" + actor.Id.String()
	err = e.locks.WithLock(ctx, key, func() error {
		v := &domain.PollVote{
			Id:        uuid.New(),
			PollId:    poll.Id,
			AccountId: actor.Id,
			Choice:    choice,
			URI:       stringField(obj, "id"),
			CreatedAt: e.now(),
		}
		stored := false
		// The vote row and the counters commit together so a failed counter
		// update leaves nothing behind for the redelivery to trip over
		err := e.db.Transaction(func(tx Database) error {
			voted, err := tx.HasPollVote(poll.Id, actor.Id)
			if err != nil {
				return fmt.Errorf("failed to check votes: %w", err)
			}
			if voted && !poll.Multiple {
				log.Printf("Inbox: %s already voted on single choice poll %s", actor.URI, poll.Id)
				return nil
			}
			if err := tx.CreatePollVote(v); err != nil {
				if errors.Is(err, domain.ErrDuplicate) {
					return nil
				}
				return fmt.Errorf("failed to store vote: %w", err)
			}
			if err := e.incrementPoll(tx, poll.Id, choice, !voted); err != nil {
				return err
			}
			stored = true
			return nil
		})
		if err != nil {
			return err
		}
		if stored {
			vote = v
		}
		return nil
	})
	if err != nil {
		return true, nil, err
	}
	return true, vote, nil
}

// incrementPoll bumps the tally for choice, and the voter count for a first
// vote, with optimistic locking. Every attempt rereads the poll through tx.
// Giving up after the configured attempts is logged and not an error.
func (e *Engine) incrementPoll(tx Database, pollId uuid.UUID, choice int, newVoter bool) error {
	attempts := e.conf.Inbox.PollVoteRetries
	for i := 0; i < attempts; i++ {
		poll, err := tx.ReadPollById(pollId)
		if err != nil {
			return fmt.Errorf("failed to read poll: %w", err)
		}
		if poll == nil {
			return nil
		}
		for len(poll.CachedTallies) < len(poll.Options) {
			poll.CachedTallies = append(poll.CachedTallies, 0)
		}
		poll.CachedTallies[choice]++
		if newVoter {
			poll.VotersCount++
		}

		err = tx.UpdatePollCounters(poll)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStaleObject) {
			return fmt.Errorf("failed to update poll: %w", err)
		}
		pollVoteConflicts.Inc()
	}
	log.Printf("Inbox: Gave up updating counters of poll %s after %d attempts", pollId, attempts)
	return nil
}

// buildPoll turns a Question into a poll for status
func (e *Engine) buildPoll(obj map[string]any, status *domain.Status) *domain.Poll {
	if !hasType(obj, "Question") {
		return nil
	}
	options, tallies, multiple := pollOptions(obj)
	if len(options) == 0 {
		return nil
	}
	return &domain.Poll{
		Id:            uuid.New(),
		StatusId:      status.Id,
		AccountId:     status.AccountId,
		Options:       options,
		CachedTallies: tallies,
		Multiple:      multiple,
		ExpiresAt:     pollExpiry(obj, e.now()),
		VotersCount:   intField(obj, "votersCount"),
		CreatedAt:     e.now(),
	}
}

// pollOptions reads oneOf (single choice) or anyOf (multiple choice)
func pollOptions(obj map[string]any) ([]string, []int, bool) {
	multiple := false
	items := asMaps(obj["oneOf"])
	if len(items) == 0 {
		items = asMaps(obj["anyOf"])
		multiple = true
	}
	options := make([]string, 0, len(items))
	tallies := make([]int, 0, len(items))
	for _, item := range items {
		name := stringField(item, "name")
		if name == "" {
			continue
		}
		options = append(options, name)
		replies, _ := item["replies"].(map[string]any)
		tallies = append(tallies, intField(replies, "totalItems"))
	}
	return options, tallies, multiple
}

// pollExpiry reads endTime, falling back to closed
func pollExpiry(obj map[string]any, now time.Time) *time.Time {
	if t := parseTime(stringField(obj, "endTime")); !t.IsZero() {
		return &t
	}
	switch closed := obj["closed"].(type) {
	case string:
		if t := parseTime(closed); !t.IsZero() {
			return &t
		}
	case bool:
		if closed {
			return &now
		}
	}
	return nil
}

// createEncryptedMessage stores an end-to-end encrypted payload for one of
// the recipient's registered devices
func (e *Engine) createEncryptedMessage(env *Envelope, obj map[string]any, actor *domain.Account, opts Options) (any, error) {
	if opts.DeliveredToAccountId == nil {
		log.Printf("Inbox: Encrypted message %s was not delivered to a personal inbox", env.Id)
		return nil, nil
	}
	target, err := e.db.ReadAccountById(*opts.DeliveredToAccountId)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipient: %w", err)
	}
	if target == nil || !target.IsLocal() {
		return nil, nil
	}

	from, _ := obj["attributedTo"].(map[string]any)
	if from == nil || uriOf(from) != actor.URI {
		log.Printf("Inbox: Encrypted message %s has a forged sender", env.Id)
		return nil, nil
	}
	to, _ := obj["to"].(map[string]any)
	device, err := e.db.ReadDevice(target.Id, deviceIdOf(to))
	if err != nil {
		return nil, fmt.Errorf("failed to read device: %w", err)
	}
	if device == nil {
		log.Printf("Inbox: No device %q registered for %s", deviceIdOf(to), target.Acct())
		return nil, nil
	}

	digest, _ := obj["digest"].(map[string]any)
	msg := &domain.EncryptedMessage{
		Id:              uuid.New(),
		DeviceId:        device.Id,
		FromAccountId:   actor.Id,
		FromDeviceId:    deviceIdOf(from),
		Type:            intField(obj, "messageType"),
		Body:            stringField(obj, "cipherText"),
		Digest:          stringField(digest, "digestValue"),
		MessageFranking: stringField(obj, "messageFranking"),
		CreatedAt:       e.now(),
	}
	if err := e.db.CreateEncryptedMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to store encrypted message: %w", err)
	}
	return msg, nil
}

// deviceIdOf accepts the device id as a string or a number
func deviceIdOf(m map[string]any) string {
	switch v := m["deviceId"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	}
	return ""
}
