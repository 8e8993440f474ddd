package activitypub

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

// Options carries per-delivery context into the handlers
type Options struct {
	// DeliveredToAccountId is set when the activity arrived at a personal inbox
	DeliveredToAccountId *uuid.UUID
	// DeliveredToGroupId is set when the activity arrived at a group inbox
	DeliveredToGroupId *uuid.UUID
	RequestId          string
	// OverrideTimestamps distributes statuses regardless of their age
	OverrideTimestamps bool
	// RelayedThroughActor is the relay that forwarded the activity, if any
	RelayedThroughActor *domain.Account
	// Fetched marks objects we dereferenced ourselves
	Fetched bool
}

// EngineDeps holds the collaborators of an Engine
type EngineDeps struct {
	Database Database
	Fetcher  Fetcher
	Tasks    TaskQueue
	Markers  MarkerStore
}

// Engine is the shared context every activity handler runs against
type Engine struct {
	db      Database
	fetcher Fetcher
	tasks   TaskQueue
	locks   *Locker
	conf    *util.AppConfig
	now     func() time.Time
}

// NewEngine creates an engine bound to the given dependencies
func NewEngine(conf *util.AppConfig, deps EngineDeps) *Engine {
	return &Engine{
		db:      deps.Database,
		fetcher: deps.Fetcher,
		tasks:   deps.Tasks,
		locks:   NewLocker(deps.Markers),
		conf:    conf,
		now:     time.Now,
	}
}

// Process validates nothing about transport; it assumes actor has been
// authenticated and dispatches the envelope to the handler for its type.
// The returned value is the primary record the activity produced, if any.
func (e *Engine) Process(ctx context.Context, env *Envelope, actor *domain.Account, opts Options) (any, error) {
	kind := ParseKind(env.Type)
	start := e.now()

	result, outcome, err := e.dispatch(ctx, kind, env, actor, opts)

	activitiesProcessed.WithLabelValues(kind.String(), outcome).Inc()
	activityDuration.WithLabelValues(kind.String()).Observe(e.now().Sub(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to process %s %s: %w", env.Type, env.Id, err)
	}
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, kind Kind, env *Envelope, actor *domain.Account, opts Options) (any, string, error) {
	if actor == nil {
		return e.processUnsigned(ctx, kind, env, opts)
	}
	if actor.Suspended && kind != KindDelete {
		log.Printf("Inbox: Dropping %s from suspended actor %s", env.Type, actor.URI)
		return nil, outcomeIgnored, nil
	}

	var (
		result any
		err    error
	)
	switch kind {
	case KindCreate:
		result, err = e.handleCreate(ctx, env, actor, opts)
	case KindAnnounce:
		result, err = e.handleAnnounce(ctx, env, actor, opts)
	case KindDelete:
		result, err = e.handleDelete(ctx, env, actor, opts)
	case KindFollow:
		result, err = e.handleFollow(ctx, env, actor, opts)
	case KindLike:
		result, err = e.handleLike(ctx, env, actor, opts)
	case KindEmojiReact:
		result, err = e.handleEmojiReact(ctx, env, actor, opts)
	case KindBlock:
		result, err = e.handleBlock(ctx, env, actor, opts)
	case KindUpdate:
		result, err = e.handleUpdate(ctx, env, actor, opts)
	case KindUndo:
		result, err = e.handleUndo(ctx, env, actor, opts)
	case KindAccept:
		result, err = e.handleAccept(ctx, env, actor, opts)
	case KindReject:
		result, err = e.handleReject(ctx, env, actor, opts)
	case KindFlag:
		result, err = e.handleFlag(ctx, env, actor, opts)
	case KindAdd:
		result, err = e.handleAdd(ctx, env, actor, opts)
	case KindRemove:
		result, err = e.handleRemove(ctx, env, actor, opts)
	case KindMove:
		result, err = e.handleMove(ctx, env, actor, opts)
	case KindJoin:
		result, err = e.handleJoin(ctx, env, actor, opts)
	case KindLeave:
		result, err = e.handleLeave(ctx, env, actor, opts)
	case KindQuoteRequest:
		result, err = e.handleQuoteRequest(ctx, env, actor, opts)
	default:
		log.Printf("Inbox: Unsupported activity type: %s", env.Type)
		return nil, outcomeIgnored, nil
	}

	switch {
	case err != nil:
		return nil, outcomeFailed, err
	case isNil(result):
		return nil, outcomeIgnored, nil
	default:
		return result, outcomeProcessed, nil
	}
}

// processUnsigned handles activities that reached us without a verifiable
// actor. Only public Creates are accepted, attributed to the already known
// author and never forwarded.
func (e *Engine) processUnsigned(ctx context.Context, kind Kind, env *Envelope, opts Options) (any, string, error) {
	if kind != KindCreate {
		log.Printf("Inbox: Dropping unsigned %s %s", env.Type, env.Id)
		return nil, outcomeIgnored, nil
	}
	addressed := env.Audience()
	if obj := env.ObjectMap(); obj != nil {
		to, cc := objectAudience(env, obj)
		addressed = append(append(addressed, to...), cc...)
	}
	public := false
	for _, uri := range addressed {
		if isPublic(uri) {
			public = true
			break
		}
	}
	if !public {
		log.Printf("Inbox: Dropping unsigned non-public Create %s", env.Id)
		return nil, outcomeIgnored, nil
	}
	author, err := e.db.ReadAccountByURI(env.Actor)
	if err != nil {
		return nil, outcomeFailed, fmt.Errorf("failed to read actor: %w", err)
	}
	if author == nil || author.Suspended {
		return nil, outcomeIgnored, nil
	}
	env.Signed = false
	result, err := e.handleCreate(ctx, env, author, opts)
	if err != nil {
		return nil, outcomeFailed, err
	}
	if isNil(result) {
		return nil, outcomeIgnored, nil
	}
	return result, outcomeProcessed, nil
}

// isNil catches typed nil pointers stored in an interface
func isNil(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case *domain.Status:
		return r == nil
	case *domain.Follow:
		return r == nil
	case *domain.Favourite:
		return r == nil
	case *domain.EmojiReaction:
		return r == nil
	case *domain.Block:
		return r == nil
	case *domain.Quote:
		return r == nil
	case *domain.GroupMembership:
		return r == nil
	case *domain.Relay:
		return r == nil
	case *domain.Account:
		return r == nil
	case *domain.PollVote:
		return r == nil
	case *domain.EncryptedMessage:
		return r == nil
	case *domain.StatusPin:
		return r == nil
	case *domain.Poll:
		return r == nil
	}
	return false
}

// localDomain returns the lower-cased host this server answers on
func (e *Engine) localDomain() string {
	return strings.ToLower(e.conf.Conf.SslDomain)
}

// isLocalURI reports whether uri points at this server
func (e *Engine) isLocalURI(uri string) bool {
	host := util.HostOf(uri)
	return host != "" && host == e.localDomain()
}

// activityURI mints an id for an outbound activity
func (e *Engine) activityURI() string {
	return fmt.Sprintf("https://%s/activities/%s", e.conf.Conf.SslDomain, uuid.New().String())
}

// realtime reports whether a status is recent enough for timelines and notifications
func (e *Engine) realtime(createdAt time.Time, opts Options) bool {
	if opts.OverrideTimestamps {
		return true
	}
	return e.now().Sub(createdAt) <= e.conf.Inbox.RealtimeWindow
}
