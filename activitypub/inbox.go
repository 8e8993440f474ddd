package activitypub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// Request bodies above this size are refused
const maxBodySize = 1 * 1024 * 1024

// AccountResolver finds the account behind a signature keyId
type AccountResolver interface {
	GetOrFetchAccount(ctx context.Context, uri string) (*domain.Account, error)
	FetchAccount(ctx context.Context, uri string) (*domain.Account, error)
}

// InboxDeps holds dependencies for inbox handlers (for testing)
type InboxDeps struct {
	Database Database
	Accounts AccountResolver
	Engine   *Engine
}

// HandleInboxWithDeps authenticates an inbound activity, records it for
// deduplication and hands it to the engine. opts carries the inbox the
// activity was posted to.
func HandleInboxWithDeps(w http.ResponseWriter, r *http.Request, opts Options, deps *InboxDeps) {
	ctx := r.Context()

	if r.Header.Get("Signature") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(body) > maxBodySize {
		log.Printf("Inbox: Request body too large")
		http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	if env.Id == "" || env.Actor == "" {
		log.Printf("Inbox: %s without id or actor", env.Type)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	log.Printf("Inbox: Received %s from %s", env.Type, env.Actor)

	signer, status := authenticate(ctx, r, body, deps.Accounts)
	if signer == nil {
		http.Error(w, "Invalid signature", status)
		return
	}

	actor, err := actorForSigner(env, signer, deps.Engine, &opts)
	if err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	record, fresh, err := recordActivity(deps.Database, env, body)
	if err != nil {
		log.Printf("Inbox: Failed to store activity: %v", err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}
	if !fresh {
		log.Printf("Inbox: Activity %s already processed, returning success", env.Id)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if opts.RequestId == "" {
		opts.RequestId = r.Header.Get("X-Request-Id")
	}
	if _, err := deps.Engine.Process(ctx, env, actor, opts); err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	record.Processed = true
	if err := deps.Database.UpdateActivity(record); err != nil {
		log.Printf("Inbox: Failed to mark %s processed: %v", env.Id, err)
	}
	w.WriteHeader(http.StatusAccepted)
}

// authenticate resolves the signing account and verifies the request
// signature against its key. A failed check against a cached key is retried
// once with a freshly fetched actor to survive key rotation.
func authenticate(ctx context.Context, r *http.Request, body []byte, accounts AccountResolver) (*domain.Account, int) {
	keyId, err := SignatureKeyId(r)
	if err != nil {
		log.Printf("Inbox: %v", err)
		return nil, http.StatusUnauthorized
	}
	signerURI := actorFromKeyId(keyId)

	signer, err := accounts.GetOrFetchAccount(ctx, signerURI)
	if err != nil || signer == nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", signerURI, err)
		return nil, http.StatusUnauthorized
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	if _, err := VerifyRequest(r, signer.PublicKeyPem); err == nil {
		return signer, 0
	} else if signer.IsLocal() {
		log.Printf("Inbox: Signature verification failed: %v", err)
		return nil, http.StatusUnauthorized
	}

	refreshed, err := accounts.FetchAccount(ctx, signerURI)
	if err != nil || refreshed == nil || refreshed.PublicKeyPem == signer.PublicKeyPem {
		log.Printf("Inbox: Signature verification failed for %s", signerURI)
		return nil, http.StatusUnauthorized
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if _, err := VerifyRequest(r, refreshed.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		return nil, http.StatusUnauthorized
	}
	return refreshed, 0
}

// actorForSigner decides who the activity is attributed to. An activity
// signed by someone other than its actor is processed as unsigned; a signer
// that is one of our relays is recorded in opts.
func actorForSigner(env *Envelope, signer *domain.Account, engine *Engine, opts *Options) (*domain.Account, error) {
	relay, err := engine.relayOf(signer)
	if err != nil {
		return nil, err
	}
	if relay != nil {
		opts.RelayedThroughActor = signer
	}
	if signer.URI == env.Actor {
		return signer, nil
	}
	log.Printf("Inbox: %s signed by %s, treating as unsigned", env.Id, signer.URI)
	return nil, nil
}

// recordActivity stores the activity for deduplication. fresh is false when
// an earlier delivery was already processed; an unprocessed earlier record
// is returned for another attempt.
func recordActivity(database Database, env *Envelope, body []byte) (*domain.Activity, bool, error) {
	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  env.Id,
		ActivityType: env.Type,
		ActorURI:     env.Actor,
		ObjectURI:    env.ObjectURI(),
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	}
	err := database.CreateActivity(record)
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return nil, false, err
	}
	existing, err := database.ReadActivityByURI(env.Id)
	if err != nil || existing == nil {
		return nil, false, err
	}
	return existing, !existing.Processed, nil
}
