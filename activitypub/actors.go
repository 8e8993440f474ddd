package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// Remote actors younger than this are served from the database
	actorCacheTTL      = 24 * time.Hour
	maxDocumentSize    = 1 << 20
	activityJSONAccept = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	ID                        string `json:"id"`
	Type                      string `json:"type"`
	PreferredUsername         string `json:"preferredUsername"`
	Name                      string `json:"name"`
	URL                       any    `json:"url"`
	Inbox                     string `json:"inbox"`
	Outbox                    string `json:"outbox"`
	Followers                 string `json:"followers"`
	Featured                  string `json:"featured"`
	ManuallyApprovesFollowers bool   `json:"manuallyApprovesFollowers"`
	AlsoKnownAs               any    `json:"alsoKnownAs"`
	MovedTo                   string `json:"movedTo"`
	Endpoints                 struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// RemoteFetcher dereferences remote documents over HTTP and keeps the
// account table in sync with what it fetched
type RemoteFetcher struct {
	db     Database
	client HTTPClient
	conf   *util.AppConfig
	group  singleflight.Group
	now    func() time.Time
}

// NewRemoteFetcher creates a fetcher storing accounts in database
func NewRemoteFetcher(database Database, client HTTPClient, conf *util.AppConfig) *RemoteFetcher {
	return &RemoteFetcher{
		db:     database,
		client: client,
		conf:   conf,
		now:    time.Now,
	}
}

var _ Fetcher = (*RemoteFetcher)(nil)

// GetOrFetchAccount returns the stored account when it is fresh and fetches it otherwise
func (f *RemoteFetcher) GetOrFetchAccount(ctx context.Context, uri string) (*domain.Account, error) {
	cached, err := f.db.ReadAccountByURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if cached != nil && (cached.IsLocal() || f.now().Sub(cached.LastFetchedAt) < actorCacheTTL) {
		return cached, nil
	}
	acc, err := f.FetchAccount(ctx, uri)
	if err != nil && cached != nil {
		log.Printf("Inbox: Refreshing %s failed, using stale copy: %v", uri, err)
		return cached, nil
	}
	return acc, err
}

// FetchAccount always goes to the network. Concurrent fetches of the same
// actor share one request.
func (f *RemoteFetcher) FetchAccount(ctx context.Context, uri string) (*domain.Account, error) {
	v, err, _ := f.group.Do("actor:"+uri, func() (any, error) {
		return f.fetchAccount(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Account), nil
}

func (f *RemoteFetcher) fetchAccount(ctx context.Context, uri string) (*domain.Account, error) {
	body, err := f.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	if !util.SameHost(actor.ID, uri) {
		return nil, fmt.Errorf("actor %s served from foreign host %s", actor.ID, util.HostOf(uri))
	}

	existing, err := f.db.ReadAccountByURI(actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	acc := f.accountFromActor(&actor, existing)

	if existing != nil {
		if err := f.db.UpdateAccount(acc); err != nil {
			return nil, fmt.Errorf("failed to update remote account: %w", err)
		}
		return acc, nil
	}
	if err := f.db.CreateAccount(acc); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
		// Stored by someone else in the meantime
		stored, err := f.db.ReadAccountByURI(actor.ID)
		if err != nil || stored == nil {
			return nil, fmt.Errorf("failed to re-read remote account: %w", err)
		}
		acc.Id = stored.Id
		acc.CreatedAt = stored.CreatedAt
		if err := f.db.UpdateAccount(acc); err != nil {
			return nil, fmt.Errorf("failed to update remote account: %w", err)
		}
	}
	log.Printf("Inbox: Fetched actor %s", actor.ID)
	return acc, nil
}

// accountFromActor maps an actor document onto an account, keeping the
// moderation state of an existing row
func (f *RemoteFetcher) accountFromActor(actor *ActorResponse, existing *domain.Account) *domain.Account {
	now := f.now()
	acc := &domain.Account{
		Id:             uuid.New(),
		Username:       actor.PreferredUsername,
		Domain:         util.HostOf(actor.ID),
		URI:            actor.ID,
		URL:            firstURL(actor.URL),
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		FollowersURI:   actor.Followers,
		FeaturedURI:    actor.Featured,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		DisplayName:    actor.Name,
		ActorType:      actor.Type,
		Locked:         actor.ManuallyApprovesFollowers,
		AlsoKnownAs:    asStrings(actor.AlsoKnownAs),
		LastFetchedAt:  now,
		CreatedAt:      now,
	}
	if acc.Username == "" {
		acc.Username = util.ExtractUsername(actor.ID)
	}
	if existing != nil {
		acc.Id = existing.Id
		acc.CreatedAt = existing.CreatedAt
		acc.Silenced = existing.Silenced
		acc.Suspended = existing.Suspended
		acc.MovedToAccountId = existing.MovedToAccountId
	}
	if actor.MovedTo != "" && acc.MovedToAccountId == nil {
		if target, err := f.db.ReadAccountByURI(actor.MovedTo); err == nil && target != nil {
			acc.MovedToAccountId = &target.Id
		}
	}
	return acc
}

// FetchObject returns the decoded JSON document at uri
func (f *RemoteFetcher) FetchObject(ctx context.Context, uri string) (map[string]any, error) {
	v, err, _ := f.group.Do("object:"+uri, func() (any, error) {
		body, err := f.get(ctx, uri)
		if err != nil {
			return nil, err
		}
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse object JSON: %w", err)
		}
		if stringField(obj, "id") == "" {
			return nil, fmt.Errorf("object %s has no id", uri)
		}
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// DownloadMedia stores the remote file of an attachment under the media path
func (f *RemoteFetcher) DownloadMedia(ctx context.Context, media *domain.MediaAttachment) error {
	if media.RemoteURL == "" {
		return fmt.Errorf("attachment %s has no remote URL", media.Id)
	}
	dir := f.conf.Inbox.MediaPath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	resp, err := f.do(ctx, media.RemoteURL, "*/*")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, media.Id.String()+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create media file: %w", err)
	}
	defer os.Remove(tmp.Name())

	limit := f.conf.Inbox.MaxMediaBytes
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, limit+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write media file: %w", err)
	}
	if n > limit {
		return fmt.Errorf("media %s exceeds %d bytes", media.RemoteURL, limit)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, media.Id.String())); err != nil {
		return fmt.Errorf("failed to store media file: %w", err)
	}
	media.Downloaded = true
	return nil
}

// get fetches an ActivityStreams document
func (f *RemoteFetcher) get(ctx context.Context, uri string) ([]byte, error) {
	resp, err := f.do(ctx, uri, activityJSONAccept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (f *RemoteFetcher) do(ctx context.Context, uri, accept string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.conf.Inbox.FetchTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", uri, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch %s failed with status: %d", uri, resp.StatusCode)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request timeout together with the body
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// firstURL extracts a profile URL that may be a string, a Link or a list of either
func firstURL(v any) string {
	switch u := v.(type) {
	case string:
		return u
	case map[string]any:
		return stringField(u, "href")
	case []any:
		for _, item := range u {
			if s := firstURL(item); s != "" {
				return s
			}
		}
	}
	return ""
}
