package activitypub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/kv"
	"github.com/deemkeen/tusk/tasks"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
)

const testDomain = "local.example.com"

// mockFetcher serves canned remote documents
type mockFetcher struct {
	mu        sync.Mutex
	db        *MockDatabase
	Accounts  map[string]*domain.Account
	Objects   map[string]map[string]any
	MediaErr  error
	Fetches   int
	Downloads int
}

func newMockFetcher(db *MockDatabase) *mockFetcher {
	return &mockFetcher{
		db:       db,
		Accounts: make(map[string]*domain.Account),
		Objects:  make(map[string]map[string]any),
	}
}

func (f *mockFetcher) FetchAccount(ctx context.Context, uri string) (*domain.Account, error) {
	f.mu.Lock()
	f.Fetches++
	acc, ok := f.Accounts[uri]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", uri, domain.ErrNotFound)
	}
	if err := f.db.CreateAccount(acc); err != nil {
		stored, _ := f.db.ReadAccountByURI(uri)
		if stored != nil {
			acc.Id = stored.Id
		}
		_ = f.db.UpdateAccount(acc)
	}
	return acc, nil
}

func (f *mockFetcher) FetchObject(ctx context.Context, uri string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches++
	obj, ok := f.Objects[uri]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", uri, domain.ErrNotFound)
	}
	return obj, nil
}

func (f *mockFetcher) DownloadMedia(ctx context.Context, media *domain.MediaAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downloads++
	return f.MediaErr
}

// recordingQueue keeps submitted tasks for inspection
type recordingQueue struct {
	mu    sync.Mutex
	tasks []tasks.Task
}

func (q *recordingQueue) Submit(t tasks.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return true
}

func (q *recordingQueue) ofKind(kind tasks.Kind) []tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []tasks.Task
	for _, t := range q.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func (q *recordingQueue) take() []tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// taskRunner executes tasks synchronously with the engine's handlers
type taskRunner map[tasks.Kind]tasks.Handler

func (r taskRunner) Register(kind tasks.Kind, h tasks.Handler) {
	r[kind] = h
}

// drain runs queued tasks, including the ones they submit, until none are left
func drain(t *testing.T, e *Engine, q *recordingQueue) {
	t.Helper()
	runner := taskRunner{}
	e.RegisterTasks(runner)
	for i := 0; i < 10; i++ {
		pending := q.take()
		if len(pending) == 0 {
			return
		}
		for _, task := range pending {
			if err := runner[task.Kind](context.Background(), task); err != nil {
				t.Fatalf("%s task failed: %v", task.Kind, err)
			}
		}
	}
	t.Fatal("tasks kept submitting tasks")
}

type testEnv struct {
	engine  *Engine
	db      *MockDatabase
	fetcher *mockFetcher
	queue   *recordingQueue
	markers *kv.MemoryStore
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Inbox = util.DefaultInboxConfig()

	mockDB := NewMockDatabase()
	te := &testEnv{
		db:      mockDB,
		fetcher: newMockFetcher(mockDB),
		queue:   &recordingQueue{},
		markers: kv.NewMemoryStore(),
	}
	te.engine = NewEngine(conf, EngineDeps{
		Database: mockDB,
		Fetcher:  te.fetcher,
		Tasks:    te.queue,
		Markers:  te.markers,
	})
	return te
}

func (te *testEnv) localAccount(username string) *domain.Account {
	uri := "https://" + testDomain + "/users/" + username
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		URI:           uri,
		InboxURI:      uri + "/inbox",
		FollowersURI:  uri + "/followers",
		FeaturedURI:   uri + "/collections/featured",
		PrivateKeyPem: "test-key",
		ActorType:     domain.ActorPerson,
		CreatedAt:     time.Now(),
	}
	te.db.AddAccount(acc)
	return acc
}

func (te *testEnv) remoteAccount(username, host string) *domain.Account {
	uri := "https://" + host + "/users/" + username
	acc := &domain.Account{
		Id:             uuid.New(),
		Username:       username,
		Domain:         host,
		URI:            uri,
		InboxURI:       uri + "/inbox",
		SharedInboxURI: "https://" + host + "/inbox",
		FollowersURI:   uri + "/followers",
		FeaturedURI:    uri + "/collections/featured",
		ActorType:      domain.ActorPerson,
		LastFetchedAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
	te.db.AddAccount(acc)
	return acc
}

func (te *testEnv) follow(follower, target *domain.Account, state domain.FollowState) *domain.Follow {
	f := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       follower.Id,
		TargetAccountId: target.Id,
		URI:             follower.URI + "/follows/" + uuid.NewString(),
		State:           state,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := te.db.CreateFollow(f); err != nil {
		panic(err)
	}
	return f
}

func (te *testEnv) localStatus(author *domain.Account, visibility domain.Visibility) *domain.Status {
	id := uuid.New()
	s := &domain.Status{
		Id:         id,
		URI:        author.URI + "/statuses/" + id.String(),
		AccountId:  author.Id,
		Text:       "hello",
		Visibility: visibility,
		Local:      true,
		CreatedAt:  time.Now(),
	}
	te.db.AddStatus(s)
	return s
}

func (te *testEnv) process(t *testing.T, actor *domain.Account, body string, opts Options) any {
	t.Helper()
	env, err := ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("Failed to parse activity: %v", err)
	}
	result, err := te.engine.Process(context.Background(), env, actor, opts)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return result
}

func deliveredTo(acc *domain.Account) Options {
	id := acc.Id
	return Options{DeliveredToAccountId: &id}
}
