package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// setupTestDB opens a fresh database file in a temp dir
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *DB, username, host string) *domain.Account {
	t.Helper()
	uri := "https://local.example/users/" + username
	if host != "" {
		uri = "https://" + host + "/users/" + username
	}
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  username,
		Domain:    host,
		URI:       uri,
		InboxURI:  uri + "/inbox",
		ActorType: domain.ActorPerson,
	}
	if err := db.CreateAccount(acc); err != nil {
		t.Fatalf("Failed to create account %s: %v", username, err)
	}
	return acc
}

func createTestStatus(t *testing.T, db *DB, author *domain.Account, uri string) *domain.Status {
	t.Helper()
	s := &domain.Status{
		Id:         uuid.New(),
		URI:        uri,
		AccountId:  author.Id,
		Text:       "hello",
		Visibility: domain.VisibilityPublic,
		Local:      author.IsLocal(),
	}
	if err := db.CreateStatus(s); err != nil {
		t.Fatalf("Failed to create status: %v", err)
	}
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice", "remote.example")

	got, err := db.ReadAccountByURI(acc.URI)
	if err != nil {
		t.Fatalf("ReadAccountByURI failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected account, got nil")
	}
	if got.Id != acc.Id {
		t.Errorf("Expected id %s, got %s", acc.Id, got.Id)
	}
	if got.IsLocal() {
		t.Error("Expected remote account")
	}

	missing, err := db.ReadAccountByURI("https://nowhere.example/users/ghost")
	if err != nil {
		t.Fatalf("Expected no error for missing account, got %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing account")
	}
}

func TestUpdateAccount_AlsoKnownAsAndMove(t *testing.T) {
	db := setupTestDB(t)
	origin := createTestAccount(t, db, "old", "remote.example")
	target := createTestAccount(t, db, "new", "other.example")

	target.AlsoKnownAs = []string{origin.URI}
	if err := db.UpdateAccount(target); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	origin.MovedToAccountId = &target.Id
	if err := db.UpdateAccount(origin); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	got, _ := db.ReadAccountById(target.Id)
	if len(got.AlsoKnownAs) != 1 || got.AlsoKnownAs[0] != origin.URI {
		t.Errorf("Expected alsoKnownAs [%s], got %v", origin.URI, got.AlsoKnownAs)
	}
	got, _ = db.ReadAccountById(origin.Id)
	if got.MovedToAccountId == nil || *got.MovedToAccountId != target.Id {
		t.Errorf("Expected moved to %s, got %v", target.Id, got.MovedToAccountId)
	}
}

func TestLocalAccountByUsername_CaseInsensitive(t *testing.T) {
	db := setupTestDB(t)
	createTestAccount(t, db, "Bob", "")

	got, err := db.ReadLocalAccountByUsername("bob")
	if err != nil || got == nil {
		t.Fatalf("Expected local account, got %v (err %v)", got, err)
	}
}

func TestCreateFollow_DuplicateMapsToErrDuplicate(t *testing.T) {
	db := setupTestDB(t)
	local := createTestAccount(t, db, "local", "")
	remote := createTestAccount(t, db, "remote", "remote.example")

	follow := &domain.Follow{Id: uuid.New(), AccountId: remote.Id, TargetAccountId: local.Id, URI: "https://remote.example/follows/1", State: domain.FollowRequested}
	if err := db.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	dup := &domain.Follow{Id: uuid.New(), AccountId: remote.Id, TargetAccountId: local.Id, URI: "https://remote.example/follows/2", State: domain.FollowRequested}
	err := db.CreateFollow(dup)
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
}

func TestFollowLifecycle(t *testing.T) {
	db := setupTestDB(t)
	local := createTestAccount(t, db, "local", "")
	remote := createTestAccount(t, db, "remote", "remote.example")

	follow := &domain.Follow{Id: uuid.New(), AccountId: local.Id, TargetAccountId: remote.Id, URI: "https://local.example/follows/1", State: domain.FollowRequested}
	if err := db.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	follow.State = domain.FollowAccepted
	if err := db.UpdateFollow(follow); err != nil {
		t.Fatalf("UpdateFollow failed: %v", err)
	}

	got, err := db.ReadFollowByURI(follow.URI)
	if err != nil || got == nil {
		t.Fatalf("ReadFollowByURI failed: %v", err)
	}
	if got.State != domain.FollowAccepted {
		t.Errorf("Expected state accepted, got %s", got.State)
	}

	followers, err := db.ReadLocalFollowers(remote.Id)
	if err != nil {
		t.Fatalf("ReadLocalFollowers failed: %v", err)
	}
	if len(followers) != 1 {
		t.Errorf("Expected 1 local follower, got %d", len(followers))
	}
	has, _ := db.HasLocalFollowers(remote.Id)
	if !has {
		t.Error("Expected remote account to have local followers")
	}

	if err := db.DeleteFollow(follow.Id); err != nil {
		t.Fatalf("DeleteFollow failed: %v", err)
	}
	got, _ = db.ReadFollow(local.Id, remote.Id)
	if got != nil {
		t.Error("Expected follow to be deleted")
	}
}

func TestReadRemoteFollowerInboxes_PrefersSharedInbox(t *testing.T) {
	db := setupTestDB(t)
	local := createTestAccount(t, db, "local", "")
	a := createTestAccount(t, db, "a", "remote.example")
	b := createTestAccount(t, db, "b", "remote.example")
	for _, acc := range []*domain.Account{a, b} {
		acc.SharedInboxURI = "https://remote.example/inbox"
		db.UpdateAccount(acc)
		db.CreateFollow(&domain.Follow{Id: uuid.New(), AccountId: acc.Id, TargetAccountId: local.Id, State: domain.FollowAccepted})
	}

	inboxes, err := db.ReadRemoteFollowerInboxes(local.Id)
	if err != nil {
		t.Fatalf("ReadRemoteFollowerInboxes failed: %v", err)
	}
	if len(inboxes) != 1 || inboxes[0] != "https://remote.example/inbox" {
		t.Errorf("Expected one shared inbox, got %v", inboxes)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")

	boom := errors.New("boom")
	err := db.Transaction(func(tx *DB) error {
		s := &domain.Status{Id: uuid.New(), URI: "https://remote.example/notes/1", AccountId: author.Id, Visibility: domain.VisibilityPublic}
		if err := tx.CreateStatus(s); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	got, _ := db.ReadStatusByURI("https://remote.example/notes/1")
	if got != nil {
		t.Error("Expected status insert to be rolled back")
	}
}

func TestTransaction_DuplicateInsideTxIsRecoverable(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")
	createTestStatus(t, db, author, "https://remote.example/notes/dup")

	err := db.Transaction(func(tx *DB) error {
		s := &domain.Status{Id: uuid.New(), URI: "https://remote.example/notes/dup", AccountId: author.Id, Visibility: domain.VisibilityPublic}
		if err := tx.CreateStatus(s); !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("Expected ErrDuplicate, got %v", err)
		}
		existing, err := tx.ReadStatusByURI(s.URI)
		if err != nil || existing == nil {
			t.Errorf("Expected to re-read existing status, got %v (err %v)", existing, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
}

func TestDeleteStatus_Cascades(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")
	fan := createTestAccount(t, db, "fan", "")
	status := createTestStatus(t, db, author, "https://remote.example/notes/1")

	db.CreateMention(&domain.Mention{Id: uuid.New(), StatusId: status.Id, AccountId: fan.Id})
	db.CreateFavourite(&domain.Favourite{Id: uuid.New(), AccountId: fan.Id, StatusId: status.Id})
	reblog := &domain.Status{Id: uuid.New(), URI: "https://local.example/statuses/r1", AccountId: fan.Id, ReblogOfId: &status.Id, Visibility: domain.VisibilityPublic, Local: true}
	if err := db.CreateStatus(reblog); err != nil {
		t.Fatalf("CreateStatus reblog failed: %v", err)
	}

	if err := db.DeleteStatus(status.Id); err != nil {
		t.Fatalf("DeleteStatus failed: %v", err)
	}

	if got, _ := db.ReadStatusById(status.Id); got != nil {
		t.Error("Expected status to be deleted")
	}
	if got, _ := db.ReadStatusById(reblog.Id); got != nil {
		t.Error("Expected reblog to be deleted")
	}
	if got, _ := db.ReadFavourite(fan.Id, status.Id); got != nil {
		t.Error("Expected favourite to be deleted")
	}
	if mentions, _ := db.ReadMentions(status.Id); len(mentions) != 0 {
		t.Errorf("Expected no mentions, got %d", len(mentions))
	}
}

func TestReblogUniquePerAccount(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")
	booster := createTestAccount(t, db, "booster", "other.example")
	status := createTestStatus(t, db, author, "https://remote.example/notes/1")

	first := &domain.Status{Id: uuid.New(), URI: "https://other.example/announces/1", AccountId: booster.Id, ReblogOfId: &status.Id, Visibility: domain.VisibilityPublic}
	if err := db.CreateStatus(first); err != nil {
		t.Fatalf("CreateStatus failed: %v", err)
	}
	second := &domain.Status{Id: uuid.New(), URI: "https://other.example/announces/2", AccountId: booster.Id, ReblogOfId: &status.Id, Visibility: domain.VisibilityPublic}
	if err := db.CreateStatus(second); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for second reblog, got %v", err)
	}

	got, err := db.ReadReblog(booster.Id, status.Id)
	if err != nil || got == nil || got.Id != first.Id {
		t.Errorf("Expected first reblog, got %v (err %v)", got, err)
	}
}

func TestTombstoneExists(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")

	exists, _ := db.TombstoneExists("https://remote.example/notes/gone")
	if exists {
		t.Fatal("Expected no tombstone")
	}
	db.CreateTombstone(&domain.Tombstone{Id: uuid.New(), URI: "https://remote.example/notes/gone", AccountId: author.Id})
	exists, _ = db.TombstoneExists("https://remote.example/notes/gone")
	if !exists {
		t.Error("Expected tombstone to exist")
	}
}

func TestFindOrCreateTag_Normalizes(t *testing.T) {
	db := setupTestDB(t)

	first, err := db.FindOrCreateTag("GoLang")
	if err != nil {
		t.Fatalf("FindOrCreateTag failed: %v", err)
	}
	second, err := db.FindOrCreateTag("golang")
	if err != nil {
		t.Fatalf("FindOrCreateTag failed: %v", err)
	}
	if first.Id != second.Id {
		t.Errorf("Expected same tag id, got %s and %s", first.Id, second.Id)
	}
	if first.Name != "golang" {
		t.Errorf("Expected name golang, got %s", first.Name)
	}
}

func TestSaveCustomEmoji_Upserts(t *testing.T) {
	db := setupTestDB(t)

	db.SaveCustomEmoji(&domain.CustomEmoji{Id: uuid.New(), Shortcode: "blob", Domain: "remote.example", ImageRemoteURL: "https://remote.example/a.png"})
	db.SaveCustomEmoji(&domain.CustomEmoji{Id: uuid.New(), Shortcode: "blob", Domain: "remote.example", ImageRemoteURL: "https://remote.example/b.png"})

	got, err := db.ReadCustomEmoji("blob", "remote.example")
	if err != nil || got == nil {
		t.Fatalf("ReadCustomEmoji failed: %v", err)
	}
	if got.ImageRemoteURL != "https://remote.example/b.png" {
		t.Errorf("Expected refreshed image URL, got %s", got.ImageRemoteURL)
	}
}

func TestUpdatePollCounters_CompareAndSwap(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "")
	status := createTestStatus(t, db, author, "https://local.example/statuses/1")

	expires := time.Now().Add(time.Hour)
	poll := &domain.Poll{Id: uuid.New(), StatusId: status.Id, AccountId: author.Id, Options: []string{"yes", "no"}, CachedTallies: []int{0, 0}, ExpiresAt: &expires}
	if err := db.CreatePoll(poll); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	a, _ := db.ReadPollById(poll.Id)
	b, _ := db.ReadPollById(poll.Id)

	a.CachedTallies[0]++
	a.VotersCount++
	if err := db.UpdatePollCounters(a); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	b.CachedTallies[1]++
	b.VotersCount++
	if err := db.UpdatePollCounters(b); !errors.Is(err, domain.ErrStaleObject) {
		t.Fatalf("Expected ErrStaleObject, got %v", err)
	}

	got, _ := db.ReadPollById(poll.Id)
	if got.VotersCount != 1 || got.CachedTallies[0] != 1 || got.CachedTallies[1] != 0 {
		t.Errorf("Expected one vote for yes, got voters=%d tallies=%v", got.VotersCount, got.CachedTallies)
	}
	if got.LockVersion != 1 {
		t.Errorf("Expected lock version 1, got %d", got.LockVersion)
	}
}

func TestPollVotes(t *testing.T) {
	db := setupTestDB(t)
	voter := createTestAccount(t, db, "voter", "remote.example")
	pollId := uuid.New()

	has, _ := db.HasPollVote(pollId, voter.Id)
	if has {
		t.Fatal("Expected no vote yet")
	}
	if err := db.CreatePollVote(&domain.PollVote{Id: uuid.New(), PollId: pollId, AccountId: voter.Id, Choice: 0}); err != nil {
		t.Fatalf("CreatePollVote failed: %v", err)
	}
	err := db.CreatePollVote(&domain.PollVote{Id: uuid.New(), PollId: pollId, AccountId: voter.Id, Choice: 0})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for same choice, got %v", err)
	}
	if err := db.CreatePollVote(&domain.PollVote{Id: uuid.New(), PollId: pollId, AccountId: voter.Id, Choice: 1}); err != nil {
		t.Errorf("Expected second choice to be accepted, got %v", err)
	}
	has, _ = db.HasPollVote(pollId, voter.Id)
	if !has {
		t.Error("Expected vote to exist")
	}
}

func TestQuoteByActivityURI(t *testing.T) {
	db := setupTestDB(t)
	quoter := createTestAccount(t, db, "quoter", "")
	quoted := createTestAccount(t, db, "quoted", "remote.example")
	status := createTestStatus(t, db, quoted, "https://remote.example/notes/1")

	q := &domain.Quote{Id: uuid.New(), QuotedStatusId: status.Id, AccountId: quoter.Id, QuotedAccountId: quoted.Id, ActivityURI: "https://local.example/quote_requests/1", State: domain.QuotePending}
	if err := db.CreateQuote(q); err != nil {
		t.Fatalf("CreateQuote failed: %v", err)
	}
	q.State = domain.QuoteRejected
	if err := db.UpdateQuote(q); err != nil {
		t.Fatalf("UpdateQuote failed: %v", err)
	}

	got, err := db.ReadQuoteByActivityURI(q.ActivityURI)
	if err != nil || got == nil {
		t.Fatalf("ReadQuoteByActivityURI failed: %v", err)
	}
	if got.State != domain.QuoteRejected {
		t.Errorf("Expected rejected, got %s", got.State)
	}
	if got.StatusId != nil {
		t.Errorf("Expected nil status id, got %v", got.StatusId)
	}
}

func TestGroupMembership(t *testing.T) {
	db := setupTestDB(t)
	groupActor := createTestAccount(t, db, "group", "")
	member := createTestAccount(t, db, "member", "remote.example")
	group := &domain.Group{Id: uuid.New(), AccountId: groupActor.Id, URI: groupActor.URI, Local: true}
	if err := db.CreateGroup(group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	m := &domain.GroupMembership{Id: uuid.New(), AccountId: member.Id, GroupId: group.Id, URI: "https://remote.example/joins/1", State: domain.FollowAccepted}
	if err := db.CreateGroupMembership(m); err != nil {
		t.Fatalf("CreateGroupMembership failed: %v", err)
	}

	inboxes, err := db.ReadRemoteGroupMemberInboxes(group.Id)
	if err != nil {
		t.Fatalf("ReadRemoteGroupMemberInboxes failed: %v", err)
	}
	if len(inboxes) != 1 || inboxes[0] != member.InboxURI {
		t.Errorf("Expected [%s], got %v", member.InboxURI, inboxes)
	}

	got, _ := db.ReadGroupMembershipByURI(m.URI)
	if got == nil || got.Id != m.Id {
		t.Errorf("Expected membership by URI, got %v", got)
	}
}

func TestInsertFeedEntries_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	reader := createTestAccount(t, db, "reader", "")
	statusId := uuid.New()

	for i := 0; i < 2; i++ {
		if err := db.InsertFeedEntries(statusId, []uuid.UUID{reader.Id}); err != nil {
			t.Fatalf("InsertFeedEntries failed: %v", err)
		}
	}
	count, _ := db.CountFeedEntries(reader.Id)
	if count != 1 {
		t.Errorf("Expected 1 feed entry, got %d", count)
	}
}

func TestRegisterTrend(t *testing.T) {
	db := setupTestDB(t)
	statusId := uuid.New()

	db.RegisterTrend(statusId)
	db.RegisterTrend(statusId)
	score, err := db.ReadTrendScore(statusId)
	if err != nil {
		t.Fatalf("ReadTrendScore failed: %v", err)
	}
	if score != 2 {
		t.Errorf("Expected score 2, got %d", score)
	}
}

func TestDeliveryQueue(t *testing.T) {
	db := setupTestDB(t)
	signer := createTestAccount(t, db, "signer", "")

	due := &domain.DeliveryQueueItem{Id: uuid.New(), AccountId: signer.Id, InboxURI: "https://remote.example/inbox", ActivityJSON: `{}`}
	later := &domain.DeliveryQueueItem{Id: uuid.New(), AccountId: signer.Id, InboxURI: "https://other.example/inbox", ActivityJSON: `{}`, NextRetryAt: time.Now().Add(time.Hour)}
	db.EnqueueDelivery(due)
	db.EnqueueDelivery(later)

	items, err := db.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(items) != 1 || items[0].Id != due.Id {
		t.Fatalf("Expected only the due item, got %d items", len(items))
	}
	if items[0].AccountId != signer.Id {
		t.Errorf("Expected signer %s, got %s", signer.Id, items[0].AccountId)
	}

	if err := db.DeleteDelivery(due.Id); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}
	items, _ = db.ReadPendingDeliveries(10)
	if len(items) != 0 {
		t.Errorf("Expected empty queue, got %d", len(items))
	}
}

func TestIsDomainBlocked(t *testing.T) {
	db := setupTestDB(t)
	local := createTestAccount(t, db, "local", "")
	db.CreateDomainBlock(&domain.DomainBlock{Id: uuid.New(), AccountId: local.Id, Domain: "Spam.Example"})

	blocked, err := db.IsDomainBlocked(local.Id, "spam.example")
	if err != nil {
		t.Fatalf("IsDomainBlocked failed: %v", err)
	}
	if !blocked {
		t.Error("Expected domain to be blocked")
	}
}

func TestInstanceCounts(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestAccount(t, db, "alice", "")
	createTestAccount(t, db, "bob", "remote.example")
	createTestAccount(t, db, "carol", "remote.example")
	createTestAccount(t, db, "dave", "other.example")
	createTestStatus(t, db, alice, "https://local.example/users/alice/statuses/1")

	if n, err := db.CountLocalAccounts(); err != nil || n != 1 {
		t.Errorf("Expected 1 local account, got %d (%v)", n, err)
	}
	if n, err := db.CountLocalStatuses(); err != nil || n != 1 {
		t.Errorf("Expected 1 local status, got %d (%v)", n, err)
	}
	if n, err := db.CountKnownDomains(); err != nil || n != 2 {
		t.Errorf("Expected 2 known domains, got %d (%v)", n, err)
	}
}

func TestStatusEdits_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")
	status := createTestStatus(t, db, author, "https://remote.example/notes/1")

	now := time.Now()
	second := &domain.StatusEdit{Id: uuid.New(), StatusId: status.Id, AccountId: author.Id, Text: "edited", PollOptions: []string{"yes", "no"}, CreatedAt: now}
	first := &domain.StatusEdit{Id: uuid.New(), StatusId: status.Id, AccountId: author.Id, Text: "hello", CreatedAt: now.Add(-time.Hour)}
	for _, e := range []*domain.StatusEdit{second, first} {
		if err := db.CreateStatusEdit(e); err != nil {
			t.Fatalf("CreateStatusEdit failed: %v", err)
		}
	}

	edits, err := db.ReadStatusEdits(status.Id)
	if err != nil {
		t.Fatalf("ReadStatusEdits failed: %v", err)
	}
	if len(edits) != 2 || edits[0].Text != "hello" || edits[1].Text != "edited" {
		t.Fatalf("Expected revisions hello then edited, got %+v", edits)
	}
	if edits[0].PollOptions != nil {
		t.Errorf("Expected no poll on the first revision, got %v", edits[0].PollOptions)
	}
	if len(edits[1].PollOptions) != 2 {
		t.Errorf("Expected 2 poll options, got %v", edits[1].PollOptions)
	}

	if err := db.DeleteStatus(status.Id); err != nil {
		t.Fatalf("DeleteStatus failed: %v", err)
	}
	if edits, _ := db.ReadStatusEdits(status.Id); len(edits) != 0 {
		t.Errorf("Expected revisions to be deleted with the status, got %d", len(edits))
	}
}

func TestStatusRevisionHelpers(t *testing.T) {
	db := setupTestDB(t)
	author := createTestAccount(t, db, "author", "remote.example")
	reader := createTestAccount(t, db, "reader", "")
	status := createTestStatus(t, db, author, "https://remote.example/notes/1")

	// Mentions
	mention := &domain.Mention{Id: uuid.New(), StatusId: status.Id, AccountId: reader.Id}
	if err := db.CreateMention(mention); err != nil {
		t.Fatalf("CreateMention failed: %v", err)
	}
	mention.Silent = true
	if err := db.UpdateMention(mention); err != nil {
		t.Fatalf("UpdateMention failed: %v", err)
	}
	mentions, _ := db.ReadMentions(status.Id)
	if len(mentions) != 1 || !mentions[0].Silent {
		t.Errorf("Expected a silent mention, got %+v", mentions)
	}

	// Tags
	for _, name := range []string{"zeta", "alpha"} {
		tag, err := db.FindOrCreateTag(name)
		if err != nil {
			t.Fatalf("FindOrCreateTag failed: %v", err)
		}
		if err := db.LinkStatusTag(status.Id, tag.Id); err != nil {
			t.Fatalf("LinkStatusTag failed: %v", err)
		}
	}
	names, _ := db.ReadStatusTagNames(status.Id)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Expected tags [alpha zeta], got %v", names)
	}
	if err := db.UnlinkStatusTags(status.Id); err != nil {
		t.Fatalf("UnlinkStatusTags failed: %v", err)
	}
	if names, _ := db.ReadStatusTagNames(status.Id); len(names) != 0 {
		t.Errorf("Expected no tags, got %v", names)
	}

	// Media
	var media []*domain.MediaAttachment
	for i, url := range []string{"https://remote.example/a.png", "https://remote.example/b.png"} {
		m := &domain.MediaAttachment{Id: uuid.New(), StatusId: status.Id, AccountId: author.Id, RemoteURL: url, Type: "image", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := db.CreateMediaAttachment(m); err != nil {
			t.Fatalf("CreateMediaAttachment failed: %v", err)
		}
		media = append(media, m)
	}
	if err := db.DeleteMediaAttachment(media[0].Id); err != nil {
		t.Fatalf("DeleteMediaAttachment failed: %v", err)
	}
	remaining, _ := db.ReadMediaAttachments(status.Id)
	if len(remaining) != 1 || remaining[0].Id != media[1].Id {
		t.Errorf("Expected only b.png to remain, got %+v", remaining)
	}

	// Polls
	poll := &domain.Poll{Id: uuid.New(), StatusId: status.Id, AccountId: author.Id, Options: []string{"yes", "no"}, CachedTallies: []int{0, 0}}
	if err := db.CreatePoll(poll); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}
	if err := db.CreatePollVote(&domain.PollVote{Id: uuid.New(), PollId: poll.Id, AccountId: reader.Id, Choice: 0}); err != nil {
		t.Fatalf("CreatePollVote failed: %v", err)
	}
	if err := db.DeletePoll(poll.Id); err != nil {
		t.Fatalf("DeletePoll failed: %v", err)
	}
	if got, _ := db.ReadPollById(poll.Id); got != nil {
		t.Error("Expected poll to be deleted")
	}
	if has, _ := db.HasPollVote(poll.Id, reader.Id); has {
		t.Error("Expected votes to be deleted with the poll")
	}
}
