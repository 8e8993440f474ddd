package activitypub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/tasks"
	"github.com/google/uuid"
)

func remoteNote(uri, author string) map[string]any {
	return map[string]any{
		"id":           uri,
		"type":         "Note",
		"attributedTo": author,
		"content":      "reply",
		"to":           []any{publicCollection},
	}
}

func TestRunDistribute_AcceptedLocalFollowers(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")
	carol := te.localAccount("carol")
	bob := te.remoteAccount("bob", "remote.example.com")
	te.follow(alice, bob, domain.FollowAccepted)
	te.follow(carol, bob, domain.FollowRequested)
	statusId := uuid.New()

	err := te.engine.runDistribute(context.Background(), tasks.Task{Kind: tasks.KindDistribute, FromAccountId: bob.Id, TargetId: statusId})
	if err != nil {
		t.Fatalf("runDistribute failed: %v", err)
	}
	if feed := te.db.Feeds[alice.Id]; len(feed) != 1 || feed[0] != statusId {
		t.Errorf("Expected status in alice's feed, got %v", feed)
	}
	if feed := te.db.Feeds[carol.Id]; len(feed) != 0 {
		t.Errorf("Expected nothing in carol's feed, got %v", feed)
	}
}

func TestRunDistribute_SingleFeed(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")
	statusId := uuid.New()

	err := te.engine.runDistribute(context.Background(), tasks.Task{Kind: tasks.KindDistribute, AccountId: alice.Id, TargetId: statusId})
	if err != nil {
		t.Fatalf("runDistribute failed: %v", err)
	}
	if len(te.db.Feeds[alice.Id]) != 1 {
		t.Errorf("Expected 1 feed entry, got %d", len(te.db.Feeds[alice.Id]))
	}
}

func TestRunNotify(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")
	bob := te.remoteAccount("bob", "remote.example.com")
	statusId := uuid.New()

	err := te.engine.runNotify(context.Background(), tasks.Task{
		Kind:             tasks.KindNotify,
		AccountId:        alice.Id,
		FromAccountId:    bob.Id,
		NotificationType: string(domain.NotificationFavourite),
		TargetId:         statusId,
	})
	if err != nil {
		t.Fatalf("runNotify failed: %v", err)
	}
	notifications := te.db.NotificationsFor(alice.Id, domain.NotificationFavourite)
	if len(notifications) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].StatusId == nil || *notifications[0].StatusId != statusId {
		t.Errorf("Expected notification for %s, got %v", statusId, notifications[0].StatusId)
	}
}

func TestRunDeliver_OneRowPerInbox(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")

	err := te.engine.runDeliver(context.Background(), tasks.Task{
		Kind:      tasks.KindDeliver,
		AccountId: alice.Id,
		Payload:   []byte(`{"type":"Accept"}`),
		Inboxes:   []string{"https://a.example/inbox", "", "https://b.example/inbox", "https://a.example/inbox"},
	})
	if err != nil {
		t.Fatalf("runDeliver failed: %v", err)
	}
	if len(te.db.DeliveryQueue) != 2 {
		t.Fatalf("Expected 2 queued deliveries, got %d", len(te.db.DeliveryQueue))
	}
	for _, item := range te.db.DeliveryQueue {
		if item.AccountId != alice.Id || item.ActivityJSON != `{"type":"Accept"}` {
			t.Errorf("Unexpected delivery %+v", item)
		}
	}
}

func TestRunDeliver_RetryAfterPartialFailure(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")
	task := tasks.Task{
		Kind:      tasks.KindDeliver,
		AccountId: alice.Id,
		Payload:   []byte(`{"type":"Accept"}`),
		Inboxes:   []string{"https://a.example/inbox", "https://b.example/inbox", "https://c.example/inbox"},
	}

	te.db.FailDeliveriesAfter(1)
	if err := te.engine.runDeliver(context.Background(), task); err == nil {
		t.Fatal("Expected runDeliver to fail")
	}
	if len(te.db.DeliveryQueue) != 0 {
		t.Fatalf("Expected no queued deliveries after failure, got %d", len(te.db.DeliveryQueue))
	}

	te.db.FailDeliveriesAfter(-1)
	if err := te.engine.runDeliver(context.Background(), task); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	perInbox := make(map[string]int)
	for _, item := range te.db.DeliveryQueue {
		perInbox[item.InboxURI]++
	}
	if len(perInbox) != 3 {
		t.Errorf("Expected 3 inboxes queued, got %v", perInbox)
	}
	for inbox, n := range perInbox {
		if n != 1 {
			t.Errorf("Expected one row for %s, got %d", inbox, n)
		}
	}
}

func TestRunFetchReplies_Capped(t *testing.T) {
	te := newTestEngine(t)
	bob := te.remoteAccount("bob", "remote.example.com")
	collection := bob.URI + "/statuses/1/replies"

	var items []any
	for i := 0; i < maxFetchedReplies+3; i++ {
		uri := fmt.Sprintf("%s/statuses/reply-%d", bob.URI, i)
		te.fetcher.Objects[uri] = remoteNote(uri, bob.URI)
		items = append(items, uri)
	}
	items = append([]any{"https://" + testDomain + "/users/alice/statuses/local"}, items...)
	te.fetcher.Objects[collection] = map[string]any{
		"id":   collection,
		"type": "Collection",
		"first": map[string]any{
			"type":  "CollectionPage",
			"items": items,
		},
	}

	err := te.engine.runFetchReplies(context.Background(), tasks.Task{Kind: tasks.KindFetchReplies, URI: collection})
	if err != nil {
		t.Fatalf("runFetchReplies failed: %v", err)
	}
	stored := 0
	for i := 0; i < maxFetchedReplies+3; i++ {
		stored += te.db.CountStatusesByURI(fmt.Sprintf("%s/statuses/reply-%d", bob.URI, i))
	}
	// The local entry uses up one slot
	if stored != maxFetchedReplies-1 {
		t.Errorf("Expected %d replies, got %d", maxFetchedReplies-1, stored)
	}
}

func TestRunFetchReplies_FirstPageByReference(t *testing.T) {
	te := newTestEngine(t)
	bob := te.remoteAccount("bob", "remote.example.com")
	collection := bob.URI + "/statuses/1/replies"
	page := collection + "?page=true"
	reply := bob.URI + "/statuses/2"
	te.fetcher.Objects[reply] = remoteNote(reply, bob.URI)
	te.fetcher.Objects[collection] = map[string]any{"id": collection, "type": "OrderedCollection", "first": page}
	te.fetcher.Objects[page] = map[string]any{"id": page, "type": "OrderedCollectionPage", "orderedItems": []any{reply}}

	if err := te.engine.runFetchReplies(context.Background(), tasks.Task{URI: collection}); err != nil {
		t.Fatalf("runFetchReplies failed: %v", err)
	}
	if n := te.db.CountStatusesByURI(reply); n != 1 {
		t.Errorf("Expected the reply to be stored, got %d", n)
	}
}

func TestRunFetchReplies_GoneCollection(t *testing.T) {
	te := newTestEngine(t)
	if err := te.engine.runFetchReplies(context.Background(), tasks.Task{URI: "https://remote.example.com/gone"}); err != nil {
		t.Errorf("Expected a missing collection to be skipped, got %v", err)
	}
}

func TestRunResolveThread(t *testing.T) {
	te := newTestEngine(t)
	bob := te.remoteAccount("bob", "remote.example.com")
	parentURI := bob.URI + "/statuses/parent"
	te.fetcher.Objects[parentURI] = remoteNote(parentURI, bob.URI)
	reply := &domain.Status{
		Id:         uuid.New(),
		URI:        bob.URI + "/statuses/child",
		AccountId:  bob.Id,
		Visibility: domain.VisibilityPublic,
		CreatedAt:  time.Now(),
	}
	te.db.AddStatus(reply)

	err := te.engine.runResolveThread(context.Background(), tasks.Task{Kind: tasks.KindResolveThread, URI: parentURI, TargetId: reply.Id})
	if err != nil {
		t.Fatalf("runResolveThread failed: %v", err)
	}
	stored, _ := te.db.ReadStatusById(reply.Id)
	if stored.InReplyToId == nil {
		t.Fatal("Expected the reply to be linked to its parent")
	}
	if stored.InReplyToAccountId == nil || *stored.InReplyToAccountId != bob.Id {
		t.Errorf("Expected parent author %s, got %v", bob.Id, stored.InReplyToAccountId)
	}
}

func TestRunRedownloadMedia(t *testing.T) {
	te := newTestEngine(t)
	media := &domain.MediaAttachment{Id: uuid.New(), RemoteURL: "https://remote.example.com/files/1.png"}
	te.db.CreateMediaAttachment(media)

	te.fetcher.MediaErr = errors.New("timeout")
	task := tasks.Task{Kind: tasks.KindRedownloadMedia, TargetId: media.Id}
	if err := te.engine.runRedownloadMedia(context.Background(), task); err == nil {
		t.Error("Expected download failure to be returned for a retry")
	}

	te.fetcher.MediaErr = nil
	if err := te.engine.runRedownloadMedia(context.Background(), task); err != nil {
		t.Fatalf("runRedownloadMedia failed: %v", err)
	}
	if !te.db.Media[media.Id].Downloaded {
		t.Error("Expected attachment to be marked downloaded")
	}

	if err := te.engine.runRedownloadMedia(context.Background(), task); err != nil {
		t.Fatalf("runRedownloadMedia failed: %v", err)
	}
	if te.fetcher.Downloads != 2 {
		t.Errorf("Expected downloaded attachments to be skipped, got %d downloads", te.fetcher.Downloads)
	}
}

func TestRunRefreshAccount(t *testing.T) {
	te := newTestEngine(t)
	bob := te.remoteAccount("bob", "remote.example.com")
	refreshed := *bob
	refreshed.DisplayName = "Bob Updated"
	te.fetcher.Accounts[bob.URI] = &refreshed

	if err := te.engine.runRefreshAccount(context.Background(), tasks.Task{URI: bob.URI}); err != nil {
		t.Fatalf("runRefreshAccount failed: %v", err)
	}
	stored, _ := te.db.ReadAccountByURI(bob.URI)
	if stored.DisplayName != "Bob Updated" {
		t.Errorf("Expected refreshed display name, got %q", stored.DisplayName)
	}

	if err := te.engine.runRefreshAccount(context.Background(), tasks.Task{URI: "https://remote.example.com/users/gone"}); err != nil {
		t.Errorf("Expected a gone account to be skipped, got %v", err)
	}

	before := te.fetcher.Fetches
	if err := te.engine.runRefreshAccount(context.Background(), tasks.Task{URI: "https://" + testDomain + "/users/alice"}); err != nil {
		t.Errorf("Expected local account to be skipped, got %v", err)
	}
	if te.fetcher.Fetches != before {
		t.Error("Expected no fetch for a local account")
	}
}

func TestCreate_PollSchedulesRefresh(t *testing.T) {
	te := newTestEngine(t)
	alice := te.localAccount("alice")
	bob := te.remoteAccount("bob", "remote.example.com")
	uri := bob.URI + "/statuses/poll"
	endTime := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)

	body := fmt.Sprintf(`{
		"id": "%[1]s/activity",
		"type": "Create",
		"actor": "%[2]s",
		"object": {
			"id": "%[1]s",
			"type": "Question",
			"attributedTo": "%[2]s",
			"content": "lunch?",
			"to": ["%[3]s"],
			"endTime": "%[4]s",
			"oneOf": [{"type": "Note", "name": "yes"}, {"type": "Note", "name": "no"}]
		}
	}`, uri, bob.URI, alice.URI, endTime)

	status := te.process(t, bob, body, deliveredTo(alice)).(*domain.Status)
	refreshes := te.queue.ofKind(tasks.KindRefreshPoll)
	if len(refreshes) != 1 {
		t.Fatalf("Expected 1 poll refresh, got %d", len(refreshes))
	}
	if refreshes[0].TargetId != *status.PollId || refreshes[0].URI != uri {
		t.Errorf("Unexpected refresh task %+v", refreshes[0])
	}
	if refreshes[0].Delay < 2*time.Hour-time.Minute || refreshes[0].Delay > 2*time.Hour+2*time.Minute {
		t.Errorf("Expected refresh shortly after the poll closes, got %v", refreshes[0].Delay)
	}
}

func TestRunRefreshPoll(t *testing.T) {
	te := newTestEngine(t)
	bob := te.remoteAccount("bob", "remote.example.com")
	uri := bob.URI + "/statuses/poll"
	poll := &domain.Poll{
		Id:            uuid.New(),
		StatusId:      uuid.New(),
		AccountId:     bob.Id,
		Options:       []string{"yes", "no"},
		CachedTallies: []int{1, 0},
	}
	te.db.CreatePoll(poll)
	te.fetcher.Objects[uri] = map[string]any{
		"id":          uri,
		"type":        "Question",
		"votersCount": 9.0,
		"oneOf": []any{
			map[string]any{"type": "Note", "name": "yes", "replies": map[string]any{"totalItems": 7.0}},
			map[string]any{"type": "Note", "name": "no", "replies": map[string]any{"totalItems": 2.0}},
		},
	}

	if err := te.engine.runRefreshPoll(context.Background(), tasks.Task{TargetId: poll.Id, URI: uri}); err != nil {
		t.Fatalf("runRefreshPoll failed: %v", err)
	}
	stored, _ := te.db.ReadPollById(poll.Id)
	if stored.CachedTallies[0] != 7 || stored.CachedTallies[1] != 2 {
		t.Errorf("Expected final tallies, got %v", stored.CachedTallies)
	}
	if stored.VotersCount != 9 {
		t.Errorf("Expected 9 voters, got %d", stored.VotersCount)
	}

	if err := te.engine.runRefreshPoll(context.Background(), tasks.Task{TargetId: poll.Id, URI: bob.URI + "/statuses/gone"}); err != nil {
		t.Errorf("Expected a deleted poll to be skipped, got %v", err)
	}
}
