package db

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
)

func TestUpsertRemoteAccount(t *testing.T) {
	db := setupTestDB(t)

	acc := &domain.RemoteAccount{
		Username:       "bob",
		Domain:         "remote.example",
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       "https://remote.example/users/bob/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		PublicKeyId:    "https://remote.example/users/bob#main-key",
		PublicKeyPem:   "pem-1",
		LastFetchedAt:  time.Now(),
	}
	if err := db.UpsertRemoteAccount(acc); err != nil {
		t.Fatalf("UpsertRemoteAccount failed: %v", err)
	}

	acc.PublicKeyPem = "pem-2"
	acc.DisplayName = "Bob"
	if err := db.UpsertRemoteAccount(acc); err != nil {
		t.Fatalf("second UpsertRemoteAccount failed: %v", err)
	}

	read, err := db.ReadRemoteAccountByURI(acc.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}
	if read.PublicKeyPem != "pem-2" {
		t.Errorf("Expected refreshed key pem-2, got %s", read.PublicKeyPem)
	}
	if read.DisplayName != "Bob" {
		t.Errorf("Expected DisplayName Bob, got %s", read.DisplayName)
	}
	if read.SharedInboxURI != "https://remote.example/inbox" {
		t.Errorf("Expected shared inbox, got %s", read.SharedInboxURI)
	}
}

func TestCreateActivityDeduplicates(t *testing.T) {
	db := setupTestDB(t)

	activity := &domain.Activity{
		ActivityURI:  "https://remote.example/activities/1",
		ActivityType: "Like",
		ActorURI:     "https://remote.example/users/bob",
		ObjectURI:    "https://local.example/notes/1",
		RawJSON:      "{}",
	}
	inserted, err := db.CreateActivity(activity)
	if err != nil || !inserted {
		t.Fatalf("Expected first CreateActivity to insert, got %v, %v", inserted, err)
	}

	again := *activity
	again.Id = uuid.Nil
	inserted, err = db.CreateActivity(&again)
	if err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate activity URI not to insert")
	}

	if err := db.MarkActivityProcessed(activity.ActivityURI); err != nil {
		t.Fatalf("MarkActivityProcessed failed: %v", err)
	}
	read, err := db.ReadActivityByURI(activity.ActivityURI)
	if err != nil {
		t.Fatalf("ReadActivityByURI failed: %v", err)
	}
	if !read.Processed {
		t.Error("Expected activity to be processed")
	}
	if read.ObjectURI != activity.ObjectURI {
		t.Errorf("Expected ObjectURI %s, got %s", activity.ObjectURI, read.ObjectURI)
	}
}

func TestUpsertPostIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	post := &domain.Post{
		ObjectURI:   "https://remote.example/notes/1",
		ActivityURI: "https://remote.example/activities/1",
		AuthorURI:   "https://remote.example/users/bob",
		Origin:      "remote.example",
		Content:     "hello fediverse",
		Extensions:  domain.Extensions{"conversation": []byte(`"tag:remote.example,2024:1"`)},
	}
	inserted, err := db.UpsertPost(post)
	if err != nil || !inserted {
		t.Fatalf("Expected first UpsertPost to insert, got %v, %v", inserted, err)
	}

	dup := *post
	dup.Id = uuid.Nil
	inserted, err = db.UpsertPost(&dup)
	if err != nil {
		t.Fatalf("UpsertPost failed: %v", err)
	}
	if inserted {
		t.Error("Expected second UpsertPost to be a no-op")
	}

	read, err := db.ReadPostByObjectURI(post.ObjectURI)
	if err != nil {
		t.Fatalf("ReadPostByObjectURI failed: %v", err)
	}
	if read.Visibility != domain.VisibilityPublic {
		t.Errorf("Expected default visibility public, got %s", read.Visibility)
	}
	if string(read.Extensions["conversation"]) != `"tag:remote.example,2024:1"` {
		t.Errorf("Expected extension to round trip, got %s", read.Extensions["conversation"])
	}

	posts, err := db.ReadPublicPostsByAuthor(post.AuthorURI, 10, 0)
	if err != nil {
		t.Fatalf("ReadPublicPostsByAuthor failed: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("Expected exactly 1 post, got %d", len(posts))
	}
}

func TestReadPublicPostsByAuthorSkipsPrivate(t *testing.T) {
	db := setupTestDB(t)

	author := "https://local.example/users/alice"
	for i, vis := range []domain.Visibility{domain.VisibilityPublic, domain.VisibilityPrivate, domain.VisibilityDirect, domain.VisibilityUnlisted} {
		_, err := db.UpsertPost(&domain.Post{
			ObjectURI:  "https://local.example/notes/" + string(rune('a'+i)),
			AuthorURI:  author,
			Origin:     "local.example",
			Visibility: vis,
			Local:      true,
		})
		if err != nil {
			t.Fatalf("UpsertPost failed: %v", err)
		}
	}

	posts, err := db.ReadPublicPostsByAuthor(author, 10, 0)
	if err != nil {
		t.Fatalf("ReadPublicPostsByAuthor failed: %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("Expected 2 public/unlisted posts, got %d", len(posts))
	}

	public, err := db.CountPublicPostsByAuthor(author)
	if err != nil {
		t.Fatalf("CountPublicPostsByAuthor failed: %v", err)
	}
	if public != 2 {
		t.Errorf("Expected count 2, got %d", public)
	}

	page, err := db.ReadPublicPostsByAuthor(author, 10, 1)
	if err != nil {
		t.Fatalf("ReadPublicPostsByAuthor with offset failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("Expected 1 post after offset, got %d", len(page))
	}

	n, err := db.CountLocalPosts()
	if err != nil {
		t.Fatalf("CountLocalPosts failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 local posts, got %d", n)
	}
}

func TestLikeUpsertAndDelete(t *testing.T) {
	db := setupTestDB(t)

	like := &domain.Like{
		ActorURI:  "https://remote.example/users/bob",
		ObjectURI: "https://local.example/notes/1",
		URI:       "https://remote.example/likes/1",
	}
	for i := 0; i < 3; i++ {
		l := *like
		if _, err := db.UpsertLike(&l); err != nil {
			t.Fatalf("UpsertLike failed: %v", err)
		}
	}

	count, _ := db.CountLikes(like.ObjectURI)
	if count != 1 {
		t.Errorf("Expected 1 like after repeated upserts, got %d", count)
	}

	deleted, err := db.DeleteLike(like.ActorURI, like.ObjectURI)
	if err != nil || !deleted {
		t.Fatalf("Expected first delete to remove the like, got %v, %v", deleted, err)
	}
	deleted, err = db.DeleteLike(like.ActorURI, like.ObjectURI)
	if err != nil {
		t.Fatalf("second DeleteLike failed: %v", err)
	}
	if deleted {
		t.Error("Expected second delete to be a no-op")
	}

	count, _ = db.CountLikes(like.ObjectURI)
	if count != 0 {
		t.Errorf("Expected 0 likes, got %d", count)
	}
}

func TestBoostUpsertAndDelete(t *testing.T) {
	db := setupTestDB(t)

	boost := &domain.Boost{ActorURI: "https://remote.example/users/bob", ObjectURI: "https://local.example/notes/1"}
	inserted, err := db.UpsertBoost(boost)
	if err != nil || !inserted {
		t.Fatalf("Expected UpsertBoost to insert, got %v, %v", inserted, err)
	}
	dup := *boost
	dup.Id = uuid.Nil
	inserted, _ = db.UpsertBoost(&dup)
	if inserted {
		t.Error("Expected duplicate boost not to insert")
	}

	if _, err := db.DeleteBoost(boost.ActorURI, boost.ObjectURI); err != nil {
		t.Fatalf("DeleteBoost failed: %v", err)
	}
	count, _ := db.CountBoosts(boost.ObjectURI)
	if count != 0 {
		t.Errorf("Expected 0 boosts, got %d", count)
	}
}

func TestConcurrentFollowersConverge(t *testing.T) {
	db := setupTestDB(t)

	followed := "https://local.example/users/alice"
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.UpsertFollower(&domain.Follower{
				FollowerURI: "https://remote.example/users/bob",
				FollowedURI: followed,
				Origin:      "remote.example",
				URI:         "https://remote.example/follows/" + uuid.NewString(),
				Accepted:    true,
			})
			if err != nil {
				t.Errorf("UpsertFollower failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := db.CountFollowers(followed)
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly one follower row, got %d", n)
	}
}

func TestOutgoingFollowAccepted(t *testing.T) {
	db := setupTestDB(t)

	local := "https://local.example/users/alice"
	remote := "https://remote.example/users/bob"
	followURI := "https://local.example/activities/" + uuid.NewString()
	if err := db.UpsertFollower(&domain.Follower{FollowerURI: local, FollowedURI: remote, Origin: "local.example", URI: followURI}); err != nil {
		t.Fatalf("UpsertFollower failed: %v", err)
	}

	if n, _ := db.CountFollowers(remote); n != 0 {
		t.Errorf("Expected pending follow not to count, got %d", n)
	}

	follow, err := db.ReadFollowByURI(followURI)
	if err != nil {
		t.Fatalf("ReadFollowByURI failed: %v", err)
	}
	if follow.FollowerURI != local || follow.FollowedURI != remote || follow.Accepted {
		t.Errorf("Unexpected follow %+v", follow)
	}

	accepted, err := db.AcceptFollow(local, remote)
	if err != nil {
		t.Fatalf("AcceptFollow failed: %v", err)
	}
	if !accepted {
		t.Error("Expected pending follow to be accepted")
	}
	again, _ := db.AcceptFollow(local, remote)
	if again {
		t.Error("Expected second accept to change nothing")
	}

	following, err := db.ReadFollowing(local)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}
	if len(following) != 1 || !following[0].Accepted {
		t.Errorf("Expected one accepted follow, got %+v", following)
	}

	if _, err := db.ReadFollowByURI("https://local.example/activities/missing"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

func TestReadActiveFollowersSkipsSuspended(t *testing.T) {
	db := setupTestDB(t)

	followed := "https://local.example/users/alice"
	for _, f := range []struct{ uri, origin string }{
		{"https://a.example/users/one", "a.example"},
		{"https://b.example/users/two", "b.example"},
		{"https://c.example/users/three", "c.example"},
	} {
		if err := db.UpsertFollower(&domain.Follower{FollowerURI: f.uri, FollowedURI: followed, Origin: f.origin, Accepted: true}); err != nil {
			t.Fatalf("UpsertFollower failed: %v", err)
		}
	}
	if err := db.TouchInstance("a.example"); err != nil {
		t.Fatalf("TouchInstance failed: %v", err)
	}
	if err := db.SetInstanceStatus("b.example", domain.InstanceSuspended); err != nil {
		t.Fatalf("SetInstanceStatus failed: %v", err)
	}

	all, _ := db.ReadFollowers(followed)
	if len(all) != 3 {
		t.Errorf("Expected 3 followers, got %d", len(all))
	}

	active, err := db.ReadActiveFollowers(followed)
	if err != nil {
		t.Fatalf("ReadActiveFollowers failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active followers, got %d", len(active))
	}
	for _, f := range active {
		if f.Origin == "b.example" {
			t.Error("Expected follower on suspended instance to be skipped")
		}
	}

	deleted, _ := db.DeleteFollower("https://a.example/users/one", followed)
	if !deleted {
		t.Error("Expected follower to be deleted")
	}
	deleted, _ = db.DeleteFollower("https://a.example/users/one", followed)
	if deleted {
		t.Error("Expected repeated delete to be a no-op")
	}
}

func TestReactionUniquePerEmoji(t *testing.T) {
	db := setupTestDB(t)

	target := "https://local.example/notes/1"
	actor := "https://remote.example/users/bob"
	for _, emoji := range []string{"🔥", "🔥", "👍", "🔥"} {
		if _, err := db.UpsertReaction(&domain.Reaction{ActorURI: actor, TargetURI: target, Emoji: emoji}); err != nil {
			t.Fatalf("UpsertReaction failed: %v", err)
		}
	}

	reactions, err := db.ReadReactionsByTarget(target)
	if err != nil {
		t.Fatalf("ReadReactionsByTarget failed: %v", err)
	}
	if len(reactions) != 2 {
		t.Errorf("Expected 2 distinct reactions, got %d", len(reactions))
	}

	if _, err := db.DeleteReaction(actor, target, "🔥"); err != nil {
		t.Fatalf("DeleteReaction failed: %v", err)
	}
	reactions, _ = db.ReadReactionsByTarget(target)
	if len(reactions) != 1 || reactions[0].Emoji != "👍" {
		t.Errorf("Expected only 👍 to remain, got %+v", reactions)
	}
}

func TestCreateChatMessageDeduplicates(t *testing.T) {
	db := setupTestDB(t)

	msg := &domain.ChatMessage{
		URI:        "https://remote.example/activities/chat-1",
		ObjectURI:  "https://remote.example/objects/chat-1",
		SenderURI:  "https://remote.example/users/bob",
		Recipients: []string{"https://local.example/users/alice"},
		Content:    "hi :wave:",
		Mentions:   []string{"https://local.example/users/alice"},
		Emojis:     []string{":wave:"},
		Origin:     "remote.example",
	}
	inserted, err := db.CreateChatMessage(msg)
	if err != nil || !inserted {
		t.Fatalf("Expected chat message to insert, got %v, %v", inserted, err)
	}
	dup := *msg
	dup.Id = uuid.Nil
	inserted, _ = db.CreateChatMessage(&dup)
	if inserted {
		t.Error("Expected duplicate chat message to be skipped")
	}

	read, err := db.ReadChatMessageByURI(msg.URI)
	if err != nil {
		t.Fatalf("ReadChatMessageByURI failed: %v", err)
	}
	if len(read.Recipients) != 1 || read.Recipients[0] != "https://local.example/users/alice" {
		t.Errorf("Expected recipients to round trip, got %v", read.Recipients)
	}
	if len(read.Mentions) != 1 {
		t.Errorf("Expected 1 mention, got %v", read.Mentions)
	}
	if len(read.Emojis) != 1 || read.Emojis[0] != ":wave:" {
		t.Errorf("Expected emoji :wave:, got %v", read.Emojis)
	}
}

func TestInstances(t *testing.T) {
	db := setupTestDB(t)

	if err := db.TouchInstance("remote.example"); err != nil {
		t.Fatalf("TouchInstance failed: %v", err)
	}
	fi, err := db.ReadInstance("remote.example")
	if err != nil {
		t.Fatalf("ReadInstance failed: %v", err)
	}
	if fi.Status != domain.InstanceActive {
		t.Errorf("Expected new instance to be active, got %s", fi.Status)
	}

	if err := db.SetInstanceStatus("remote.example", domain.InstanceSuspended); err != nil {
		t.Fatalf("SetInstanceStatus failed: %v", err)
	}
	// touching keeps the status
	if err := db.TouchInstance("remote.example"); err != nil {
		t.Fatalf("TouchInstance failed: %v", err)
	}
	fi, _ = db.ReadInstance("remote.example")
	if fi.Status != domain.InstanceSuspended {
		t.Errorf("Expected instance to stay suspended, got %s", fi.Status)
	}

	all, err := db.ReadAllInstances()
	if err != nil {
		t.Fatalf("ReadAllInstances failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 instance, got %d", len(all))
	}
}
