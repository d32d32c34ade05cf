package store

import (
	"path/filepath"
	"testing"

	"github.com/Joe3124t/pingy/internal/delivery"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", Kind: "text", Body: "v1", BodyKind: "plain", Status: "received", CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (dedup by id)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2", msgs[0].Body)
	}
}

func TestUpsertDoesNotTouchStatus(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", Body: "x", Status: "sending", FromMe: true, CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AdvanceMessageStatus("c1", "m1", delivery.Read, 2000); err != nil {
		t.Fatal(err)
	}

	// A re-ingest of the same message must not regress status.
	m.Status = "sending"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage("c1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(delivery.Read) {
		t.Errorf("status = %q, want read after re-upsert", got.Status)
	}
}

func TestAdvanceMessageStatusMonotonic(t *testing.T) {
	db := testDB(t)
	m := &Message{ConversationID: "c1", MsgID: "m1", Status: "sending", FromMe: true, CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	advanced, err := db.AdvanceMessageStatus("c1", "m1", delivery.Read, 3000)
	if err != nil || !advanced {
		t.Fatalf("advance to read = %v, %v", advanced, err)
	}

	// Late delivered event after read is dropped, not an error.
	advanced, err = db.AdvanceMessageStatus("c1", "m1", delivery.Delivered, 4000)
	if err != nil {
		t.Fatal(err)
	}
	if advanced {
		t.Error("delivered after read should be a no-op")
	}

	got, _ := db.GetMessage("c1", "m1")
	if got.Status != string(delivery.Read) {
		t.Errorf("status = %q, want read", got.Status)
	}
	// read implies delivered.
	if got.DeliveredAt != 3000 || got.ReadAt != 3000 {
		t.Errorf("delivered_at/read_at = %d/%d, want 3000/3000", got.DeliveredAt, got.ReadAt)
	}
}

func TestAdvanceMessageStatusUnknown(t *testing.T) {
	db := testDB(t)
	if _, err := db.AdvanceMessageStatus("c1", "ghost", delivery.Delivered, 1000); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRenameMessageID(t *testing.T) {
	db := testDB(t)
	m := &Message{ConversationID: "c1", MsgID: "client-1", Status: "sending", FromMe: true, CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	if err := db.RenameMessageID("c1", "client-1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.GetMessage("c1", "srv-1"); got == nil {
		t.Fatal("renamed message not found under server id")
	}
	if got, _ := db.GetMessage("c1", "client-1"); got != nil {
		t.Error("client id row still present after rename")
	}
}

func TestRenameMessageIDServerEchoFirst(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "client-1", Status: "sending", FromMe: true, CreatedAt: 1000})
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "srv-1", Status: "sent", FromMe: true, CreatedAt: 1001})

	if err := db.RenameMessageID("c1", "client-1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 || msgs[0].MsgID != "srv-1" {
		t.Errorf("got %d messages, want only srv-1", len(msgs))
	}
}

func TestTombstoneExcludedFromList(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m1", Status: "received", CreatedAt: 1000})
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m2", Status: "received", CreatedAt: 2000})

	if err := db.TombstoneMessage("c1", "m1"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 || msgs[0].MsgID != "m2" {
		t.Errorf("list = %v, want only m2", msgs)
	}

	// The record itself survives (tombstone, not erase).
	got, _ := db.GetMessage("c1", "m1")
	if got == nil || !got.Deleted {
		t.Error("tombstoned record should remain with deleted flag")
	}

	if err := db.TombstoneMessage("c1", "ghost"); err != ErrNotFound {
		t.Errorf("tombstone unknown = %v, want ErrNotFound", err)
	}
}

func TestAdjustReaction(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m1", Status: "received", CreatedAt: 1000})

	found, err := db.AdjustReaction("c1", "m1", "👍", 1)
	if err != nil || !found {
		t.Fatalf("adjust = %v, %v", found, err)
	}
	if _, err := db.AdjustReaction("c1", "m1", "👍", 1); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetMessage("c1", "m1")
	if got.Reactions["👍"] != 2 {
		t.Errorf("count = %d, want 2", got.Reactions["👍"])
	}

	// Removing below zero clears the emoji.
	_, _ = db.AdjustReaction("c1", "m1", "👍", -5)
	got, _ = db.GetMessage("c1", "m1")
	if _, ok := got.Reactions["👍"]; ok {
		t.Error("zeroed emoji should be removed")
	}

	found, err = db.AdjustReaction("c1", "ghost", "👍", 1)
	if err != nil || found {
		t.Errorf("unknown message = %v, %v; want false, nil", found, err)
	}
}

func TestConversationListSortAndArchive(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation(&Conversation{ID: "old-pinned", LastMessageAt: 100})
	_ = db.UpsertConversation(&Conversation{ID: "new-pinned", LastMessageAt: 300})
	_ = db.UpsertConversation(&Conversation{ID: "newest", LastMessageAt: 400})
	_ = db.UpsertConversation(&Conversation{ID: "archived", LastMessageAt: 500})

	pt := true
	if _, err := db.ApplyOverlayPatch("old-pinned", OverlayPatch{Pinned: &pt}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ApplyOverlayPatch("new-pinned", OverlayPatch{Pinned: &pt}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ApplyOverlayPatch("archived", OverlayPatch{Archived: &pt}); err != nil {
		t.Fatal(err)
	}

	views, err := db.ListConversations(false)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	want := []string{"new-pinned", "old-pinned", "newest"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	archived, err := db.ListArchivedConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].ID != "archived" {
		t.Errorf("archived view = %v, want [archived]", archived)
	}
}

func TestOverlaySurvivesConversationRefresh(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation(&Conversation{ID: "c1", PeerName: "Ada", LastMessageAt: 100})

	pt := true
	if _, err := db.ApplyOverlayPatch("c1", OverlayPatch{Pinned: &pt}); err != nil {
		t.Fatal(err)
	}

	// A full server refresh of the conversation record.
	_ = db.UpsertConversation(&Conversation{ID: "c1", PeerName: "Ada L.", LastMessageAt: 900})

	v, err := db.GetConversation("c1")
	if err != nil || v == nil {
		t.Fatalf("get = %v, %v", v, err)
	}
	if !v.Overlay.Pinned {
		t.Error("pinned overlay lost after conversation refresh")
	}
	if v.PeerName != "Ada L." {
		t.Errorf("peer name = %q, want refreshed", v.PeerName)
	}
}

func TestDisplayNamePrefersAlias(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation(&Conversation{ID: "c1", PeerName: "Ada"})

	v, _ := db.GetConversation("c1")
	if v.DisplayName != "Ada" {
		t.Errorf("display = %q, want peer name", v.DisplayName)
	}

	alias := "bestie"
	if _, err := db.ApplyOverlayPatch("c1", OverlayPatch{Alias: &alias}); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetConversation("c1")
	if v.DisplayName != "bestie" {
		t.Errorf("display = %q, want alias", v.DisplayName)
	}
}

func TestPeerKeyCache(t *testing.T) {
	db := testDB(t)

	if row, err := db.GetPeerKey("p1"); err != nil || row != nil {
		t.Fatalf("empty cache = %v, %v", row, err)
	}
	if err := db.PutPeerKey("p1", `{"kty":"OKP"}`); err != nil {
		t.Fatal(err)
	}
	row, err := db.GetPeerKey("p1")
	if err != nil || row == nil || row.JWK != `{"kty":"OKP"}` {
		t.Fatalf("get = %v, %v", row, err)
	}
	if row.FetchedAt == 0 {
		t.Error("fetched_at not stamped")
	}

	if err := db.DeletePeerKey("p1"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeletePeerKey("p1"); err != nil {
		t.Errorf("second delete = %v, want no-op", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("cid-1", "c1", "p1", "hello"); err != nil {
		t.Fatal(err)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	_ = db.MarkOutboxSending("cid-1")
	_ = db.MarkOutboxFailed("cid-1", "boom", true)

	entry, _ := db.GetOutboxEntry("cid-1")
	if entry.Status != "failed" || !entry.Retryable {
		t.Errorf("entry = %+v, want failed retryable", entry)
	}

	ok, err := db.RequeueOutbox("cid-1")
	if err != nil || !ok {
		t.Fatalf("requeue = %v, %v", ok, err)
	}
	// A second requeue finds nothing in failed state.
	ok, _ = db.RequeueOutbox("cid-1")
	if ok {
		t.Error("requeue of non-failed entry should return false")
	}

	_ = db.MarkOutboxSent("cid-1", "srv-9")
	entry, _ = db.GetOutboxEntry("cid-1")
	if entry.Status != "sent" || entry.ServerMsgID != "srv-9" {
		t.Errorf("entry = %+v, want sent srv-9", entry)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)

	if v, err := db.GetCheckpoint("cursor"); err != nil || v != "" {
		t.Fatalf("empty checkpoint = %q, %v", v, err)
	}
	if err := db.SetCheckpoint("cursor", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("cursor", "def"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetCheckpoint("cursor"); v != "def" {
		t.Errorf("checkpoint = %q, want def", v)
	}
}
