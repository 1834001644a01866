package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/models"
)

func newTestStore(t *testing.T) *BboltStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewBboltStore(dbPath, time.Second)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addUser(t *testing.T, store *BboltStore, id, username string) {
	t.Helper()
	err := store.UpsertCredentials(auth.UserCredentials{
		User: models.User{
			ID:          id,
			UserName:    username,
			DisplayName: username,
			Status:      models.UserStatusActive,
		},
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("UpsertCredentials failed: %v", err)
	}
}

func TestStore_Credentials(t *testing.T) {
	store := newTestStore(t)

	addUser(t, store, "u1", "alice")
	addUser(t, store, "u2", "bob")

	creds, err := store.ListCredentials()
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(creds) != 2 {
		t.Errorf("expected 2 credentials, got %d", len(creds))
	}
}

func TestStore_Tokens(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpsertToken("u1", "hash123"); err != nil {
		t.Fatalf("UpsertToken failed: %v", err)
	}

	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if tokens["hash123"] != "u1" {
		t.Errorf("expected u1 for hash123, got %s", tokens["hash123"])
	}

	if err := store.DeleteToken("hash123"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	tokens, _ = store.ListTokens()
	if _, ok := tokens["hash123"]; ok {
		t.Error("expected token to be deleted")
	}
}

func TestStore_AppendAndHistory(t *testing.T) {
	store := newTestStore(t)
	addUser(t, store, "a", "alice")
	addUser(t, store, "b", "bob")

	m1, err := store.AppendMessage("a", "b", "hello", "")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if m1.Seen {
		t.Error("new message must start unseen")
	}
	if m1.ID == 0 {
		t.Error("message should have a non-zero id")
	}

	m2, err := store.AppendMessage("b", "a", "hi there", "")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Errorf("ids must be monotonic: %d then %d", m1.ID, m2.ID)
	}

	// History is symmetric in its arguments and ordered oldest first.
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		msgs, err := store.History(pair[0], pair[1])
		if err != nil {
			t.Fatalf("History(%s,%s) failed: %v", pair[0], pair[1], err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Text != "hello" || msgs[1].Text != "hi there" {
			t.Errorf("wrong order: %q then %q", msgs[0].Text, msgs[1].Text)
		}
		if msgs[len(msgs)-1].ID != m2.ID {
			t.Error("newest message must be last")
		}
	}
}

func TestStore_AppendValidation(t *testing.T) {
	store := newTestStore(t)
	addUser(t, store, "a", "alice")
	addUser(t, store, "b", "bob")

	_, err := store.AppendMessage("a", "b", "", "")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	_, err = store.AppendMessage("a", "ghost", "hi", "")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown recipient, got %v", err)
	}

	// Image-only message is fine.
	if _, err := store.AppendMessage("a", "b", "", "file-1"); err != nil {
		t.Errorf("image-only message should be valid: %v", err)
	}

	msgs, _ := store.History("a", "b")
	if len(msgs) != 1 {
		t.Errorf("rejected messages must not be persisted, history has %d", len(msgs))
	}
}

func TestStore_HistoryUnknownUser(t *testing.T) {
	store := newTestStore(t)
	addUser(t, store, "a", "alice")

	if _, err := store.History("a", "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MarkSeenAndUnseenCounts(t *testing.T) {
	store := newTestStore(t)
	addUser(t, store, "a", "alice")
	addUser(t, store, "b", "bob")
	addUser(t, store, "c", "carol")

	mustAppend := func(sender, recipient, text string) {
		t.Helper()
		if _, err := store.AppendMessage(sender, recipient, text, ""); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	mustAppend("a", "b", "one")
	mustAppend("a", "b", "two")
	mustAppend("c", "b", "three")
	mustAppend("b", "a", "reply")

	counts, err := store.UnseenCounts("b")
	if err != nil {
		t.Fatalf("UnseenCounts failed: %v", err)
	}
	if counts["a"] != 2 || counts["c"] != 1 {
		t.Errorf("expected a:2 c:1, got %v", counts)
	}

	// Marking a conversation seen only affects that counterpart, and only
	// messages addressed to the viewer.
	if err := store.MarkSeen("b", "a"); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}

	counts, _ = store.UnseenCounts("b")
	if counts["a"] != 0 || counts["c"] != 1 {
		t.Errorf("expected a:0 c:1 after MarkSeen, got %v", counts)
	}

	// b's own message to a stays unseen from a's perspective until a marks it.
	counts, _ = store.UnseenCounts("a")
	if counts["b"] != 1 {
		t.Errorf("expected b:1 for viewer a, got %v", counts)
	}

	// Idempotent: marking again changes nothing.
	if err := store.MarkSeen("b", "a"); err != nil {
		t.Fatalf("second MarkSeen failed: %v", err)
	}
	counts, _ = store.UnseenCounts("b")
	if counts["a"] != 0 || counts["c"] != 1 {
		t.Errorf("MarkSeen is not idempotent: %v", counts)
	}

	// MarkSeen with no matching messages is a no-op.
	if err := store.MarkSeen("c", "a"); err != nil {
		t.Fatalf("no-op MarkSeen failed: %v", err)
	}

	// Seen flags are visible in history.
	msgs, _ := store.History("a", "b")
	for _, m := range msgs {
		if m.RecipientID == "b" && !m.Seen {
			t.Errorf("message %d to b should be seen", m.ID)
		}
		if m.RecipientID == "a" && m.Seen {
			t.Errorf("message %d to a should still be unseen", m.ID)
		}
	}
}
