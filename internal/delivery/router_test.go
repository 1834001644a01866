package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"quickchat/internal/models"
	"quickchat/internal/storage"
)

// Minimal PNG magic, enough for content sniffing.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type fakeStore struct {
	appended []models.Message
	nextID   uint64
	err      error
}

func (f *fakeStore) AppendMessage(senderID, recipientID, text, imageRef string) (models.Message, error) {
	if f.err != nil {
		return models.Message{}, f.err
	}
	if text == "" && imageRef == "" {
		return models.Message{}, models.ErrValidation
	}
	f.nextID++
	msg := models.Message{
		ID:          f.nextID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		ImageRef:    imageRef,
	}
	f.appended = append(f.appended, msg)
	return msg, nil
}

type fakeMeta struct {
	stored []storage.DBFile
}

func (f *fakeMeta) UpsertFileMetadata(meta storage.DBFile) error {
	f.stored = append(f.stored, meta)
	return nil
}

type fakePusher struct {
	online map[string]bool
	pushed []models.Message
}

func (f *fakePusher) IsOnline(userID string) bool { return f.online[userID] }
func (f *fakePusher) PushMessage(msg models.Message) {
	f.pushed = append(f.pushed, msg)
}

type fakeFiles struct {
	saved int
}

func (f *fakeFiles) Save(r io.Reader) (string, int64, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", 0, err
	}
	f.saved++
	return "fakehash", n, nil
}

func (f *fakeFiles) Get(hash string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func newTestRouter(maxImageBytes int64) (*Router, *fakeStore, *fakeMeta, *fakeFiles, *fakePusher) {
	store := &fakeStore{}
	meta := &fakeMeta{}
	files := &fakeFiles{}
	pusher := &fakePusher{online: map[string]bool{}}
	return NewRouter(store, meta, files, pusher, maxImageBytes), store, meta, files, pusher
}

func TestRouter_SendTextOnline(t *testing.T) {
	rt, store, _, _, pusher := newTestRouter(1 << 20)
	pusher.online["bob"] = true

	msg, err := rt.Send(context.Background(), "alice", "bob", "hi *there*", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Text != "hi *there*" {
		t.Errorf("wrong text: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "<em>there</em>") {
		t.Errorf("expected rendered HTML, got %q", msg.HTML)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(store.appended))
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0].Text != "hi *there*" {
		t.Fatalf("expected 1 pushed message, got %+v", pusher.pushed)
	}
}

func TestRouter_SendTextOffline(t *testing.T) {
	rt, store, _, _, pusher := newTestRouter(1 << 20)

	_, err := rt.Send(context.Background(), "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(store.appended) != 1 {
		t.Error("message must be persisted for an offline recipient")
	}
	if len(pusher.pushed) != 0 {
		t.Error("no push expected for an offline recipient")
	}
}

func TestRouter_EmptyPayload(t *testing.T) {
	rt, store, _, _, _ := newTestRouter(1 << 20)

	_, err := rt.Send(context.Background(), "alice", "bob", "", "")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if len(store.appended) != 0 {
		t.Error("nothing must be persisted for an empty payload")
	}
}

func TestRouter_OversizedImage(t *testing.T) {
	rt, store, meta, files, _ := newTestRouter(64)

	big := base64.StdEncoding.EncodeToString(make([]byte, 256))
	_, err := rt.Send(context.Background(), "alice", "bob", "", big)
	if !errors.Is(err, models.ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if len(store.appended) != 0 || len(meta.stored) != 0 || files.saved != 0 {
		t.Error("an oversized image must leave no trace")
	}
}

func TestRouter_NonImagePayload(t *testing.T) {
	rt, store, _, _, _ := newTestRouter(1 << 20)

	notAnImage := base64.StdEncoding.EncodeToString([]byte("plain text"))
	_, err := rt.Send(context.Background(), "alice", "bob", "", notAnImage)
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if len(store.appended) != 0 {
		t.Error("nothing must be persisted for a non-image payload")
	}
}

func TestRouter_ImageWithDataURL(t *testing.T) {
	rt, store, meta, files, pusher := newTestRouter(1 << 20)
	pusher.online["bob"] = true

	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	msg, err := rt.Send(context.Background(), "alice", "bob", "", data)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.ImageRef == "" {
		t.Error("expected an image ref on the persisted message")
	}
	if files.saved != 1 {
		t.Errorf("expected 1 saved file, got %d", files.saved)
	}
	if len(meta.stored) != 1 {
		t.Fatalf("expected 1 metadata record, got %d", len(meta.stored))
	}
	if meta.stored[0].MimeType != "image/png" {
		t.Errorf("expected image/png, got %s", meta.stored[0].MimeType)
	}
	if len(store.appended) != 1 || store.appended[0].ImageRef != msg.ImageRef {
		t.Error("persisted message must reference the stored image")
	}
	if len(pusher.pushed) != 1 {
		t.Error("expected the image message to be pushed")
	}
}

func TestRouter_StoreErrorPropagates(t *testing.T) {
	rt, store, _, _, pusher := newTestRouter(1 << 20)
	store.err = models.ErrStoreUnavailable
	pusher.online["bob"] = true

	_, err := rt.Send(context.Background(), "alice", "bob", "hi", "")
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(pusher.pushed) != 0 {
		t.Error("nothing must be pushed when persistence fails")
	}
}
