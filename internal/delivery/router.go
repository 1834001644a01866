// Package delivery routes newly created messages: persist first, then push
// to the recipient's live connections when there are any. Persistence, not
// live delivery, is the success criterion of a send.
package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"quickchat/internal/content"
	"quickchat/internal/filestore"
	"quickchat/internal/models"
	"quickchat/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

type MessageStore interface {
	AppendMessage(senderID, recipientID, text, imageRef string) (models.Message, error)
}

type MetadataStore interface {
	UpsertFileMetadata(meta storage.DBFile) error
}

type Pusher interface {
	IsOnline(userID string) bool
	PushMessage(msg models.Message)
}

type Router struct {
	store         MessageStore
	meta          MetadataStore
	files         filestore.FileStore
	hub           Pusher
	maxImageBytes int64
	now           func() time.Time
}

func NewRouter(store MessageStore, meta MetadataStore, files filestore.FileStore, hub Pusher, maxImageBytes int64) *Router {
	return &Router{
		store:         store,
		meta:          meta,
		files:         files,
		hub:           hub,
		maxImageBytes: maxImageBytes,
		now:           time.Now,
	}
}

// Send validates, persists and fans out one message. imageData is the
// base64-encoded image payload, with or without a data-URL prefix. A push
// failure never rolls back the persisted message and never errors the call.
func (rt *Router) Send(ctx context.Context, senderID, recipientID, text, imageData string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	if text == "" && imageData == "" {
		return models.Message{}, fmt.Errorf("%w: message needs text or an image", models.ErrValidation)
	}

	imageRef := ""
	if imageData != "" {
		ref, err := rt.storeImage(senderID, imageData)
		if err != nil {
			return models.Message{}, err
		}
		imageRef = ref
	}

	msg, err := rt.store.AppendMessage(senderID, recipientID, text, imageRef)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Text != "" {
		msg.HTML = content.Render(msg.Text)
	}

	if rt.hub.IsOnline(recipientID) {
		rt.hub.PushMessage(msg)
	}

	return msg, nil
}

// storeImage enforces the payload cap, sniffs the content type and writes
// the image to the content-addressed store. Nothing is persisted for
// rejected payloads.
func (rt *Router) storeImage(senderID, imageData string) (string, error) {
	// The cap applies to the encoded form, matching the transport limit the
	// clients are written against.
	if int64(len(imageData)) > rt.maxImageBytes {
		return "", fmt.Errorf("%w: image payload exceeds %d bytes", models.ErrPayloadTooLarge, rt.maxImageBytes)
	}

	if strings.HasPrefix(imageData, "data:") {
		idx := strings.Index(imageData, ",")
		if idx < 0 {
			return "", fmt.Errorf("%w: malformed data URL", models.ErrValidation)
		}
		imageData = imageData[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return "", fmt.Errorf("%w: image is not valid base64", models.ErrValidation)
	}

	if !filetype.IsImage(raw) {
		return "", fmt.Errorf("%w: payload is not an image", models.ErrValidation)
	}
	kind, err := filetype.Match(raw)
	if err != nil {
		return "", fmt.Errorf("%w: could not detect image type", models.ErrValidation)
	}

	hash, size, err := rt.files.Save(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	meta := storage.DBFile{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      size,
		OwnerID:   senderID,
		CreatedAt: rt.now().UnixMilli(),
	}
	if err := rt.meta.UpsertFileMetadata(meta); err != nil {
		return "", fmt.Errorf("failed to store image metadata: %w", err)
	}

	return meta.ID, nil
}
