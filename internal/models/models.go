package models

import "errors"

var (
	// ErrNotFound is returned when a referenced user or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input: empty message payload,
	// non-image data where an image is expected, bad usernames.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is returned when a caller has no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPayloadTooLarge is returned when an image payload exceeds the cap.
	// Nothing is persisted in that case.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStoreUnavailable is returned when the persistence layer times out
	// or is closed. Safe for the caller to retry, but send is not idempotent
	// so retries may duplicate messages.
	ErrStoreUnavailable = errors.New("store unavailable")
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Bio         string     `json:"bio,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Status      UserStatus `json:"status"`
}

// Message represents a persisted direct message. ID is globally monotonic
// by creation time and is the canonical tiebreaker for display order.
// At least one of Text and ImageRef is set.
type Message struct {
	ID          uint64 `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text,omitempty"`
	HTML        string `json:"html,omitempty"`
	ImageRef    string `json:"imageRef,omitempty"`
	CreatedAt   int64  `json:"createdAt"` // Unix timestamp (milliseconds)
	Seen        bool   `json:"seen"`
}

type ServerMessageType string

const (
	ServerMessageTypePresence   ServerMessageType = "presence-update"
	ServerMessageTypeNewMessage ServerMessageType = "new-message"
)

// ServerMessage is a payload pushed to a live connection.
type ServerMessage struct {
	Type          ServerMessageType `json:"type"`
	OnlineUserIDs []string          `json:"onlineUserIds,omitempty"`
	Message       *Message          `json:"message,omitempty"`
}
