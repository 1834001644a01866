package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketTokens   = []byte("tokens")
	bucketMessages = []byte("messages")
	bucketFiles    = []byte("files")
)

type BboltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStore(path string, timeout time.Duration) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", mapStoreErr(err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketTokens, bucketMessages, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db, now: time.Now}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

// mapStoreErr converts persistence-layer outages into ErrStoreUnavailable
// so callers can treat them as transient.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bbolt.ErrTimeout) || errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

// pairKey returns the messages sub-bucket name for a user pair. The order of
// the arguments does not matter.
func pairKey(a, b string) []byte {
	ids := []string{a, b}
	sort.Strings(ids)
	return []byte(ids[0] + ":" + ids[1])
}

func pairContains(key []byte, userID string) (counterpart string, ok bool) {
	parts := strings.SplitN(string(key), ":", 2)
	if len(parts) != 2 {
		return "", false
	}
	switch userID {
	case parts[0]:
		return parts[1], true
	case parts[1]:
		return parts[0], true
	}
	return "", false
}

func dbUserToCredentials(u DBUser) auth.UserCredentials {
	return auth.UserCredentials{
		User: models.User{
			ID:          u.ID,
			UserName:    u.UserName,
			DisplayName: u.DisplayName,
			Bio:         u.Bio,
			AvatarURL:   u.AvatarURL,
			Status:      models.UserStatus(u.Status),
		},
		PasswordHash: u.PasswordHash,
	}
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStore) UpsertCredentials(credentials auth.UserCredentials) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			Bio:          credentials.Bio,
			AvatarURL:    credentials.AvatarURL,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
			CreatedAt:    s.now().UnixMilli(),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
	return mapStoreErr(err)
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStore) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, dbUserToCredentials(dbUser))
			return nil
		})
	})
	return credentials, mapStoreErr(err)
}

func (s *BboltStore) UpsertToken(userID, tokenHash string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID:    userID,
			TokenHash: tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
	return mapStoreErr(err)
}

func (s *BboltStore) DeleteToken(tokenHash string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
	return mapStoreErr(err)
}

func (s *BboltStore) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.TokenHash] = dbToken.UserID
			return nil
		})
	})
	return tokens, mapStoreErr(err)
}

func userExists(tx *bbolt.Tx, userID string) bool {
	return tx.Bucket(bucketUsers).Get([]byte(userID)) != nil
}

// AppendMessage validates and durably persists a new message. The message ID
// comes from the messages bucket sequence, so IDs are globally monotonic by
// creation order. The write is atomic: no partially visible messages.
func (s *BboltStore) AppendMessage(senderID, recipientID, text, imageRef string) (models.Message, error) {
	if text == "" && imageRef == "" {
		return models.Message{}, fmt.Errorf("%w: message needs text or an image", models.ErrValidation)
	}

	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if !userExists(tx, senderID) {
			return fmt.Errorf("sender %s: %w", senderID, models.ErrNotFound)
		}
		if !userExists(tx, recipientID) {
			return fmt.Errorf("recipient %s: %w", recipientID, models.ErrNotFound)
		}

		root := tx.Bucket(bucketMessages)
		id, err := root.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message id: %w", err)
		}

		pair, err := root.CreateBucketIfNotExists(pairKey(senderID, recipientID))
		if err != nil {
			return fmt.Errorf("failed to create pair bucket: %w", err)
		}

		dbMsg := DBMessage{
			ID:          id,
			SenderID:    senderID,
			RecipientID: recipientID,
			Text:        text,
			ImageRef:    imageRef,
			CreatedAt:   s.now().UnixMilli(),
		}

		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := pair.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		msg = models.Message{
			ID:          dbMsg.ID,
			SenderID:    dbMsg.SenderID,
			RecipientID: dbMsg.RecipientID,
			Text:        dbMsg.Text,
			ImageRef:    dbMsg.ImageRef,
			CreatedAt:   dbMsg.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return models.Message{}, mapStoreErr(err)
	}
	return msg, nil
}

// History returns all messages between the pair ordered by creation,
// oldest first.
func (s *BboltStore) History(userA, userB string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if !userExists(tx, userA) {
			return fmt.Errorf("user %s: %w", userA, models.ErrNotFound)
		}
		if !userExists(tx, userB) {
			return fmt.Errorf("user %s: %w", userB, models.ErrNotFound)
		}

		pair := tx.Bucket(bucketMessages).Bucket(pairKey(userA, userB))
		if pair == nil {
			return nil // No messages yet for this pair
		}

		return pair.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:          dbMsg.ID,
				SenderID:    dbMsg.SenderID,
				RecipientID: dbMsg.RecipientID,
				Text:        dbMsg.Text,
				ImageRef:    dbMsg.ImageRef,
				CreatedAt:   dbMsg.CreatedAt,
				Seen:        dbMsg.Seen,
			})
			return nil
		})
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return messages, nil
}

// MarkSeen flips seen=true on every unseen message sent by counterpart to
// viewer. Idempotent, and a no-op when nothing matches. Runs in a single
// write transaction so a concurrent append cannot be half-marked.
func (s *BboltStore) MarkSeen(viewerID, counterpartID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		pair := tx.Bucket(bucketMessages).Bucket(pairKey(viewerID, counterpartID))
		if pair == nil {
			return nil
		}

		type update struct {
			key  []byte
			data []byte
		}
		var updates []update

		err := pair.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.RecipientID != viewerID || dbMsg.Seen {
				return nil
			}
			dbMsg.Seen = true
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			key := make([]byte, len(k))
			copy(key, k)
			updates = append(updates, update{key: key, data: data})
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if err := pair.Put(u.key, u.data); err != nil {
				return err
			}
		}
		return nil
	})
	return mapStoreErr(err)
}

// UnseenCounts aggregates, per counterpart, the number of messages addressed
// to the viewer that have not been seen yet. Recomputed from the raw seen
// flags on every call so there is no counter to drift.
func (s *BboltStore) UnseenCounts(viewerID string) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		c := root.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue // not a pair bucket
			}
			counterpart, ok := pairContains(k, viewerID)
			if !ok {
				continue
			}
			pair := root.Bucket(k)
			err := pair.ForEach(func(_, mv []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(mv); err != nil {
					return err
				}
				if dbMsg.RecipientID == viewerID && !dbMsg.Seen {
					counts[counterpart]++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return counts, nil
}
