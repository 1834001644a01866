package storage

import (
	"fmt"

	"quickchat/internal/models"

	"go.etcd.io/bbolt"
)

func (s *BboltStore) UpsertFileMetadata(meta DBFile) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		return b.Put(meta.Key(), data)
	})
	return mapStoreErr(err)
}

func (s *BboltStore) GetFileMetadata(id string) (DBFile, error) {
	var meta DBFile
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	if err != nil {
		return DBFile{}, mapStoreErr(err)
	}
	return meta, nil
}
