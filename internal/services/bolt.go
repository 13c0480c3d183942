package services

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltDB keeps the widget's local state in a BoltDB file. The only state is the identifier of the thread the
// user last selected, which survives restarts the same way a browser-local key would.
//
// BoltDB holds an exclusive lock on the file, so a second process pointed at the same path fails to open it
// instead of racing on the stored key.
type BoltDB struct {
	db *bolt.DB
}

var (
	prefsBucket     = []byte("prefs")
	selectedChatKey = []byte("selectedChat")
)

const boltOpenTimeout = 2 * time.Second

// NewBoltDB opens (or creates) the BoltDB file at path and makes sure the prefs bucket exists. The file is
// created with 0600 permissions.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(prefsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create prefs bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// SelectedChat returns the stored thread identifier, or an empty string if none was stored yet.
func (b BoltDB) SelectedChat(context.Context) (string, error) {
	var chatID string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(prefsBucket)
		if bucket == nil {
			return nil
		}
		chatID = string(bucket.Get(selectedChatKey))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read selected chat: %w", err)
	}
	return chatID, nil
}

// SetSelectedChat stores chatID as the selected thread, overwriting the previous value.
func (b BoltDB) SetSelectedChat(_ context.Context, chatID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(prefsBucket)
		if err != nil {
			return err
		}
		return bucket.Put(selectedChatKey, []byte(chatID))
	})
	if err != nil {
		return fmt.Errorf("failed to store selected chat: %w", err)
	}
	return nil
}

// Close releases the file lock.
func (b BoltDB) Close() error {
	return b.db.Close()
}
