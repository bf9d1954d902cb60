package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/luma/msnp/contacts"
)

var bucketSnapshots = []byte("snapshots")

// BboltStore persists snapshots in a bbolt file, one msgpack value per
// account.
type BboltStore struct {
	db *bbolt.DB
}

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

func (s *BboltStore) Save(ctx context.Context, snapshot *contacts.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)

		value := (*dbSnapshot)(snapshot)
		data, err := value.MarshalBinary()
		if err != nil {
			return err
		}

		return b.Put(value.Key(), data)
	})
}

func (s *BboltStore) Load(ctx context.Context, account string) (*contacts.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snapshot dbSnapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(strings.ToLower(account)))
		if data == nil {
			return ErrNotFound
		}

		return snapshot.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, err
	}

	return (*contacts.Snapshot)(&snapshot), nil
}

// Accounts lists every account with a stored snapshot.
func (s *BboltStore) Accounts() ([]string, error) {
	var accounts []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			accounts = append(accounts, string(k))
			return nil
		})
	})

	return accounts, err
}

var _ Store = (*BboltStore)(nil)
