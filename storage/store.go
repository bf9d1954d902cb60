package storage

import (
	"context"
	"errors"

	"github.com/luma/msnp/contacts"
)

var ErrNotFound = errors.New("No buddy list snapshot stored for account")

// Store keeps the last known buddy list of each account between runs so the
// sync engine can tell the user what changed on the server while they were
// away.
type Store interface {
	// Load returns ErrNotFound when nothing was saved for account yet.
	Load(ctx context.Context, account string) (*contacts.Snapshot, error)
	Save(ctx context.Context, snapshot *contacts.Snapshot) error

	Close() error
}
