package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/msnp/contacts"
)

// InmemoryStore keeps every snapshot in a single JSON document keyed by
// account. The document can be written to and read back from disk with
// Backup and Restore.
type InmemoryStore struct {
	mu     sync.Mutex
	values []byte

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte(""),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryStore) Save(ctx context.Context, snapshot *contacts.Snapshot) (err error) {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.SetBytes(i.values, accountPath(snapshot.Account), snapshot)
	if err != nil {
		return fmt.Errorf("Failed to save snapshot of %s: %w", snapshot.Account, err)
	}

	return nil
}

func (i *InmemoryStore) Load(ctx context.Context, account string) (*contacts.Snapshot, error) {
	if !i.isRunning() {
		return nil, ErrClosed
	}

	i.mu.Lock()
	result := gjson.GetBytes(i.values, accountPath(account))
	i.mu.Unlock()

	if !result.Exists() {
		return nil, ErrNotFound
	}

	var snapshot contacts.Snapshot
	if err := json.Unmarshal([]byte(result.Raw), &snapshot); err != nil {
		return nil, fmt.Errorf("Failed to decode snapshot of %s: %w", account, err)
	}

	return &snapshot, nil
}

// Restore replaces the whole document, e.g. with one read from disk.
func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) > 0 && !gjson.ValidBytes(values) {
		return ErrInvalidDocument
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = values
	return nil
}

// Backup returns the whole document.
func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	out := make([]byte, len(i.values))
	copy(out, i.values)

	return out, nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`!`, `\!`,
	`=`, `\=`,
	`<`, `\<`,
	`>`, `\>`,
	`%`, `\%`,
)

// accountPath builds the gjson/sjson path of an account. Passports contain
// dots, which would otherwise be read as nested keys.
func accountPath(account string) string {
	return "accounts." + pathEscaper.Replace(strings.ToLower(account))
}

var _ Store = (*InmemoryStore)(nil)
