package storage

import (
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/luma/msnp/contacts"
)

// dbSnapshot is the bbolt value of one account's buddy list.
type dbSnapshot contacts.Snapshot

func (s *dbSnapshot) Key() []byte {
	return []byte(strings.ToLower(s.Account))
}

func (s *dbSnapshot) MarshalBinary() (data []byte, err error) {
	type alias dbSnapshot
	return msgpack.Marshal((*alias)(s))
}

func (s *dbSnapshot) UnmarshalBinary(data []byte) error {
	type alias dbSnapshot
	return msgpack.Unmarshal(data, (*alias)(s))
}
