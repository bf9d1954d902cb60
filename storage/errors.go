package storage

import "errors"

var (
	ErrClosed          = errors.New("Store is closed")
	ErrInvalidDocument = errors.New("Store document is not valid JSON")
)
