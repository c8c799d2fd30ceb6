package store

import "errors"

var (
	ErrStoreClosed = errors.New("store closed")
)
