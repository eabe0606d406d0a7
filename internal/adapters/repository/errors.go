package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound      = errors.New("document not found")
	ErrPartialWrite  = errors.New("partial write: earlier chunks already committed")
	ErrBackendClosed = errors.New("backend closed")
	ErrDecode        = errors.New("decode document")
	ErrTooManyWrites = errors.New("transaction exceeds backend mutation limit")
)
