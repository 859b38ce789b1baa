// Package apperr holds the sentinel errors shared by the store, the engine and the transports.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnknownTable = errors.New("unknown table")
)
