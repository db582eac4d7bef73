package repository

import "errors"

var (
	// ErrNotFound means the query matched no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict means a uniqueness or single-pending rule rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrStateChanged means a conditional update found the row in a different state.
	ErrStateChanged = errors.New("repository: state changed")
	// ErrInsufficientFunds means a guarded debit would make a balance negative.
	ErrInsufficientFunds = errors.New("repository: insufficient funds")
)
