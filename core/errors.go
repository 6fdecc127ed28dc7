package core

import "errors"

var (
	// ErrNotFound is returned by stores and directories when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a uniqueness violation.
	ErrAlreadyExists = errors.New("already exists")
	// ErrValidation marks rejected input; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when the caller acts on behalf of another user.
	ErrForbidden = errors.New("caller does not match user")
	// ErrAttemptNotRecorded means the quiz attempt itself could not be persisted.
	ErrAttemptNotRecorded = errors.New("quiz attempt not recorded")
)
