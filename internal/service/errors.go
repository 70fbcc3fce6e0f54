package service

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStorageDisabled is returned when an operation needs object storage
	// and none is configured.
	ErrStorageDisabled = errors.New("object storage is not configured")
)

// ValidationError carries one human readable message per failed constraint.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, ", ")
}

// DeleteError reports a delete the store refused. Messages may be empty.
type DeleteError struct {
	Messages []string
}

func (e *DeleteError) Error() string {
	if len(e.Messages) == 0 {
		return "delete failed"
	}
	return "delete failed: " + strings.Join(e.Messages, ", ")
}

func invalid(messages ...string) error {
	return &ValidationError{Messages: messages}
}
