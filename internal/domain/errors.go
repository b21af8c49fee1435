package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when a room id or code no longer resolves (missing or expired).
	ErrRoomNotFound = errors.New("room not found")
	// ErrPlayerNotFound is returned when no roster entry matches the caller.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrQuestionNotFound indicates a question id is unknown to the bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRoomNotAcceptingPlayers is returned when a new player joins a room that left the waiting status.
	ErrRoomNotAcceptingPlayers = errors.New("room is no longer accepting players")
	// ErrRoomFull is returned when the roster already holds maxPlayers entries.
	ErrRoomFull = errors.New("room is full")
	// ErrDuplicatePlayer is returned by repositories when (roomId, deviceId) already exists.
	ErrDuplicatePlayer = errors.New("player already in room")
)

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrQuestionNotFound)
}

// CreationError means a room could not be allocated.
type CreationError struct {
	Grade  int
	Term   int
	Found  int
	Need   int
	Reason string
}

func (e *CreationError) Error() string {
	if e.Reason != "" {
		return "create room: " + e.Reason
	}
	termLabel := "All Terms"
	if e.Term > 0 {
		termLabel = fmt.Sprintf("Term %d", e.Term)
	}
	return fmt.Sprintf("not enough questions available for Grade %d, %s: found %d, need %d",
		e.Grade, termLabel, e.Found, e.Need)
}

// ValidationError is a local, re-enterable input error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CollaboratorError wraps a failed call to the room repository or question bank.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Collaborator wraps err as a CollaboratorError unless it is nil or already a domain outcome.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) || IsNotFound(err) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}
