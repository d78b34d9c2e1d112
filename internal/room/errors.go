package room

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the referenced room does not exist.
var ErrNotFound = errors.New("room: not found")

// ErrNotMember is returned when an account that is neither the owner nor a
// participant attempts a membership mutation.
var ErrNotMember = errors.New("room: account is not a member of this room")

// Conflict kinds, used by clients to branch on the business rule that failed.
const (
	ConflictDuplicateOpenRoom  = "conflict room post"
	ConflictRoomEnded          = "conflict room ended"
	ConflictAlreadyParticipant = "conflict already participant"
	ConflictOtherRoom          = "conflict participating elsewhere"
	ConflictRoomFull           = "conflict room full"
	ConflictOwnerJoin          = "conflict owner join"
	ConflictInappropriateName  = "conflict inappropriate room name"
)

// ConflictError is a business-rule violation. Title and Message are
// human-readable and intended for direct display in the client UI.
type ConflictError struct {
	Kind    string
	Title   string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room: conflict (%s): %s", e.Kind, e.Title)
}

// IsConflict reports whether err is a ConflictError and returns it if so.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func conflictDuplicateOpenRoom() *ConflictError {
	return &ConflictError{
		Kind:    ConflictDuplicateOpenRoom,
		Title:   "Could not create the room",
		Message: "You can only have one room at a time. Delete your existing room to create a new one.",
	}
}

func conflictRoomEnded() *ConflictError {
	return &ConflictError{
		Kind:  ConflictRoomEnded,
		Title: "This room has already ended",
	}
}

func conflictAlreadyParticipant() *ConflictError {
	return &ConflictError{
		Kind:    ConflictAlreadyParticipant,
		Title:   "You have already joined this room",
		Message: "Open it from your talk list to continue the conversation.",
	}
}

func conflictOtherRoom() *ConflictError {
	return &ConflictError{
		Kind:    ConflictOtherRoom,
		Title:   "Please leave the room you are in first",
		Message: "You can only participate in one room at a time.",
	}
}

func conflictRoomFull(max int) *ConflictError {
	return &ConflictError{
		Kind:  ConflictRoomFull,
		Title: fmt.Sprintf("This room has already reached its limit of %d participants", max),
	}
}

func conflictOwnerJoin() *ConflictError {
	return &ConflictError{
		Kind:  ConflictOwnerJoin,
		Title: "You cannot join your own room",
	}
}

func conflictInappropriateName(word string) *ConflictError {
	return &ConflictError{
		Kind:    ConflictInappropriateName,
		Title:   "This room name is not allowed",
		Message: fmt.Sprintf("The name contains a prohibited term (%q). Please choose another.", word),
	}
}
