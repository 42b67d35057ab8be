package store

import "errors"

// Invalid requests. Lookups of rows that do not exist are not errors: getters
// return nil and deletes return false.
var (
	// ErrInvalidFolderName is returned for an empty folder name
	ErrInvalidFolderName = errors.New("folder name cannot be empty")

	// ErrInvalidFolderType is returned for an unknown folder type
	ErrInvalidFolderType = errors.New("invalid folder type")

	// ErrInvalidParent is returned when a folder would become its own ancestor
	ErrInvalidParent = errors.New("invalid parent folder")

	// ErrDuplicateFolder is returned when the name, or a non-custom type, is taken
	ErrDuplicateFolder = errors.New("folder already exists")

	// ErrSystemFolder is returned when renaming or deleting a system folder
	ErrSystemFolder = errors.New("system folders cannot be renamed or deleted")

	// ErrFolderNotFound is returned when an operation references a missing folder
	ErrFolderNotFound = errors.New("folder not found")

	// ErrMessageNotFound is returned when an operation references a missing message
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidEmail is returned for a contact without an address
	ErrInvalidEmail = errors.New("email address cannot be empty")

	// ErrDuplicateContact is returned when the address is already in the address book
	ErrDuplicateContact = errors.New("contact already exists")

	// ErrInvalidTransition is returned for a queue status change the state machine forbids
	ErrInvalidTransition = errors.New("invalid queue status transition")

	// ErrUserNotFound is returned when no user can be resolved
	ErrUserNotFound = errors.New("user not found")
)
