package sync

import "errors"

// Errors returned by synchronizer operations. Validation errors are
// returned before any state changes.
var (
	// ErrNotSignedIn is returned when a Scope is built without an identity.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrTaskNotFound is returned when an operation targets a task that
	// is not in the mirror.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyComment is returned for comments that are blank after trimming.
	ErrEmptyComment = errors.New("comment text is empty")

	// ErrEmptyUsername is returned when an invite names no one.
	ErrEmptyUsername = errors.New("username is empty")

	// ErrUserNotFound is returned when no identity has the username.
	ErrUserNotFound = errors.New("user not found")

	// ErrSelfInvite is returned when an identity invites itself.
	ErrSelfInvite = errors.New("cannot invite yourself")

	// ErrInviteNotFound is returned when an invite does not exist or is
	// not addressed to the acting identity.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrInviteResolved is returned when accepting a rejected invite or
	// rejecting an accepted one.
	ErrInviteResolved = errors.New("invite already resolved")

	// ErrMembershipNotRecorded is returned by Accept when the invite was
	// marked accepted but the membership record could not be written.
	ErrMembershipNotRecorded = errors.New("invite accepted but membership not recorded")

	// ErrClosed is returned by operations on a closed synchronizer.
	ErrClosed = errors.New("synchronizer is closed")
)
