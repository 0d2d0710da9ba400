package session

import "errors"

var (
	// ErrUsernameTaken is returned by SignUp when another identity
	// already uses the normalized username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrProfileMissing is returned when credentials are valid but the
	// identity has no profile document.
	ErrProfileMissing = errors.New("user profile not found")

	// ErrNotSignedIn is returned when an operation needs a signed-in
	// identity.
	ErrNotSignedIn = errors.New("not signed in")
)
