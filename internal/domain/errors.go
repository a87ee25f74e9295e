package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz id is unknown.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound indicates the attempt id is unknown.
	ErrAttemptNotFound = errors.New("quiz attempt not found")
	// ErrUserNotFound indicates the user id or email is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoActiveAttempt is returned when resuming without an open attempt.
	ErrNoActiveAttempt = errors.New("no active quiz attempt found")
	// ErrAttemptExpired is returned when the deadline has already passed on resume.
	ErrAttemptExpired = errors.New("quiz time has expired")
	// ErrAlreadySubmitted guards the Open -> Finalized transition; a finalized
	// attempt can never be scored again.
	ErrAlreadySubmitted = errors.New("quiz already submitted")
	// ErrForbidden is returned when an attempt does not belong to the caller.
	ErrForbidden = errors.New("attempt does not belong to user")
	// ErrEmailTaken is returned on duplicate registration.
	ErrEmailTaken = errors.New("email already registered")
	// ErrValidation covers malformed input rejected before it reaches storage.
	ErrValidation = errors.New("invalid input")
)
