package twitch

import (
	"errors"
	"fmt"
	"strings"
)

// MaxBatch is the Helix limit for login/user_id query parameters per request.
const MaxBatch = 100

var (
	ErrUnauthorized  = errors.New("twitch: unauthorized")
	ErrEmptyToken    = errors.New("twitch: token response without access_token")
	ErrBatchTooLarge = errors.New("twitch: id batch exceeds provider limit")
)

// AuthError reports a failed token exchange, or a request still rejected after a fresh token.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("twitch auth failed (http %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("twitch auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transport failure or an unexpected upstream status.
// The watch engine treats it as transient.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("twitch %s (http %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("twitch %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError lists names the directory did not know.
type NotFoundError struct {
	Names []string
}

func (e *NotFoundError) Error() string {
	return "twitch: unknown broadcasters: " + strings.Join(e.Names, ", ")
}
