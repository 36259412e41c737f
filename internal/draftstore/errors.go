package draftstore

import (
	"errors"
	"fmt"
)

// ErrorClass separates failures worth retrying from rejections that will fail again.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassApplication
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassApplication:
		return "application"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// TransientError is a connectivity failure or a server-unavailable response.
// StatusCode is zero when no response was received at all.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote unavailable (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ApplicationError is a well-formed rejection from the draft store.
type ApplicationError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("draft store rejected request (http %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("draft store rejected request (http %d): %s", e.StatusCode, e.Message)
}

// Classify maps an error returned by a DraftStore to its handling class.
// Errors that carry no response are treated as transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return ClassApplication
	}
	return ClassTransient
}

func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// ResponseReceived reports whether the remote answered at all, even with an error.
func ResponseReceived(err error) bool {
	if err == nil {
		return true
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.StatusCode != 0
	}
	return false
}

