package domain

import (
	"errors"
	"fmt"
)

// Code names a failure kind so clients can branch on semantics.
type Code string

const (
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeQuizNotFound          Code = "QUIZ_NOT_FOUND"
	CodeSessionNotJoinable    Code = "SESSION_NOT_JOINABLE"
	CodeOutsideScheduleWindow Code = "OUTSIDE_SCHEDULE_WINDOW"
	CodeCapacityExceeded      Code = "CAPACITY_EXCEEDED"
	CodeNameTaken             Code = "NAME_TAKEN"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeWrongState            Code = "WRONG_STATE"
	CodeNoParticipants        Code = "NO_PARTICIPANTS"
	CodeParticipantNotFound   Code = "PARTICIPANT_NOT_FOUND"
	CodeNotActiveParticipant  Code = "NOT_ACTIVE_PARTICIPANT"
	CodeWrongQuestion         Code = "WRONG_QUESTION"
	CodeQuestionClosed        Code = "QUESTION_CLOSED"
	CodeAlreadyAnswered       Code = "ALREADY_ANSWERED"
	CodeVersionConflict       Code = "VERSION_CONFLICT"
	CodeTransientConflict     Code = "TRANSIENT_CONFLICT"
	CodeSessionExists         Code = "SESSION_EXISTS"
	CodeInternal              Code = "INTERNAL"
)

// Category groups codes by how callers should react to them.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryConflict      Category = "conflict"
	CategoryAuthorization Category = "authorization"
	CategoryNotFound      Category = "not_found"
	CategoryTransient     Category = "transient"
	CategoryInternal      Category = "internal"
)

// Category reports the error family of a code.
func (c Code) Category() Category {
	switch c {
	case CodeInvalidInput:
		return CategoryValidation
	case CodeSessionNotJoinable, CodeOutsideScheduleWindow, CodeCapacityExceeded,
		CodeNameTaken, CodeWrongState, CodeNoParticipants, CodeParticipantNotFound,
		CodeNotActiveParticipant, CodeWrongQuestion, CodeQuestionClosed,
		CodeAlreadyAnswered, CodeSessionExists:
		return CategoryConflict
	case CodeUnauthorized:
		return CategoryAuthorization
	case CodeSessionNotFound, CodeQuizNotFound:
		return CategoryNotFound
	case CodeVersionConflict, CodeTransientConflict:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

// Error is a coded domain failure. Two errors match under errors.Is when
// their codes are equal, so detailed copies still match the sentinels.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy of e carrying details for the client.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Details: e.Details}
}

// Invalidf builds a validation error.
func Invalidf(format string, args ...any) *Error {
	return ErrInvalidInput.WithMessage(format, args...)
}

// CodeOf extracts the domain code from err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// AsError converts any error into a domain error suitable for clients.
// Non-domain errors are masked as internal failures.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal
}

var (
	// ErrInvalidInput is returned for malformed requests, before storage is touched.
	ErrInvalidInput = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	// ErrSessionNotFound is returned when a session code is unknown or already purged.
	ErrSessionNotFound = &Error{Code: CodeSessionNotFound, Message: "quiz session not found"}
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound       = &Error{Code: CodeQuizNotFound, Message: "quiz not found"}
	ErrSessionNotJoinable = &Error{Code: CodeSessionNotJoinable, Message: "session is not accepting participants"}
	// ErrOutsideScheduleWindow carries the window bounds in Details.
	ErrOutsideScheduleWindow = &Error{Code: CodeOutsideScheduleWindow, Message: "session is outside its scheduled window"}
	ErrCapacityExceeded      = &Error{Code: CodeCapacityExceeded, Message: "session is full"}
	ErrNameTaken             = &Error{Code: CodeNameTaken, Message: "name is already taken in this session"}
	// ErrUnauthorized means the requester is not the registered admin.
	ErrUnauthorized   = &Error{Code: CodeUnauthorized, Message: "requester is not the session admin"}
	ErrWrongState     = &Error{Code: CodeWrongState, Message: "operation not allowed in the current session state"}
	ErrNoParticipants = &Error{Code: CodeNoParticipants, Message: "session has no active participants"}
	// ErrParticipantNotFound is returned when a connection acts before joining.
	ErrParticipantNotFound  = &Error{Code: CodeParticipantNotFound, Message: "participant not found in session"}
	ErrNotActiveParticipant = &Error{Code: CodeNotActiveParticipant, Message: "participant is not active"}
	ErrWrongQuestion        = &Error{Code: CodeWrongQuestion, Message: "answer is for a question that is not current"}
	ErrQuestionClosed       = &Error{Code: CodeQuestionClosed, Message: "question is not accepting answers"}
	ErrAlreadyAnswered      = &Error{Code: CodeAlreadyAnswered, Message: "question already answered"}
	// ErrVersionConflict is returned by stores when a conditional write loses a race.
	ErrVersionConflict = &Error{Code: CodeVersionConflict, Message: "session was modified concurrently"}
	// ErrTransientConflict is surfaced once the engine has exhausted its retries.
	ErrTransientConflict = &Error{Code: CodeTransientConflict, Message: "session is busy, try again"}
	// ErrSessionExists is returned by stores when a code is already taken.
	ErrSessionExists = &Error{Code: CodeSessionExists, Message: "session code already exists"}
	ErrInternal      = &Error{Code: CodeInternal, Message: "internal error"}
)
