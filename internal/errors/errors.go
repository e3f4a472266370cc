package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Resource
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeGroupNotFound   ErrorCode = "GROUP_NOT_FOUND"

	// Authorization (caller identity is established by the dispatcher;
	// these cover per-entity participation checks only)
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeMemberNotAllowed ErrorCode = "MEMBER_NOT_ALLOWED"

	// State machine
	ErrCodeSessionStateInvalid ErrorCode = "SESSION_STATE_INVALID"
	ErrCodeGroupStateInvalid   ErrorCode = "GROUP_STATE_INVALID"
	ErrCodeSessionExpired      ErrorCode = "SESSION_EXPIRED"

	// Concurrency. The only retryable codes: nothing was committed.
	ErrCodeLockContention   ErrorCode = "LOCK_CONTENTION"
	ErrCodeChainCASConflict ErrorCode = "CHAIN_CAS_CONFLICT"

	// Chain integrity failures indicate a bug or tampering. Never
	// repaired, never retried; operators alert on this code.
	ErrCodeChainIntegrity ErrorCode = "CHAIN_INTEGRITY"

	// Frames
	ErrCodeFrameTooLarge               ErrorCode = "FRAME_TOO_LARGE"
	ErrCodeInvalidEncoding             ErrorCode = "INVALID_ENCODING"
	ErrCodeFrameCiphertextHashMismatch ErrorCode = "FRAME_CIPHERTEXT_HASH_MISMATCH"
	ErrCodeFrameDigestMismatch         ErrorCode = "FRAME_DIGEST_MISMATCH"
	ErrCodeFrameReplayDetected         ErrorCode = "FRAME_REPLAY_DETECTED"
	ErrCodeFrameSequenceTooFar         ErrorCode = "FRAME_SEQUENCE_TOO_FAR"

	// Validation
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to the dispatcher
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func SessionNotFound(id string) *AppError {
	return New(ErrCodeSessionNotFound, "Session not found").WithDetails(map[string]string{"sessionId": id})
}

func GroupNotFound(id string) *AppError {
	return New(ErrCodeGroupNotFound, "Group not found").WithDetails(map[string]string{"groupId": id})
}

func PermissionDenied(message string) *AppError {
	return New(ErrCodePermissionDenied, message)
}

func MemberNotAllowed(message string) *AppError {
	return New(ErrCodeMemberNotAllowed, message)
}

func SessionStateInvalid(current, transition string) *AppError {
	return New(ErrCodeSessionStateInvalid,
		fmt.Sprintf("Invalid state transition: %s -> %s", current, transition))
}

func GroupStateInvalid(current, transition string) *AppError {
	return New(ErrCodeGroupStateInvalid,
		fmt.Sprintf("Invalid state transition: %s -> %s", current, transition))
}

func SessionExpired(id string) *AppError {
	return New(ErrCodeSessionExpired, "Session expired").WithDetails(map[string]string{"sessionId": id})
}

func LockContention(namespace, id string) *AppError {
	return New(ErrCodeLockContention, "Entity lock held by another transaction").
		WithDetails(map[string]string{"namespace": namespace, "id": id})
}

func ChainCASConflict() *AppError {
	return New(ErrCodeChainCASConflict, "Chain head moved: prev_digest mismatch")
}

func ChainIntegrity(message string) *AppError {
	return New(ErrCodeChainIntegrity, message)
}

func FrameTooLarge(size, max int) *AppError {
	return New(ErrCodeFrameTooLarge, "Frame ciphertext exceeds size limit").
		WithDetails(map[string]int{"size": size, "max": max})
}

func InvalidEncoding(field string) *AppError {
	return New(ErrCodeInvalidEncoding, fmt.Sprintf("Invalid encoding: %s", field))
}

func FrameCiphertextHashMismatch() *AppError {
	return New(ErrCodeFrameCiphertextHashMismatch, "Ciphertext hash does not match ciphertext")
}

func FrameDigestMismatch() *AppError {
	return New(ErrCodeFrameDigestMismatch, "Frame digest does not match canonical preimage")
}

func FrameReplayDetected() *AppError {
	return New(ErrCodeFrameReplayDetected, "Frame already stored for (session, sender, seq)")
}

func FrameSequenceTooFar(seq, lastSeq int64) *AppError {
	return New(ErrCodeFrameSequenceTooFar, "Sender sequence jumps too far ahead").
		WithDetails(map[string]int64{"senderSeq": seq, "lastSeq": lastSeq})
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsRetryable reports whether the caller may safely retry the operation.
// Only lock contention and chain CAS conflicts qualify: in both cases the
// transaction rolled back before any write happened.
func IsRetryable(err error) bool {
	code := GetCode(err)
	return code == ErrCodeLockContention || code == ErrCodeChainCASConflict
}
