package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// CodedError is the interface for all structured errors returned by the
// coordinator.
type CodedError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of CodedError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	actorID   string // caller that triggered the failure, if applicable
	taskID    string // related order or quote, if applicable
}

var (
	_ CodedError       = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// ActorID returns the caller that triggered the error, if set.
func (e *Error) ActorID() string {
	return e.actorID
}

// TaskID returns the related record ID, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		ActorID:   e.actorID,
		TaskID:    e.taskID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.actorID = j.ActorID
	e.taskID = j.TaskID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithActorID sets the caller that triggered the error.
func WithActorID(id string) Option {
	return func(e *Error) {
		e.actorID = id
	}
}

// WithTaskID sets the related record ID.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NotFound creates a not found error for the given record.
func NotFound(kind, id string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(id), WithMetadata("kind", kind)}, opts...)
	return New(ErrCodeNotFound, fmt.Sprintf("%s %s not found", kind, id), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string, opts ...Option) *Error {
	return New(ErrCodeUnauthorized, message, opts...)
}

// Unavailable wraps an infrastructure failure as a transient error.
func Unavailable(message string, cause error, opts ...Option) *Error {
	return New(ErrCodeUnavailable, message, append(opts, WithCause(cause))...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// ClaimConflict reports that another writer changed the task before the
// caller's claim committed.
func ClaimConflict(taskID, providerID string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID), WithActorID(providerID)}, opts...)
	return New(ErrCodeClaimConflict, fmt.Sprintf("task %s is not claimable", taskID), opts...)
}

// QuotaExceeded reports that the provider already holds limit claims.
func QuotaExceeded(providerID string, limit int, opts ...Option) *Error {
	opts = append([]Option{WithActorID(providerID), WithMetadata("limit", fmt.Sprint(limit))}, opts...)
	return New(ErrCodeQuotaExceeded, fmt.Sprintf("provider %s already holds %d claims", providerID, limit), opts...)
}

// NotOwner reports that the caller does not own the record.
func NotOwner(id, actorID string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(id), WithActorID(actorID)}, opts...)
	return New(ErrCodeNotOwner, fmt.Sprintf("%s does not own %s", actorID, id), opts...)
}

// InvalidTransition reports an action that is undefined for the current
// state and role.
func InvalidTransition(id, from, action, role string, opts ...Option) *Error {
	opts = append([]Option{
		WithTaskID(id),
		WithMetadata("from", from),
		WithMetadata("action", action),
		WithMetadata("role", role),
	}, opts...)
	return New(ErrCodeInvalidTransition, fmt.Sprintf("cannot %s %s as %s while %s", action, id, role, from), opts...)
}

// TerminalState reports a write attempted against a finished record.
func TerminalState(id, status string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(id), WithMetadata("status", status)}, opts...)
	return New(ErrCodeTerminalState, fmt.Sprintf("%s is already %s", id, status), opts...)
}
