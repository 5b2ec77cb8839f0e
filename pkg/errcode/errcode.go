package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Field string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("errcode: %d, field: %s, msg: %s", e.Code, e.Field, e.Msg)
	}
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code:  e.Code,
		Msg:   fmt.Sprintf("%s: %v", e.Msg, err),
		Field: e.Field,
	}
}

// WithField returns a copy of the error scoped to the offending input field.
func (e *Error) WithField(field string) *Error {
	return &Error{Code: e.Code, Msg: e.Msg, Field: field}
}

// WithMsg returns a copy of the error with a more specific message.
func (e *Error) WithMsg(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Msg: fmt.Sprintf(format, args...), Field: e.Field}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrForbidden      = New(1004, "forbidden")
	ErrNotFound       = New(1005, "not found")
	ErrNoPermission   = New(1007, "no permission to access this resource")

	// Validation errors (2xxx)
	ErrMissingField         = New(2001, "required field missing")
	ErrBodyTooLong          = New(2002, "message body exceeds maximum length")
	ErrSubjectTooLong       = New(2003, "subject exceeds maximum length")
	ErrGroupSizeExceeded    = New(2004, "too many participants for a group conversation")
	ErrEmptyRecipients      = New(2005, "at least one recipient is required")
	ErrInvalidRecipient     = New(2006, "invalid recipient")
	ErrRestrictedRecipient  = New(2007, "recipient requires send_messages_all permission")
	ErrInvalidEvent         = New(2008, "unknown update event")
	ErrBatchLimitExceeded   = New(2009, "conversation batch size limit exceeded")
	ErrContextNotAuthorized = New(2010, "cannot create conversations in this context")

	// Conversation errors (3xxx)
	ErrConversationNotFound = New(3001, "conversation not found")
	ErrNotParticipating     = New(3002, "the user is not participating in this conversation")
	ErrMessageNotFound      = New(3003, "message not found")
	ErrParticipantNotFound  = New(3004, "conversation participant not found")

	// Async errors (4xxx)
	ErrProgressNotFound = New(4001, "progress not found")
	ErrQueueFull        = New(4002, "background queue is full")
	ErrBatchNotFound    = New(4003, "conversation batch not found")
)
