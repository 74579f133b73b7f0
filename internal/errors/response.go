package errors

import (
	"net/http"
	"strings"
)

// Closed set of error codes surfaced by the Carewire gateway.
// Every failure shown to a client or written to a log carries one of these.
const (
	CodeAuthMissingToken            = "AUTH_MISSING_TOKEN"
	CodeAuthInvalidToken            = "AUTH_INVALID_TOKEN"
	CodeAuthExpired                 = "AUTH_EXPIRED"
	CodeAuthInsufficientPermissions = "AUTH_INSUFFICIENT_PERMISSIONS"
	CodeRoomAccessDenied            = "ROOM_ACCESS_DENIED"
	CodeRoomNotFound                = "ROOM_NOT_FOUND"
	CodeRoomJoinFailed              = "ROOM_JOIN_FAILED"
	CodeRateLimitConnections        = "RATE_LIMIT_CONNECTIONS"
	CodeRateLimitEvents             = "RATE_LIMIT_EVENTS"
	CodeConnectionError             = "CONNECTION_ERROR"
	CodeConnectionTimeout           = "CONNECTION_TIMEOUT"
	CodeConnectionClosed            = "CONNECTION_CLOSED"
	CodeEventValidationFailed       = "EVENT_VALIDATION_FAILED"
	CodeEventHandlerError           = "EVENT_HANDLER_ERROR"
	CodeEventTimeout                = "EVENT_TIMEOUT"
	CodeServerError                 = "SERVER_ERROR"
	CodeInternalError               = "INTERNAL_ERROR"
)

// Standard for Error responses to the client.
type ErrorResponse struct {
	Status  int         `json:"status,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error is required by the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// Get the StatusCode of the error.
func (e ErrorResponse) StatusCode() int {
	return e.Status
}

// Redacted returns a client-safe copy of the error.
// Details stay attached only when Carewire runs in a development environment.
func (e ErrorResponse) Redacted(dev bool) ErrorResponse {
	if dev {
		return e
	}
	e.Details = nil
	return e
}

// Replicates the New method of default errors package.
func New(err string) error {
	return ErrorResponse{
		Code:    CodeInternalError,
		Message: err,
	}
}

// Normalize converts any failure into an ErrorResponse.
// Unclassified failures become INTERNAL_ERROR carrying the original message.
func Normalize(err error) ErrorResponse {
	if gwerr, ok := err.(ErrorResponse); ok {
		if gwerr.Code == "" {
			gwerr.Code = CodeInternalError
		}
		return gwerr
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: "We encountered an error while processing your request.",
		Details: map[string]interface{}{"cause": err.Error()},
	}
}

// MissingToken creates a new error response for a handshake missing its subject identifier.
func MissingToken(msg string) ErrorResponse {
	if msg == "" {
		msg = "Connection handshake is missing a subject identifier."
	}
	return ErrorResponse{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthMissingToken,
		Message: msg,
	}
}

// InvalidToken creates a new error response for a malformed or badly signed token.
func InvalidToken(msg string) ErrorResponse {
	if msg == "" {
		msg = "The provided authentication token is invalid."
	}
	return ErrorResponse{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthInvalidToken,
		Message: msg,
	}
}

// ExpiredToken creates a new error response for an expired token.
func ExpiredToken(msg string) ErrorResponse {
	if msg == "" {
		msg = "The provided authentication token has expired."
	}
	return ErrorResponse{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthExpired,
		Message: msg,
	}
}

// InsufficientPermissions creates a new error response representing an authorization failure.
func InsufficientPermissions(msg string) ErrorResponse {
	if msg == "" {
		msg = "You are not authorized to perform the requested action."
	}
	return ErrorResponse{
		Status:  http.StatusForbidden,
		Code:    CodeAuthInsufficientPermissions,
		Message: msg,
	}
}

// RoomAccessDenied creates a new error response for room operations without a resolved identity.
func RoomAccessDenied(msg string) ErrorResponse {
	if msg == "" {
		msg = "You are not allowed to access this room."
	}
	return ErrorResponse{
		Status:  http.StatusForbidden,
		Code:    CodeRoomAccessDenied,
		Message: msg,
	}
}

// RoomNotFound creates a new error response for operations on an unknown room.
func RoomNotFound(msg string) ErrorResponse {
	if msg == "" {
		msg = "The requested room was not found."
	}
	return ErrorResponse{
		Status:  http.StatusNotFound,
		Code:    CodeRoomNotFound,
		Message: msg,
	}
}

// RoomJoinFailed creates a new error response for a failed room join.
func RoomJoinFailed(msg string) ErrorResponse {
	if msg == "" {
		msg = "Couldn't join the requested room."
	}
	return ErrorResponse{
		Status:  http.StatusBadRequest,
		Code:    CodeRoomJoinFailed,
		Message: msg,
	}
}

// RateLimitConnections creates a new error response for too many concurrent connections from one address.
func RateLimitConnections(msg string) ErrorResponse {
	if msg == "" {
		msg = "Too many concurrent connections from this address."
	}
	return ErrorResponse{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimitConnections,
		Message: msg,
	}
}

// RateLimitEvents creates a new error response for too many events inside the rolling window.
func RateLimitEvents(msg string) ErrorResponse {
	if msg == "" {
		msg = "Event rate limit exceeded, the connection will be closed."
	}
	return ErrorResponse{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimitEvents,
		Message: msg,
	}
}

// ConnectionError creates a new error response representing a connection level failure.
func ConnectionError(msg string, details interface{}) ErrorResponse {
	if msg == "" {
		msg = "A connection error occured."
	}
	return ErrorResponse{
		Status:  http.StatusBadRequest,
		Code:    CodeConnectionError,
		Message: msg,
		Details: details,
	}
}

// ConnectionTimeout creates a new error response for a timed out connection.
func ConnectionTimeout(msg string) ErrorResponse {
	if msg == "" {
		msg = "The connection timed out."
	}
	return ErrorResponse{
		Status:  http.StatusRequestTimeout,
		Code:    CodeConnectionTimeout,
		Message: msg,
	}
}

// ConnectionClosed creates a new disconnect notice carrying the transport provided reason.
// This is a notice, not a failure, but shares the taxonomy so nothing untyped leaves the gateway.
func ConnectionClosed(reason string) ErrorResponse {
	if reason == "" {
		reason = "The connection was closed."
	}
	return ErrorResponse{
		Code:    CodeConnectionClosed,
		Message: reason,
	}
}

// EventValidationFailed creates a new error response for malformed inbound events.
func EventValidationFailed(msg string, details interface{}) ErrorResponse {
	if msg == "" {
		msg = "The received event is malformed."
	}
	return ErrorResponse{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeEventValidationFailed,
		Message: msg,
		Details: details,
	}
}

// EventHandlerError creates a new error response for a failure inside an event handler.
func EventHandlerError(msg string) ErrorResponse {
	if msg == "" {
		msg = "The event handler failed to process this event."
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeEventHandlerError,
		Message: msg,
	}
}

// EventTimeout creates a new error response for an event which exceeded its handling deadline.
func EventTimeout(event string) ErrorResponse {
	return ErrorResponse{
		Status:  http.StatusRequestTimeout,
		Code:    CodeEventTimeout,
		Message: "Processing of this event exceeded the handling deadline.",
		Details: map[string]interface{}{"event": event},
	}
}

// ServerError creates a new error response representing a known server side failure.
func ServerError(msg string) ErrorResponse {
	if msg == "" {
		msg = "The server couldn't complete the requested action."
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeServerError,
		Message: msg,
	}
}

// InternalServerError creates a new error response representing an internal server error (HTTP 500)
func InternalServerError(msg string) ErrorResponse {
	if msg == "" {
		msg = "We encountered an error while processing your request."
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: msg,
	}
}

// Standard for Validation-error responses to the client.
type validationError struct {
	Param   string `json:"param"`   // Parameter or Field
	Message string `json:"message"` // Issue in Field
}

// Captures multiple validation issues and sends it as a response in one go.
type ValidationErrorResponse struct {
	Response []validationError `json:"errors"`
}

// Scans through set of validation errors found by govalidator,
// Generates a slice of serializable validationErrorResponse.
func GenerateValidationErrorResponse(errs []error) ErrorResponse {
	// govalidator returns array of errors in -> Param:Message format
	// We split the error from ":"
	resp := []validationError{}
	for _, err := range errs {
		e := strings.SplitN(err.Error(), ":", 2)
		if len(e) != 2 {
			resp = append(resp, validationError{Param: "body", Message: strings.TrimSpace(err.Error())})
			continue
		}
		resp = append(
			resp, validationError{
				Param:   e[0],
				Message: strings.TrimSpace(e[1]),
			},
		)
	}
	return ErrorResponse{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeEventValidationFailed,
		Message: "Data validation error",
		Details: ValidationErrorResponse{Response: resp},
	}
}
