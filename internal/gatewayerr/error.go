package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way §7 of the gateway's design does: by
// what went wrong, never by where. Kind drives both the HTTP status/code
// mapping (§6) and log severity, so every error that can reach a caller
// must carry one.
type Kind int

const (
	// KindInternal is the zero value so an un-annotated error still maps
	// to a safe 500 instead of silently leaking as a 200.
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
	KindPOP3
	KindEncryption
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthentication:
		return "AUTHENTICATION_ERROR"
	case KindAuthorization:
		return "AUTHORIZATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	case KindPOP3:
		return "POP3_ERROR"
	case KindEncryption:
		return "ENCRYPTION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the status code the table in §6 assigns to Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindPOP3:
		return http.StatusBadGateway
	case KindEncryption, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the gateway's error value: a Kind, a caller-safe message, an
// optional wrapped cause, and structured fields for logging. Cause is
// never shown to callers directly — see Mask.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	fields  map[string]interface{}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Fields() map[string]interface{} {
	return e.fields
}

// WithField returns a copy of e with an added logging field.
func (e *Error) WithField(key string, value interface{}) *Error {
	cp := *e
	cp.fields = make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		cp.fields[k] = v
	}
	cp.fields[key] = value
	return &cp
}

// As reports whether err (or anything it wraps) is a *Error, and returns
// it. It exists purely to save callers an import-cycle-free errors.As
// call site.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal otherwise — the conservative default for anything
// uncaught, per §7.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return KindInternal
}

// Validation, Authentication, Authorization, NotFound, Conflict,
// RateLimit, POP3 and Encryption are constructors for the common case of
// an error with no further logging fields.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Authentication(message string) *Error {
	return New(KindAuthentication, message)
}

func Authorization(message string) *Error {
	return New(KindAuthorization, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func RateLimit(message string) *Error {
	return New(KindRateLimit, message)
}

func POP3(message string, cause error) *Error {
	return Wrap(KindPOP3, message, cause)
}

func Encryption(message string, cause error) *Error {
	return Wrap(KindEncryption, message, cause)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}
