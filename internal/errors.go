package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION_ERROR"
	ErrorTypePermissionDenied  ErrorType = "PERMISSION_DENIED"
	ErrorTypeOperationBlocked  ErrorType = "OPERATION_BLOCKED"
	ErrorTypeRateLimitExceeded ErrorType = "RATE_LIMIT_EXCEEDED"
	ErrorTypeLockedAccount     ErrorType = "LOCKED_ACCOUNT"
	ErrorTypeSessionExpired    ErrorType = "SESSION_EXPIRED"
	ErrorTypeExecution         ErrorType = "INTERNAL_EXECUTION_ERROR"

	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidRole      ErrorCode = "INVALID_ROLE"
	ErrCodeInvalidRisk      ErrorCode = "INVALID_RISK"
	ErrCodeInvalidLevel     ErrorCode = "INVALID_LEVEL"
	ErrCodeInvalidRange     ErrorCode = "INVALID_RANGE"

	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeUserExists         ErrorCode = "USER_EXISTS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeAccountLocked      ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeIPBlacklisted      ErrorCode = "IP_BLACKLISTED"
	ErrCodeIPNotWhitelisted   ErrorCode = "IP_NOT_WHITELISTED"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"

	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired    ErrorCode = "SESSION_EXPIRED"
	ErrCodeSessionInactive   ErrorCode = "SESSION_INACTIVE"
	ErrCodeMissingPermission ErrorCode = "MISSING_PERMISSION"

	ErrCodeOperationBlacklisted ErrorCode = "OPERATION_BLACKLISTED"
	ErrCodeApprovalRequired     ErrorCode = "APPROVAL_REQUIRED"
	ErrCodeAutoBlocked          ErrorCode = "AUTO_BLOCKED"
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
	ErrCodeExecutionFailed      ErrorCode = "EXECUTION_FAILED"
	ErrCodeExecutionTimeout     ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeExecutionPanic       ErrorCode = "EXECUTION_PANIC"

	ErrCodeRuleNotFound  ErrorCode = "RULE_NOT_FOUND"
	ErrCodeEventNotFound ErrorCode = "EVENT_NOT_FOUND"
	ErrCodeEventReviewed ErrorCode = "EVENT_ALREADY_REVIEWED"
	ErrCodeSelfApproval  ErrorCode = "SELF_APPROVAL"

	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	ErrCodeSnapshotKeyTaken ErrorCode = "SNAPSHOT_KEY_TAKEN"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Type and Code so sentinel values work with errors.Is
// even though every call site builds its own message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func newError(t ErrorType, code ErrorCode, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Code:       code,
		Message:    message,
		StatusCode: status,
	}
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeValidation, code, http.StatusBadRequest, message)
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewPermissionDeniedError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypePermissionDenied, code, http.StatusForbidden, message)
}

func NewOperationBlockedError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeOperationBlocked, code, http.StatusForbidden, message)
}

func NewRateLimitError(message string) *AppError {
	return newError(ErrorTypeRateLimitExceeded, ErrCodeRateLimited, http.StatusTooManyRequests, message)
}

func NewLockedAccountError(message string) *AppError {
	return newError(ErrorTypeLockedAccount, ErrCodeAccountLocked, http.StatusLocked, message)
}

func NewSessionExpiredError(message string) *AppError {
	return newError(ErrorTypeSessionExpired, ErrCodeSessionExpired, http.StatusUnauthorized, message)
}

func NewExecutionError(message string, code ErrorCode, cause error) *AppError {
	e := newError(ErrorTypeExecution, code, http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeNotFound, code, http.StatusNotFound, message)
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeUnauthorized, code, http.StatusUnauthorized, message)
}

func NewInternalError(message string, cause error) *AppError {
	e := newError(ErrorTypeInternal, "INTERNAL_ERROR", http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeConflict, code, http.StatusConflict, message)
}

var (
	ErrUserNotFound       = NewNotFoundError("user not found", ErrCodeUserNotFound)
	ErrUserExists         = NewConflictError("user already exists", ErrCodeUserExists)
	ErrUserInactive       = NewPermissionDeniedError("user account is inactive", ErrCodeUserInactive)
	ErrInvalidCredentials = NewUnauthorizedError("invalid username or password", ErrCodeInvalidCredentials)
	ErrAccountLocked      = NewLockedAccountError("account is locked")

	ErrSessionNotFound = NewUnauthorizedError("session not found", ErrCodeSessionNotFound)
	ErrSessionExpired  = NewSessionExpiredError("session expired")
	ErrSessionInactive = NewUnauthorizedError("session is no longer active", ErrCodeSessionInactive)

	ErrRuleNotFound  = NewNotFoundError("security rule not found", ErrCodeRuleNotFound)
	ErrEventNotFound = NewNotFoundError("security event not found", ErrCodeEventNotFound)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports the ErrorType of err, or "" when err is not an AppError.
func KindOf(err error) ErrorType {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type
	}
	return ""
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
