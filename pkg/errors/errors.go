package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error представляет доменную ошибку с видом (Code) и сообщением
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details string      `json:"-"`
	Data    interface{} `json:"-"`
	Cause   error       `json:"-"`
}

// ErrorCode вид доменной ошибки
type ErrorCode string

// Виды доменных ошибок
const (
	ErrAuthNotFound       ErrorCode = "AuthNotFound"
	ErrInvalidCredentials ErrorCode = "InvalidCredentials"
	ErrEmailAlreadyExists ErrorCode = "EmailAlreadyExists"
	ErrUserCreationFailed ErrorCode = "UserCreationFailed"
	ErrUserNotFound       ErrorCode = "UserNotFound"
	ErrNotFound           ErrorCode = "NotFound"
	ErrUnauthorized       ErrorCode = "Unauthorized"
	ErrInvalidToken       ErrorCode = "InvalidToken"
	ErrForbidden          ErrorCode = "Forbidden"
	ErrWeakPassword       ErrorCode = "WeakPassword"
	ErrDuplicateOperation ErrorCode = "DuplicateOperation"
	ErrIdempotencyKey     ErrorCode = "IdempotencyKeyRequired"
	ErrValidation         ErrorCode = "ValidationError"
	ErrTooManyRequests    ErrorCode = "TooManyRequests"
	ErrInternal           ErrorCode = "InternalError"
)

// statusTable единственная таблица перевода вида ошибки в HTTP статус
var statusTable = map[ErrorCode]int{
	ErrAuthNotFound:       http.StatusNotFound,
	ErrInvalidCredentials: http.StatusUnauthorized,
	ErrEmailAlreadyExists: http.StatusConflict,
	ErrUserCreationFailed: http.StatusConflict,
	ErrUserNotFound:       http.StatusNotFound,
	ErrNotFound:           http.StatusNotFound,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrInvalidToken:       http.StatusUnauthorized,
	ErrForbidden:          http.StatusForbidden,
	ErrWeakPassword:       http.StatusBadRequest,
	ErrDuplicateOperation: http.StatusConflict,
	ErrIdempotencyKey:     http.StatusConflict,
	ErrValidation:         http.StatusBadRequest,
	ErrTooManyRequests:    http.StatusTooManyRequests,
	ErrInternal:           http.StatusInternalServerError,
}

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по виду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую доменную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf создает доменную ошибку с форматированным сообщением
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap оборачивает существующую ошибку в доменную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails добавляет детали к ошибке. Детали пишутся только в лог
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// WithData прикладывает к ошибке полезную нагрузку для клиента
func (e *Error) WithData(data interface{}) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Data = data
	return &cp
}

// As извлекает доменную ошибку из цепочки
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf возвращает вид ошибки; для не доменных ошибок ErrInternal
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal
}

// IsCode проверяет вид ошибки в цепочке
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// HTTPStatus возвращает HTTP статус для вида ошибки.
// Неизвестные виды отдают 400.
func HTTPStatus(code ErrorCode) int {
	if status, ok := statusTable[code]; ok {
		return status
	}
	return http.StatusBadRequest
}

// HTTPStatus возвращает HTTP статус ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}
	return HTTPStatus(e.Code)
}
