package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E builds an AppError with an explicit HTTP status code.
func E(op string, err error, message string, code int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func InvalidInput(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusBadRequest)
}

func TooLarge(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusRequestEntityTooLarge)
}

func NotFound(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusNotFound)
}

func Conflict(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusConflict)
}

func Internal(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusInternalServerError)
}

func Upstream(op string, err error, message string) *AppError {
	return E(op, err, message, http.StatusBadGateway)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the HTTP status carried by err, or 500 for foreign errors.
func Code(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	return Code(err) == http.StatusNotFound
}

// IsValidation reports whether err was raised by a pre-flight check.
func IsValidation(err error) bool {
	code := Code(err)
	return code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge
}
