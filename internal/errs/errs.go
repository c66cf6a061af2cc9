package errs

import (
	"errors"
	"fmt"
)

// Code - машиночитаемый код ошибки, который уходит клиенту
// в extensions GraphQL-ответа.
type Code string

const (
	CodeDatabase       Code = "ERR_DATABASE"
	CodeAuth           Code = "ERR_AUTH"
	CodeNotFound       Code = "ERR_NOTFOUND"
	CodeAlreadyExists  Code = "ERR_ALREADYEXISTS"
	CodeDepthViolation Code = "ERR_DEPTHVIOLATION"
	CodeDenied         Code = "ERR_DENIED"
	CodeInvalidInput   Code = "ERR_INVALIDINPUT"
	CodeInternal       Code = "ERR_INTERNAL"
)

// AppError - ошибка приложения с кодом. Доменные конфликты внутри
// транзакций возвращаются как *AppError и проходят через раннер
// транзакций без изменений, поэтому их можно распознать на границе
// через errors.As.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Extensions реализует контракт graphql-go: код попадает
// в поле extensions ошибки GraphQL-ответа.
func (e *AppError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.Code)}
}

// New создает ошибку с кодом.
func New(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает причину в ошибку с кодом.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf возвращает код ошибки или CodeInternal, если ошибка не наша.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is проверяет, что ошибка несет данный код.
func Is(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
