package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies an API failure.
type ErrorCode string

const (
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeOutOfRadius  ErrorCode = "OUT_OF_RADIUS"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeServer       ErrorCode = "SERVER_ERROR"
	ErrCodeUnknown      ErrorCode = "UNKNOWN"
)

// Sentinels for errors.Is against *Error.
var (
	ErrUnauthorized = &Error{Code: ErrCodeUnauthorized}
	ErrOutOfRadius  = &Error{Code: ErrCodeOutOfRadius}
	ErrNotFound     = &Error{Code: ErrCodeNotFound}
)

// User-facing messages.
const (
	MessageOutOfRadius  = "Este usuário está fora do seu raio de proximidade (50m)"
	MessageNotFound     = "Usuário não encontrado"
	MessageUnauthorized = "Sessão expirada. Faça login novamente."
	MessageUnknown      = "Erro desconhecido"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    ErrorCode
	Message string
	Method  string
	Path    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Code)
}

// Is matches sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the request may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case status == http.StatusForbidden:
		return ErrCodeOutOfRadius
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusConflict:
		return ErrCodeConflict
	case status >= 500:
		return ErrCodeServer
	case status >= 400:
		return ErrCodeBadRequest
	default:
		return ErrCodeUnknown
	}
}

// errorBody is the server's error shape; message may be a string or a list.
type errorBody struct {
	Message json.RawMessage `json:"message"`
}

func parseErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Message) == 0 {
		return strings.TrimSpace(string(body))
	}
	var single string
	if err := json.Unmarshal(eb.Message, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(eb.Message, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return strings.TrimSpace(string(eb.Message))
}

// UserMessage returns the text to show for err. Proximity and lookup failures
// have fixed messages; other API errors use the server's message, falling back
// to fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if fallback == "" {
		fallback = MessageUnknown
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return fallback
	}
	switch apiErr.Code {
	case ErrCodeOutOfRadius:
		return MessageOutOfRadius
	case ErrCodeNotFound:
		return MessageNotFound
	case ErrCodeUnauthorized:
		return MessageUnauthorized
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
