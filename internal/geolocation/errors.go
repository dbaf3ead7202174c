package geolocation

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a location failure.
type Kind int

const (
	KindPositionUnavailable Kind = iota
	KindPermissionDenied
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimeout:
		return "timeout"
	default:
		return "position_unavailable"
	}
}

// User-facing messages, one per kind.
const (
	MessagePermissionDenied    = "Permissão de localização negada. Por favor, habilite nas configurações do navegador."
	MessagePositionUnavailable = "Localização indisponível. Verifique se o GPS está habilitado."
	MessageTimeout             = "Tempo esgotado ao obter localização."
	MessageGeneric             = "Erro ao obter localização"
	MessageUnsupported         = "Geolocalização não é suportada pelo seu navegador."
)

// ErrUnsupported is returned when no location provider is available.
var ErrUnsupported = errors.New("geolocation: unsupported")

// ErrAlreadyRunning is returned by Start on a running sampler.
var ErrAlreadyRunning = errors.New("geolocation: sampler already running")

// Sentinels for errors.Is matching against a classified *Error.
var (
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrPositionUnavailable = &Error{Kind: KindPositionUnavailable}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// Error is a classified provider failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("geolocation: %s", e.Kind)
	}
	return fmt.Sprintf("geolocation: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the fixed user-facing text for the error kind.
func (e *Error) Message() string {
	switch e.Kind {
	case KindPermissionDenied:
		return MessagePermissionDenied
	case KindTimeout:
		return MessageTimeout
	default:
		return MessagePositionUnavailable
	}
}

// Classify maps any provider error onto one of the three kinds.
// Deadline expiry is a timeout; anything unrecognized is "position unavailable".
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnsupported) {
		return err
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindPositionUnavailable, Err: err}
}

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	if errors.Is(err, ErrUnsupported) {
		return MessageUnsupported
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message()
	}
	return MessageGeneric
}
