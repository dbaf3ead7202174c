package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel is returned for a name outside the four namespaces.
	ErrUnknownChannel = errors.New("realtime: unknown channel")
	// ErrNotConnected is returned by Emit while the socket is down.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrClosed is returned once a connection was closed for good.
	ErrClosed = errors.New("realtime: connection closed")
	// ErrNoCredential is returned by Connect without an access token.
	ErrNoCredential = errors.New("realtime: no access token")
	// ErrSendBufferFull is returned when the writer cannot keep up.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
)

// RejectedError reports that the server refused the handshake credential.
// It ends the connection without reconnecting.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("realtime: handshake rejected: %s: %s", e.Code, e.Message)
}
