package server

import "errors"

var (
	// ErrServerClosed is returned by Listen after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	// ErrNotListening is returned by Serve before Listen.
	ErrNotListening = errors.New("server: not listening")

	// ErrAlreadyListening is returned by a second Listen.
	ErrAlreadyListening = errors.New("server: already listening")

	// ErrNotWebSocket is returned by Push for a subscriber whose connection
	// was not opened by this server.
	ErrNotWebSocket = errors.New("server: subscriber is not a websocket connection")

	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")
)
