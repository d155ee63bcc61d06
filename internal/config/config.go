// Package config holds the validated connection parameters a transport is
// built from. It is the ambient "configuration struct" the distilled core
// spec treats as an external collaborator (see SPEC_FULL.md §4.J) but which
// a single deliverable module must own to be constructible end to end.
package config

import (
	"time"

	jaerrors "github.com/koefmatt/jarust/internal/errors"
)

// ConnectionConfig describes how to reach a Janus instance and how large
// the internal bounded structures (response cache, transaction manager)
// should be.
type ConnectionConfig struct {
	// URL is the transport endpoint: a ws(s):// URL for the WebSocket
	// transport, or an http(s):// base URL for the REST transport.
	URL string

	// APISecret is injected into every outbound request under "apisecret"
	// when non-empty.
	APISecret string

	// ServerRoot is the path segment Janus is mounted under. Default
	// "janus".
	ServerRoot string

	// Capacity bounds the response cache and the transaction manager.
	// Default 32.
	Capacity int

	// KeepAliveInterval is filled with a default of 10s by Validate. Nothing
	// in this module reads it: Dial does not pass it to the transport, and
	// Connection.CreateSession uses only the interval its caller passes.
	KeepAliveInterval time.Duration

	// TransactionLength is the length, in characters, of transaction
	// tokens produced by the default random generator. Default 12.
	TransactionLength int
}

// Validate checks required fields and fills defaults in place, mirroring
// the fill-defaults-during-validate convention used throughout this
// codebase's configuration types.
func (c *ConnectionConfig) Validate() error {
	if c.URL == "" {
		return jaerrors.ErrMissingURL
	}

	if c.ServerRoot == "" {
		c.ServerRoot = "janus"
	}

	if c.Capacity == 0 {
		c.Capacity = 32
	}
	if c.Capacity < 0 {
		return jaerrors.ErrInvalidCapacity
	}

	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 10 * time.Second
	}

	if c.TransactionLength <= 0 {
		c.TransactionLength = 12
	}

	return nil
}
