// Package idgen names bridge sessions. A session id tags every log line of
// one run and is part of the client name the broker sees, so two bridges
// behind the same gateway can be told apart.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// SessionPrefix is prepended to every session id.
const SessionPrefix = "mb-"

// Alphabet is lowercase so ids survive case-folding log pipelines.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters after the prefix.
const Length = 8

// SessionID returns a new random session id, e.g. "mb-k3v9q0xz".
func SessionID() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return SessionPrefix + id, nil
}

// ClientName builds the broker client name for a session. gatewayID may be
// empty before the radio has been asked.
func ClientName(sessionID, gatewayID string) string {
	if gatewayID == "" {
		return "meshbridge " + sessionID
	}
	return "meshbridge " + gatewayID + " " + sessionID
}
