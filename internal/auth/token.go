// Package auth supplies bearer credentials to the REST client and the push
// channel handshake.
package auth

import (
	"os"
	"strings"
)

// TokenProvider returns the current bearer token, or "" when none is held.
// Callers proceed unauthenticated on "".
type TokenProvider interface {
	Token() string
}

// Static is a fixed token.
type Static string

func (s Static) Token() string {
	return strings.TrimSpace(string(s))
}

// FileStore reads the token from a file on every call, so a token rotated on
// disk is picked up by the next request or reconnect.
type FileStore struct {
	Path string
}

func (f FileStore) Token() string {
	if f.Path == "" {
		return ""
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
