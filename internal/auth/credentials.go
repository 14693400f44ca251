// Package auth validates the identity a source presents when it opens an
// ingest session. It is the only trust boundary in the tower.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
)

// Handshake header names sent by a source.
const (
	HeaderUsername = "username"
	HeaderPassword = "password"
	HeaderPort     = "port"
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidPort        = errors.New("auth: missing or invalid port")
	// ErrRejected deliberately does not say which field was wrong.
	ErrRejected = errors.New("auth: credentials rejected")
)

// Credentials are the values a source must present. Port is the announce port
// listeners are served on.
type Credentials struct {
	Username string
	Password string
	Port     uint16
}

// Handshake is the identity claimed by a connecting source.
type Handshake struct {
	Username string
	Password string
	Port     uint16
}

// ParseHandshake extracts a Handshake from request headers.
func ParseHandshake(h http.Header) (Handshake, error) {
	username := h.Get(HeaderUsername)
	password := h.Get(HeaderPassword)
	if username == "" || password == "" {
		return Handshake{}, ErrMissingCredentials
	}

	raw := h.Get(HeaderPort)
	if raw == "" {
		return Handshake{}, ErrInvalidPort
	}
	port, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return Handshake{}, ErrInvalidPort
	}

	return Handshake{Username: username, Password: password, Port: uint16(port)}, nil
}

// Verify checks every field of hs against c. All three must match exactly.
func (c Credentials) Verify(hs Handshake) error {
	userOK := subtle.ConstantTimeCompare([]byte(hs.Username), []byte(c.Username))
	passOK := subtle.ConstantTimeCompare([]byte(hs.Password), []byte(c.Password))
	portOK := subtle.ConstantTimeEq(int32(hs.Port), int32(c.Port))
	if userOK&passOK&portOK != 1 {
		return ErrRejected
	}
	return nil
}

// Authenticate parses and verifies the handshake carried by h.
func (c Credentials) Authenticate(h http.Header) error {
	hs, err := ParseHandshake(h)
	if err != nil {
		return err
	}
	return c.Verify(hs)
}

// StatusCode maps an authentication error to the HTTP status returned to the
// source.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidPort):
		return http.StatusBadRequest
	default:
		return http.StatusForbidden
	}
}

// SetHeaders writes the handshake for c onto h, for use by a source client.
func (c Credentials) SetHeaders(h http.Header) {
	h.Set(HeaderUsername, c.Username)
	h.Set(HeaderPassword, c.Password)
	h.Set(HeaderPort, strconv.FormatUint(uint64(c.Port), 10))
}
