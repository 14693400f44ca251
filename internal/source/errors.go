package source

import "errors"

var (
	ErrHandshakeRejected = errors.New("relay rejected the source handshake")
	ErrNoPages           = errors.New("file contains no Ogg pages")
)
