package client

import "errors"

var (
	ErrMissingURL     = errors.New("missing relay url")
	ErrMissingOrigin  = errors.New("missing origin")
	ErrInvalidJoin    = errors.New("invalid join parameters")
	ErrNotConnected   = errors.New("client is not connected")
	ErrNotJoined      = errors.New("client has not joined a session")
	ErrJoinSuperseded = errors.New("join superseded by a newer join")
)
