package defaults

import "time"

const (
	// ConnectTimeout bounds the websocket dial and handshake.
	ConnectTimeout = 10 * time.Second
	// JoinTimeout bounds waiting for the session-joined acknowledgement.
	JoinTimeout = 10 * time.Second
	// PongTimeout closes connections that stop answering pings.
	PongTimeout = 60 * time.Second
	// SessionIdleTTL is how long approval state outlives a session's last member.
	SessionIdleTTL = 10 * time.Minute
)
