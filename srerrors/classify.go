package srerrors

import (
	"context"
	"errors"

	"github.com/floegence/snaprelay/crypto/envelope"
	"github.com/gorilla/websocket"
)

// ClassifyConnectCode maps a dial error to a stable Code.
func ClassifyConnectCode(err error) Code {
	return classifyContextCode(err, CodeDialFailed)
}

// ClassifyJoinCode maps an error seen while waiting for the join ack.
func ClassifyJoinCode(err error) Code {
	if code, ok := ClassifyCloseCode(err); ok {
		return code
	}
	return classifyContextCode(err, CodeJoinFailed)
}

// ClassifySendCode maps a websocket write error to a stable Code.
func ClassifySendCode(err error) Code {
	if code, ok := ClassifyCloseCode(err); ok {
		return code
	}
	return classifyContextCode(err, CodeSendFailed)
}

// ClassifyEnvelopeCode maps an envelope error to a stable Code.
func ClassifyEnvelopeCode(err error) Code {
	switch {
	case errors.Is(err, envelope.ErrMissingKey):
		return CodeMissingKey
	case errors.Is(err, envelope.ErrMissingSeed):
		return CodeMissingSeed
	case errors.Is(err, envelope.ErrMissingSession), errors.Is(err, envelope.ErrMissingPayload):
		return CodeInvalidInput
	default:
		return CodeDecryptFailed
	}
}

// DecryptStatus returns the local status shown for a received envelope.
func DecryptStatus(err error) Status {
	switch {
	case err == nil:
		return StatusDecryptOK
	case errors.Is(err, envelope.ErrMissingKey):
		return StatusDecryptMissingKey
	default:
		return StatusDecryptFail
	}
}

func classifyContextCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return fallback
	}
}

// ClassifyCloseCode maps a relay websocket close error to a stable Code.
//
// The relay closes with a status plus a reason token ("rate_limited",
// "rejected", ...) when it drops a connection.
func ClassifyCloseCode(err error) (Code, bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return "", false
	}
	switch ce.Text {
	case "invalid_message":
		return CodeInvalidMessage, true
	case "rate_limited":
		return CodeRateLimited, true
	case "rejected":
		return CodeRejected, true
	case "too_many_sessions":
		return CodeTooManySessions, true
	case "too many connections", "too_many_connections":
		return CodeTooManyConnections, true
	case "write_queue_full":
		return CodeWriteQueueFull, true
	case "shutdown":
		return CodeShutdown, true
	default:
		return "", false
	}
}
