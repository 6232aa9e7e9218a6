package client

import (
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/srerrors"
)

type Error = srerrors.Error

type Stage = srerrors.Stage

const (
	StageValidate = srerrors.StageValidate
	StageConnect  = srerrors.StageConnect
	StageJoin     = srerrors.StageJoin
	StageKey      = srerrors.StageKey
	StageSend     = srerrors.StageSend
	StageReceive  = srerrors.StageReceive
	StageDecrypt  = srerrors.StageDecrypt
	StageClose    = srerrors.StageClose
)

type Code = srerrors.Code

const (
	CodeTimeout            = srerrors.CodeTimeout
	CodeCanceled           = srerrors.CodeCanceled
	CodeInvalidInput       = srerrors.CodeInvalidInput
	CodeInvalidOption      = srerrors.CodeInvalidOption
	CodeMissingURL         = srerrors.CodeMissingURL
	CodeMissingOrigin      = srerrors.CodeMissingOrigin
	CodeMissingSeed        = srerrors.CodeMissingSeed
	CodeMissingKey         = srerrors.CodeMissingKey
	CodeDecryptFailed      = srerrors.CodeDecryptFailed
	CodeEncryptFailed      = srerrors.CodeEncryptFailed
	CodeDialFailed         = srerrors.CodeDialFailed
	CodeJoinFailed         = srerrors.CodeJoinFailed
	CodeNotConnected       = srerrors.CodeNotConnected
	CodeNotJoined          = srerrors.CodeNotJoined
	CodeSendFailed         = srerrors.CodeSendFailed
	CodeInvalidMessage     = srerrors.CodeInvalidMessage
	CodeRateLimited        = srerrors.CodeRateLimited
	CodeRejected           = srerrors.CodeRejected
	CodeTooManySessions    = srerrors.CodeTooManySessions
	CodeTooManyConnections = srerrors.CodeTooManyConnections
	CodeWriteQueueFull     = srerrors.CodeWriteQueueFull
	CodeShutdown           = srerrors.CodeShutdown
)

type Status = srerrors.Status

const (
	StatusKeyReady          = srerrors.StatusKeyReady
	StatusMissingSeed       = srerrors.StatusMissingSeed
	StatusNoKey             = srerrors.StatusNoKey
	StatusSentEncrypted     = srerrors.StatusSentEncrypted
	StatusDecryptOK         = srerrors.StatusDecryptOK
	StatusDecryptFail       = srerrors.StatusDecryptFail
	StatusDecryptMissingKey = srerrors.StatusDecryptMissingKey
)

// JoinParams describes a session join.
type JoinParams struct {
	Session    string        // Session token.
	Role       protocol.Role // capture or viewer.
	DeviceName string        // Optional display name.
	Identity   string        // Stable peer identity of this device.
	Seed       string        // Optional key seed; may be applied later with ApplySeed.
}

// Photo is a received photo after local decryption.
//
// Data is nil unless Status is StatusDecryptOK.
type Photo struct {
	SenderUUID string
	MIME       string
	Data       []byte
	Status     Status
	Err        error
}

// Event is one inbound relay event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type   string
	Joined *protocol.SessionJoined
	Peer   *protocol.PeerInfo // peer-joined and peer-left.
	Status *protocol.PeerStatus
	Photo  *Photo
	Offer  *protocol.SessionOffer
}
