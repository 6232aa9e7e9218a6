package srerrors

import "fmt"

// Stage identifies which step of a client operation failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageJoin     Stage = "join"
	StageKey      Stage = "key"
	StageSend     Stage = "send"
	StageReceive  Stage = "receive"
	StageDecrypt  Stage = "decrypt"
	StageClose    Stage = "close"
)

// Code is a stable, programmatic error identifier for user-facing operations.
type Code string

const (
	CodeTimeout            Code = "timeout"
	CodeCanceled           Code = "canceled"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidOption      Code = "invalid_option"
	CodeMissingURL         Code = "missing_url"
	CodeMissingOrigin      Code = "missing_origin"
	CodeMissingSeed        Code = "missing_seed"
	CodeMissingKey         Code = "missing_key"
	CodeDecryptFailed      Code = "decrypt_failed"
	CodeEncryptFailed      Code = "encrypt_failed"
	CodeDialFailed         Code = "dial_failed"
	CodeJoinFailed         Code = "join_failed"
	CodeNotConnected       Code = "not_connected"
	CodeNotJoined          Code = "not_joined"
	CodeSendFailed         Code = "send_failed"
	CodeInvalidMessage     Code = "invalid_message"
	CodeRateLimited        Code = "rate_limited"
	CodeRejected           Code = "rejected"
	CodeTooManySessions    Code = "too_many_sessions"
	CodeTooManyConnections Code = "too_many_connections"
	CodeWriteQueueFull     Code = "write_queue_full"
	CodeShutdown           Code = "shutdown"
)

// Error is a structured, programmatically identifiable error for user-facing operations.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(stage Stage, code Code, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}

// Status is the local, user-visible state of the encryption pipeline.
type Status string

const (
	StatusKeyReady          Status = "key-ready"
	StatusMissingSeed       Status = "missing-seed"
	StatusNoKey             Status = "no-key"
	StatusSentEncrypted     Status = "sent-encrypted"
	StatusDecryptOK         Status = "decrypt-ok"
	StatusDecryptFail       Status = "decrypt-fail"
	StatusDecryptMissingKey Status = "decrypt-missing-key"
)
