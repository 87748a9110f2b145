package common

import "github.com/joomcode/errorx"

// Errors groups every failure the station core reports to the operator.
// None of them terminates the process.
var Errors = errorx.NewNamespace("ocpp")

var (
	// ErrConnection: invalid address, refused connection or failed handshake.
	ErrConnection = Errors.NewType("connection_error")
	// ErrNotConnected: an intent was issued while the transport is not open.
	ErrNotConnected = Errors.NewType("not_connected")
	// ErrDecode: an inbound frame is not a valid OCPP-J envelope.
	ErrDecode = Errors.NewType("decode_error")
	// ErrUnmatchedResult: a result or error frame names no pending call.
	ErrUnmatchedResult = Errors.NewType("unmatched_result")
	// ErrPolicyViolation: a station state guard rejected the intent.
	ErrPolicyViolation = Errors.NewType("policy_violation")
	// ErrCallTimeout: no confirmation arrived within the call timeout.
	ErrCallTimeout = Errors.NewType("call_timeout")
	// ErrCallCancelled: a pending call was discarded because its session ended.
	ErrCallCancelled = Errors.NewType("call_cancelled")
	// ErrCallRejected: the central system answered a call with an error frame.
	ErrCallRejected = Errors.NewType("call_rejected")
	// ErrInvalidIntent: intent arguments are malformed.
	ErrInvalidIntent = Errors.NewType("invalid_intent")
)

// ErrorCode maps an error to the dotted code used in console responses.
func ErrorCode(err error) string {
	switch {
	case errorx.IsOfType(err, ErrConnection):
		return "command.connection.failed"
	case errorx.IsOfType(err, ErrNotConnected):
		return "command.not.connected"
	case errorx.IsOfType(err, ErrPolicyViolation):
		return "command.policy.violation"
	case errorx.IsOfType(err, ErrCallTimeout):
		return "command.call.timeout"
	case errorx.IsOfType(err, ErrInvalidIntent):
		return "command.payload.not.valid"
	default:
		return "command.message.not.send"
	}
}
