package codec

import (
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
)

type MessageType int

const (
	CallType   MessageType = 2
	ResultType MessageType = 3
	ErrorType  MessageType = 4
)

// Action names an OCPP operation. Only the values returned by Actions are
// modeled by the station; other names may still arrive from the central system.
type Action string

const (
	BootNotification   Action = provisioning.BootNotificationFeatureName
	StatusNotification Action = availability.StatusNotificationFeatureName
	Authorize          Action = authorization.AuthorizeFeatureName
	TransactionEvent   Action = transactions.TransactionEventFeatureName
)

func Actions() []Action {
	return []Action{BootNotification, StatusNotification, Authorize, TransactionEvent}
}

func (a Action) Supported() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// Envelope is one of Call, Result or CallError.
type Envelope interface {
	MessageType() MessageType
	ID() string
	isEnvelope()
}

type Call struct {
	UniqueID string
	Action   Action
	Payload  json.RawMessage
}

type Result struct {
	UniqueID string
	Payload  json.RawMessage
}

type CallError struct {
	UniqueID         string
	ErrorCode        string
	ErrorDescription string
	Details          json.RawMessage
}

var (
	_ Envelope = Call{}
	_ Envelope = Result{}
	_ Envelope = CallError{}
)

func (c Call) MessageType() MessageType { return CallType }
func (c Call) ID() string               { return c.UniqueID }
func (Call) isEnvelope()                {}

func (r Result) MessageType() MessageType { return ResultType }
func (r Result) ID() string               { return r.UniqueID }
func (Result) isEnvelope()                {}

func (e CallError) MessageType() MessageType { return ErrorType }
func (e CallError) ID() string               { return e.UniqueID }
func (CallError) isEnvelope()                {}

// NewCall marshals payload and wraps it into a Call envelope.
func NewCall(id string, action Action, payload interface{}) (Call, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Call{}, err
	}
	return Call{UniqueID: id, Action: action, Payload: raw}, nil
}

// Standard OCPP-J error codes used when answering central system calls.
const (
	NotImplemented     = "NotImplemented"
	NotSupported       = "NotSupported"
	InternalError      = "InternalError"
	FormationViolation = "FormationViolation"
)
