package codec

import (
	"encoding/json"
	"fmt"

	"charging_station/common"
)

var emptyObject = json.RawMessage("{}")

// Encode converts an envelope to its OCPP-J wire form.
func Encode(env Envelope) ([]byte, error) {
	var frame []interface{}

	switch e := env.(type) {
	case Call:
		frame = []interface{}{CallType, e.UniqueID, e.Action, orEmpty(e.Payload)}
	case Result:
		frame = []interface{}{ResultType, e.UniqueID, orEmpty(e.Payload)}
	case CallError:
		frame = []interface{}{ErrorType, e.UniqueID, e.ErrorCode, e.ErrorDescription, orEmpty(e.Details)}
	default:
		return nil, fmt.Errorf("unknown envelope: %v", env)
	}

	return json.Marshal(frame)
}

// Decode parses a frame and classifies it by its message type id.
// Payloads are kept raw; their shape is checked by the handler of each action.
func Decode(raw []byte) (Envelope, error) {
	var frame []json.RawMessage

	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, common.ErrDecode.Wrap(err, "frame is not a JSON array")
	}

	if len(frame) < 3 {
		return nil, common.ErrDecode.New("frame has %d elements, at least 3 expected", len(frame))
	}

	var code int
	if err := json.Unmarshal(frame[0], &code); err != nil {
		return nil, common.ErrDecode.New("unknown message type id: %s", frame[0])
	}

	var id string
	if err := json.Unmarshal(frame[1], &id); err != nil {
		return nil, common.ErrDecode.New("message id is not a string: %s", frame[1])
	}

	switch MessageType(code) {
	case CallType:
		if len(frame) < 4 {
			return nil, common.ErrDecode.New("call frame %s has no payload", id)
		}

		var action string
		if err := json.Unmarshal(frame[2], &action); err != nil {
			return nil, common.ErrDecode.New("call frame %s has no action name", id)
		}

		return Call{UniqueID: id, Action: Action(action), Payload: frame[3]}, nil
	case ResultType:
		return Result{UniqueID: id, Payload: frame[2]}, nil
	case ErrorType:
		callErr := CallError{UniqueID: id}

		if err := json.Unmarshal(frame[2], &callErr.ErrorCode); err != nil {
			return nil, common.ErrDecode.New("error frame %s has no error code", id)
		}

		if len(frame) > 3 {
			// A malformed description does not hide the error code
			_ = json.Unmarshal(frame[3], &callErr.ErrorDescription)
		}

		if len(frame) > 4 {
			callErr.Details = frame[4]
		}

		return callErr, nil
	default:
		return nil, common.ErrDecode.New("unknown message type id: %d", code)
	}
}

func orEmpty(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 || string(payload) == "null" {
		return emptyObject
	}
	return payload
}
