package station

import (
	"encoding/json"
	"errors"
	"fmt"

	"charging_station/codec"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
)

// confirmationHandler applies the result of a pending call.
type confirmationHandler func(s *Station, call *PendingCall, payload json.RawMessage) error

// IncomingHandler answers a call initiated by the central system. The
// returned value becomes the result payload.
type IncomingHandler func(payload json.RawMessage) (interface{}, error)

type registry struct {
	confirmations map[codec.Action]confirmationHandler
	incoming      map[codec.Action]IncomingHandler
}

func newRegistry() *registry {
	return &registry{
		confirmations: map[codec.Action]confirmationHandler{
			codec.BootNotification:   onBootNotificationConfirmed,
			codec.StatusNotification: onStatusNotificationConfirmed,
			codec.Authorize:          onAuthorizeConfirmed,
			codec.TransactionEvent:   onTransactionEventConfirmed,
		},
		incoming: map[codec.Action]IncomingHandler{},
	}
}

func (r *registry) confirmation(action codec.Action) (confirmationHandler, bool) {
	handler, ok := r.confirmations[action]
	return handler, ok
}

func (r *registry) incomingHandler(action codec.Action) (IncomingHandler, bool) {
	handler, ok := r.incoming[action]
	return handler, ok
}

func (r *registry) register(action codec.Action, handler IncomingHandler) error {
	if !action.Supported() {
		return fmt.Errorf("action %s is not supported", action)
	}
	r.incoming[action] = handler
	return nil
}

func onBootNotificationConfirmed(s *Station, call *PendingCall, payload json.RawMessage) error {
	var conf provisioning.BootNotificationResponse

	if err := json.Unmarshal(payload, &conf); err != nil {
		return err
	}

	s.machine.registered(string(conf.Status), conf.Interval)

	s.logState("Boot Notification Confirmed")

	if conf.Status != provisioning.RegistrationStatusAccepted {
		s.log.WithField("status", conf.Status).Warn("station is not accepted by CSMS")
	}

	return nil
}

func onStatusNotificationConfirmed(s *Station, call *PendingCall, payload json.RawMessage) error {
	s.logf("Status Notification Confirmed")
	return nil
}

func onAuthorizeConfirmed(s *Station, call *PendingCall, payload json.RawMessage) error {
	var conf authorization.AuthorizeResponse

	if err := json.Unmarshal(payload, &conf); err != nil {
		return err
	}

	s.machine.authorized(string(conf.IdTokenInfo.Status))

	s.logState("Authorization Confirmed")
	return nil
}

func onTransactionEventConfirmed(s *Station, call *PendingCall, payload json.RawMessage) error {
	tx := call.transaction

	if tx == nil {
		return errors.New("transaction event without transaction context")
	}

	switch tx.EventType {
	case transactions.TransactionEventStarted:
		if err := s.machine.started(tx.ID); err != nil {
			return err
		}
	case transactions.TransactionEventEnded:
		if err := s.machine.ended(tx.ID); err != nil {
			return err
		}
	}

	s.logState("Transaction %s Confirmed", tx.EventType)
	return nil
}
