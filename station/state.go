package station

import (
	"charging_station/common"
)

type ChargingState string

const (
	Available   ChargingState = "Available"
	Charging    ChargingState = "Charging"
	Faulted     ChargingState = "Faulted"
	Unavailable ChargingState = "Unavailable"
)

// StationState is a snapshot of the charging station as seen by the console.
type StationState struct {
	ChargingState ChargingState `json:"chargingState"`
	// ActiveTransactionID is empty when no transaction is active.
	ActiveTransactionID string `json:"activeTransactionId,omitempty"`

	Registration      string `json:"registration,omitempty"`
	HeartbeatInterval int    `json:"heartbeatInterval,omitempty"`
	LastAuthorization string `json:"lastAuthorization,omitempty"`
}

// StateMachine holds the state of the single connector. Charging state and
// the active transaction only change on confirmed transaction events.
type StateMachine struct {
	state StationState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StationState{ChargingState: Available}}
}

func (m *StateMachine) Snapshot() StationState {
	return m.state
}

func (m *StateMachine) hasTransactionInProgress() bool {
	return m.state.ChargingState == Charging
}

// CanStart reports a policy violation when a transaction is already running.
func (m *StateMachine) CanStart() error {
	if m.hasTransactionInProgress() {
		return common.ErrPolicyViolation.New("transaction %s is already in progress", m.state.ActiveTransactionID)
	}
	return nil
}

// CanEnd reports a policy violation when no transaction is running.
func (m *StateMachine) CanEnd() error {
	if !m.hasTransactionInProgress() {
		return common.ErrPolicyViolation.New("no transaction in progress (station is %s)", m.state.ChargingState)
	}
	return nil
}

func (m *StateMachine) started(transactionID string) error {
	if err := m.CanStart(); err != nil {
		return err
	}

	if m.state.ActiveTransactionID != "" {
		return common.ErrPolicyViolation.New("transaction %s is still active", m.state.ActiveTransactionID)
	}

	m.state.ActiveTransactionID = transactionID
	m.state.ChargingState = Charging
	return nil
}

func (m *StateMachine) ended(transactionID string) error {
	if err := m.CanEnd(); err != nil {
		return err
	}

	if m.state.ActiveTransactionID != transactionID {
		return common.ErrPolicyViolation.New("transaction %s is not the active transaction %s", transactionID, m.state.ActiveTransactionID)
	}

	m.state.ActiveTransactionID = ""
	m.state.ChargingState = Available
	return nil
}

func (m *StateMachine) registered(status string, interval int) {
	m.state.Registration = status
	m.state.HeartbeatInterval = interval
}

func (m *StateMachine) authorized(status string) {
	m.state.LastAuthorization = status
}
