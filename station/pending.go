package station

import (
	"sort"
	"time"

	"charging_station/codec"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
)

// PendingCall is a call awaiting its result or error frame.
type PendingCall struct {
	MessageID string       `json:"messageId"`
	Action    codec.Action `json:"action"`
	SentAt    time.Time    `json:"sentAt"`

	transaction *transactionContext
}

// transactionContext is what a TransactionEvent call needs to apply its
// confirmation to the state machine.
type transactionContext struct {
	ID        string
	EventType transactions.TransactionEvent
	SeqNo     int
}

type pendingTable struct {
	calls map[string]*PendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*PendingCall)}
}

func (p *pendingTable) add(call *PendingCall) {
	p.calls[call.MessageID] = call
}

func (p *pendingTable) has(id string) bool {
	_, ok := p.calls[id]
	return ok
}

// take removes and returns the call with the given id.
func (p *pendingTable) take(id string) (*PendingCall, bool) {
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return call, ok
}

func (p *pendingTable) len() int {
	return len(p.calls)
}

// transactionEvent reports whether a TransactionEvent of the given type is in flight.
func (p *pendingTable) transactionEvent(eventType transactions.TransactionEvent) bool {
	for _, call := range p.calls {
		if call.transaction != nil && call.transaction.EventType == eventType {
			return true
		}
	}
	return false
}

// expire removes and returns calls sent before deadline, oldest first.
func (p *pendingTable) expire(deadline time.Time) []*PendingCall {
	var expired []*PendingCall

	for id, call := range p.calls {
		if call.SentAt.Before(deadline) {
			expired = append(expired, call)
			delete(p.calls, id)
		}
	}

	sortBySentAt(expired)
	return expired
}

// drain removes and returns every call, oldest first.
func (p *pendingTable) drain() []*PendingCall {
	calls := p.snapshot()
	p.calls = make(map[string]*PendingCall)
	return calls
}

func (p *pendingTable) snapshot() []*PendingCall {
	calls := make([]*PendingCall, 0, len(p.calls))
	for _, call := range p.calls {
		calls = append(calls, call)
	}

	sortBySentAt(calls)
	return calls
}

func sortBySentAt(calls []*PendingCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].SentAt.Equal(calls[j].SentAt) {
			return calls[i].MessageID < calls[j].MessageID
		}
		return calls[i].SentAt.Before(calls[j].SentAt)
	})
}
