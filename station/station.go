package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"charging_station/codec"
	"charging_station/common"
	"charging_station/metrics"
	"charging_station/transport"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	nanoid "github.com/matoous/go-nanoid"
	"github.com/sirupsen/logrus"
)

const (
	Protocol201 = "ocpp2.0.1"
	Protocol16  = "ocpp1.6"

	DefaultModel       = "Simulator"
	DefaultVendorName  = "OCPP Simulator"
	DefaultCallTimeout = 30 * time.Second

	maxMessageIDAttempts = 8
	maxSweepInterval     = time.Second
)

var ErrStopped = errors.New("station is not running")

var validate = validator.New()

// Transport is the single connection to the central system.
type Transport interface {
	Open(ctx context.Context, address string, subprotocol string) error
	Send(data []byte) error
	Close() error
	State() transport.State
	Events() <-chan transport.Event
}

// session holds what lives exactly as long as one connection.
type session struct {
	address  string
	protocol string
	open     bool
	pending  *pendingTable
}

// Station is the OCPP engine of a charging station. Transport events and
// operator intents are handled one at a time by the loop started with Run,
// so the state machine and the pending table are never accessed concurrently.
type Station struct {
	model       string
	vendorName  string
	callTimeout time.Duration

	now              func() time.Time
	newMessageID     func() (string, error)
	newTransactionID func() string

	transport Transport
	registry  *registry
	machine   *StateMachine
	session   *session
	seqNo     int

	logs *LogStream
	log  *logrus.Entry

	intents chan func()
	done    chan struct{}
}

type Option func(*Station)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Station) {
		s.log = log
	}
}

func WithStationInfo(model string, vendorName string) Option {
	return func(s *Station) {
		s.model = model
		s.vendorName = vendorName
	}
}

// WithCallTimeout sets how long a call may stay pending; zero disables timeouts.
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Station) {
		s.callTimeout = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Station) {
		s.now = now
	}
}

func WithMessageIDGenerator(gen func() (string, error)) Option {
	return func(s *Station) {
		s.newMessageID = gen
	}
}

func WithTransactionIDGenerator(gen func() string) Option {
	return func(s *Station) {
		s.newTransactionID = gen
	}
}

func New(t Transport, opts ...Option) *Station {
	s := &Station{
		model:       DefaultModel,
		vendorName:  DefaultVendorName,
		callTimeout: DefaultCallTimeout,

		now: time.Now,
		newMessageID: func() (string, error) {
			return nanoid.Nanoid()
		},
		newTransactionID: uuid.NewString,

		transport: t,
		registry:  newRegistry(),
		machine:   NewStateMachine(),
		logs:      NewLogStream(),
		log:       logrus.NewEntry(logrus.StandardLogger()),

		intents: make(chan func()),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run processes transport events and intents until ctx is cancelled.
func (s *Station) Run(ctx context.Context) error {
	defer close(s.done)

	var sweep <-chan time.Time

	if s.callTimeout > 0 {
		ticker := time.NewTicker(sweepInterval(s.callTimeout))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.transport.Close() // nolint: errcheck
			s.endSession("station stopped")
			return nil
		case ev := <-s.transport.Events():
			s.handleTransportEvent(ev)
		case intent := <-s.intents:
			intent()
		case <-sweep:
			s.expirePendingCalls()
		}
	}
}

func sweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval > maxSweepInterval {
		return maxSweepInterval
	}
	if interval <= 0 {
		return time.Millisecond
	}
	return interval
}

// exec runs fn on the station loop and waits for it to finish.
func (s *Station) exec(fn func()) error {
	finished := make(chan struct{})

	select {
	case s.intents <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.done:
		return ErrStopped
	}

	<-finished
	return nil
}

// Connect opens a new session with the central system and blocks until the
// connection is established or failed. An existing session is closed first
// and its pending calls are discarded.
func (s *Station) Connect(ctx context.Context, address string, protocol string) error {
	if err := validate.Var(protocol, "oneof=ocpp2.0.1 ocpp1.6"); err != nil {
		err = common.ErrConnection.New("unsupported protocol version %q", protocol)
		s.logError("Connection failed", err)
		return err
	}

	err := s.exec(func() {
		if s.session != nil {
			s.endSession("reconnecting")
		}

		s.session = &session{address: address, protocol: protocol, pending: newPendingTable()}
		metrics.ConnectionState.Set(float64(transport.Connecting))
		s.log.WithField("address", address).Infof("connecting with protocol %s", protocol)
	})

	if err != nil {
		return err
	}

	return s.transport.Open(ctx, address, protocol)
}

// Disconnect closes the session. Pending calls are discarded.
func (s *Station) Disconnect() error {
	return s.exec(func() {
		if err := s.transport.Close(); err != nil {
			s.log.WithError(err).Debug("failed to close transport")
		}

		if s.session != nil {
			s.endSession("disconnected by operator")
			s.onDisconnected()
		}
	})
}

// RequestStatusNotification reports the connector status. An empty status
// reports the current charging state, Occupied while charging.
func (s *Station) RequestStatusNotification(status string) (string, error) {
	return s.intent(func() (string, error) {
		state := ChargingState(status)
		if state == "" {
			state = s.machine.state.ChargingState
		}

		return s.sendCall(codec.StatusNotification, statusNotificationRequest(state, s.now()), nil)
	})
}

func (s *Station) RequestAuthorize(idToken string) (string, error) {
	return s.intent(func() (string, error) {
		if err := validate.Var(idToken, "required,max=36"); err != nil {
			err = common.ErrInvalidIntent.Wrap(err, "invalid idToken %q", idToken)
			s.logError("Authorize rejected", err)
			return "", err
		}

		return s.sendCall(codec.Authorize, authorizeRequest(idToken), nil)
	})
}

// RequestTransactionStart sends a Started transaction event. It is rejected
// without sending anything while a transaction is active or being started.
func (s *Station) RequestTransactionStart() (string, error) {
	return s.intent(func() (string, error) {
		if err := s.checkConnected(); err != nil {
			return "", err
		}

		err := s.machine.CanStart()
		if err == nil && s.session.pending.transactionEvent(transactions.TransactionEventStarted) {
			err = common.ErrPolicyViolation.New("transaction start is already awaiting confirmation")
		}

		if err != nil {
			metrics.PolicyViolations.WithLabelValues("start").Inc()
			s.logError("Transaction start rejected", err)
			return "", err
		}

		s.seqNo = 0
		tx := &transactionContext{
			ID:        s.newTransactionID(),
			EventType: transactions.TransactionEventStarted,
			SeqNo:     s.seqNo,
		}

		return s.sendTransactionEvent(tx)
	})
}

// RequestTransactionEnd sends an Ended transaction event for the active
// transaction. It is rejected without sending anything unless charging.
func (s *Station) RequestTransactionEnd() (string, error) {
	return s.intent(func() (string, error) {
		if err := s.checkConnected(); err != nil {
			return "", err
		}

		err := s.machine.CanEnd()
		if err == nil && s.session.pending.transactionEvent(transactions.TransactionEventEnded) {
			err = common.ErrPolicyViolation.New("transaction end is already awaiting confirmation")
		}

		if err != nil {
			metrics.PolicyViolations.WithLabelValues("end").Inc()
			s.logError("Transaction end rejected", err)
			return "", err
		}

		tx := &transactionContext{
			ID:        s.machine.state.ActiveTransactionID,
			EventType: transactions.TransactionEventEnded,
			SeqNo:     s.seqNo,
		}

		return s.sendTransactionEvent(tx)
	})
}

// RegisterIncoming installs the handler for calls initiated by the central system.
func (s *Station) RegisterIncoming(action codec.Action, handler IncomingHandler) error {
	var err error

	if execErr := s.exec(func() { err = s.registry.register(action, handler) }); execErr != nil {
		return execErr
	}

	return err
}

func (s *Station) ConnectionState() transport.State {
	return s.transport.State()
}

func (s *Station) StationState() StationState {
	var state StationState

	if err := s.exec(func() { state = s.machine.Snapshot() }); err != nil {
		// The loop is gone, nothing mutates the machine anymore
		return s.machine.Snapshot()
	}

	return state
}

// PendingCalls returns the calls awaiting confirmation, oldest first.
func (s *Station) PendingCalls() []PendingCall {
	var calls []PendingCall

	s.exec(func() { // nolint: errcheck
		if s.session == nil {
			return
		}

		for _, call := range s.session.pending.snapshot() {
			calls = append(calls, *call)
		}
	})

	return calls
}

func (s *Station) Logs() []LogEntry {
	return s.logs.Entries()
}

func (s *Station) Subscribe(buffer int) (<-chan LogEntry, func()) {
	return s.logs.Subscribe(buffer)
}

func (s *Station) intent(fn func() (string, error)) (string, error) {
	var (
		id  string
		err error
	)

	if execErr := s.exec(func() { id, err = fn() }); execErr != nil {
		return "", execErr
	}

	return id, err
}

func (s *Station) checkConnected() error {
	if s.session == nil || !s.session.open || s.transport.State() != transport.Connected {
		err := common.ErrNotConnected.New("not connected to CSMS")
		s.logError("Not connected to CSMS", err)
		return err
	}
	return nil
}

func (s *Station) sendTransactionEvent(tx *transactionContext) (string, error) {
	id, err := s.sendCall(codec.TransactionEvent, transactionEventRequest(tx, s.now()), tx)

	if err == nil {
		s.seqNo++
	}

	return id, err
}

// sendCall encodes and writes a call, then records it as pending.
func (s *Station) sendCall(action codec.Action, payload interface{}, tx *transactionContext) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	id, err := s.nextMessageID()
	if err != nil {
		s.logError(fmt.Sprintf("Failed to send %s", action), err)
		return "", err
	}

	call, err := codec.NewCall(id, action, payload)
	if err != nil {
		s.logError(fmt.Sprintf("Failed to send %s", action), err)
		return "", err
	}

	data, err := codec.Encode(call)
	if err != nil {
		s.logError(fmt.Sprintf("Failed to send %s", action), err)
		return "", err
	}

	if err := s.transport.Send(data); err != nil {
		s.logError(fmt.Sprintf("Failed to send %s", action), err)
		return "", err
	}

	s.session.pending.add(&PendingCall{MessageID: id, Action: action, SentAt: s.now(), transaction: tx})

	metrics.CallsSent.WithLabelValues(string(action)).Inc()
	metrics.PendingCalls.Set(float64(s.session.pending.len()))

	s.logFrame("Sent: %s", data)

	return id, nil
}

// nextMessageID returns an id that no pending call uses.
func (s *Station) nextMessageID() (string, error) {
	for i := 0; i < maxMessageIDAttempts; i++ {
		id, err := s.newMessageID()
		if err != nil {
			return "", err
		}

		if id != "" && !s.session.pending.has(id) {
			return id, nil
		}
	}

	return "", fmt.Errorf("failed to generate a unique message id after %d attempts", maxMessageIDAttempts)
}

func (s *Station) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpen:
		if s.session == nil {
			s.session = &session{pending: newPendingTable()}
		}

		s.session.open = true
		metrics.ConnectionState.Set(float64(transport.Connected))

		s.logState("Connected to CSMS with protocol %s", s.session.protocol)

		s.sendCall(codec.BootNotification, bootNotificationRequest(s.model, s.vendorName), nil) // nolint: errcheck
	case transport.EventMessage:
		s.handleFrame(ev.Data)
	case transport.EventClose:
		// A close of a session that never opened belongs to a dropped connection
		if s.session == nil || !s.session.open {
			s.log.WithField("reason", ev.Reason).Debug("ignoring close of a stale connection")
			return
		}

		s.endSession(fmt.Sprintf("connection closed (%s)", ev.Reason))
		s.onDisconnected()
	case transport.EventError:
		err := ev.Err
		if err == nil {
			err = common.ErrConnection.New("%s", ev.Reason)
		}

		s.logError("WebSocket error occurred", err)

		if s.session != nil && !s.session.open {
			s.session = nil
			metrics.ConnectionState.Set(float64(transport.Disconnected))
		}
	}
}

func (s *Station) onDisconnected() {
	metrics.ConnectionState.Set(float64(transport.Disconnected))
	s.logState("Disconnected from CSMS")
}

func (s *Station) handleFrame(data []byte) {
	s.logFrame("Received: %s", data)

	env, err := codec.Decode(data)
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.logError("Dropped malformed frame", err)
		return
	}

	switch e := env.(type) {
	case codec.Call:
		s.handleCall(e)
	case codec.Result:
		s.handleResult(e)
	case codec.CallError:
		s.handleCallError(e)
	}
}

func (s *Station) takePending(id string) (*PendingCall, bool) {
	if s.session == nil {
		return nil, false
	}

	call, ok := s.session.pending.take(id)
	if ok {
		metrics.PendingCalls.Set(float64(s.session.pending.len()))
	}

	return call, ok
}

func (s *Station) handleResult(res codec.Result) {
	call, ok := s.takePending(res.UniqueID)
	if !ok {
		s.unmatched(res.UniqueID)
		return
	}

	handler, ok := s.registry.confirmation(call.Action)
	if !ok {
		s.log.WithField("message", call.Action).Warn("no confirmation handler registered")
		return
	}

	if err := handler(s, call, res.Payload); err != nil {
		metrics.CallsCompleted.WithLabelValues(string(call.Action), metrics.OutcomeInvalid).Inc()
		s.logError(fmt.Sprintf("%s confirmation not applied", call.Action), err)
		return
	}

	metrics.CallsCompleted.WithLabelValues(string(call.Action), metrics.OutcomeResult).Inc()
}

func (s *Station) handleCallError(callErr codec.CallError) {
	call, ok := s.takePending(callErr.UniqueID)
	if !ok {
		s.unmatched(callErr.UniqueID)
		return
	}

	metrics.CallsCompleted.WithLabelValues(string(call.Action), metrics.OutcomeError).Inc()

	err := common.ErrCallRejected.New("%s %s: %s %s", call.Action, call.MessageID, callErr.ErrorCode, callErr.ErrorDescription)
	s.logError(fmt.Sprintf("%s rejected by CSMS", call.Action), err)
}

func (s *Station) handleCall(call codec.Call) {
	handler, ok := s.registry.incomingHandler(call.Action)
	if !ok {
		metrics.UnsupportedCalls.WithLabelValues(string(call.Action)).Inc()
		s.logf("Unsupported action %s from CSMS", call.Action)
		s.reply(codec.CallError{
			UniqueID:         call.UniqueID,
			ErrorCode:        codec.NotImplemented,
			ErrorDescription: "Requested action is not known by receiver",
		})
		return
	}

	payload, err := handler(call.Payload)
	if err != nil {
		s.logError(fmt.Sprintf("Failed to handle %s", call.Action), err)
		s.reply(codec.CallError{UniqueID: call.UniqueID, ErrorCode: codec.InternalError, ErrorDescription: err.Error()})
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logError(fmt.Sprintf("Failed to handle %s", call.Action), err)
		s.reply(codec.CallError{UniqueID: call.UniqueID, ErrorCode: codec.InternalError, ErrorDescription: err.Error()})
		return
	}

	s.reply(codec.Result{UniqueID: call.UniqueID, Payload: raw})
}

func (s *Station) reply(env codec.Envelope) {
	data, err := codec.Encode(env)
	if err != nil {
		s.logError("Failed to encode reply", err)
		return
	}

	if err := s.transport.Send(data); err != nil {
		s.logError("Failed to send reply", err)
		return
	}

	s.logFrame("Sent: %s", data)
}

func (s *Station) unmatched(id string) {
	metrics.UnmatchedResults.Inc()
	s.logError("Dropped unmatched frame", common.ErrUnmatchedResult.New("no pending call with message id %q", id))
}

func (s *Station) expirePendingCalls() {
	if s.session == nil {
		return
	}

	for _, call := range s.session.pending.expire(s.now().Add(-s.callTimeout)) {
		metrics.CallsCompleted.WithLabelValues(string(call.Action), metrics.OutcomeTimeout).Inc()

		err := common.ErrCallTimeout.New("no confirmation for %s %s within %v", call.Action, call.MessageID, s.callTimeout)
		s.logError(fmt.Sprintf("%s timed out", call.Action), err)
	}

	metrics.PendingCalls.Set(float64(s.session.pending.len()))
}

// endSession discards the current session. Its pending calls never receive
// a confirmation, so each one is reported as cancelled.
func (s *Station) endSession(reason string) {
	if s.session == nil {
		return
	}

	for _, call := range s.session.pending.drain() {
		metrics.CallsCompleted.WithLabelValues(string(call.Action), metrics.OutcomeCancelled).Inc()

		err := common.ErrCallCancelled.New("%s %s discarded: %s", call.Action, call.MessageID, reason)
		s.logError(fmt.Sprintf("Pending %s cancelled", call.Action), err)
	}

	metrics.PendingCalls.Set(0)
	s.session = nil
}

func (s *Station) logf(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)

	s.logs.Append(LogEntry{Text: text, Timestamp: s.now()})
	s.log.Info(text)
}

func (s *Station) logFrame(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)

	s.logs.Append(LogEntry{Text: text, Timestamp: s.now(), Kind: LogFrame})
	s.log.Debug(text)
}

// logState reports a change of the connection or of the station state.
func (s *Station) logState(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)

	s.logs.Append(LogEntry{Text: text, Timestamp: s.now(), Kind: LogState})
	s.log.Info(text)
}

func (s *Station) logError(text string, err error) {
	s.logs.Append(LogEntry{Text: fmt.Sprintf("%s: %v", text, err), Timestamp: s.now(), Err: err})
	s.log.WithError(err).Warn(text)
}
