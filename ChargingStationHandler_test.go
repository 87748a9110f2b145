package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"charging_station/common"
	"charging_station/notifier"
	"charging_station/station"
	"charging_station/transport"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	logs       *station.LogStream
	subscribed chan struct{}
}

func (f *fakeSource) Subscribe(buffer int) (<-chan station.LogEntry, func()) {
	defer close(f.subscribed)
	return f.logs.Subscribe(buffer)
}

func (f *fakeSource) StationState() station.StationState {
	return station.StationState{ChargingState: station.Charging, ActiveTransactionID: "tx-1"}
}

func (f *fakeSource) ConnectionState() transport.State {
	return transport.Connected
}

func receive(t *testing.T, ch chan notifier.Notification) notifier.Notification {
	t.Helper()

	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
		return notifier.Notification{}
	}
}

func TestChargingStationHandler(t *testing.T) {
	source := &fakeSource{logs: station.NewLogStream(), subscribed: make(chan struct{})}
	handler := NewChargingStationHandler("CS001", source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- handler.Run(ctx)
	}()

	select {
	case <-source.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not subscribe")
	}

	t.Run("plain entry", func(t *testing.T) {
		at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		source.logs.Append(station.LogEntry{Text: "Received: [3,\"1\",{}]", Timestamp: at, Kind: station.LogFrame})

		n := receive(t, handler.NotificationChannel())

		assert.Equal(t, topicLogs, n.Topic)
		assert.Equal(t, map[string]interface{}{
			"stationId": "CS001",
			"text":      "Received: [3,\"1\",{}]",
			"timestamp": "2024-05-01T10:00:00Z",
			"kind":      "frame",
		}, n.Data)
	})

	t.Run("frame mentioning a confirmation", func(t *testing.T) {
		source.logs.Append(station.LogEntry{Text: "Received: [2,\"7\",\"DataTransfer\",{\"data\":\"Confirmed\"}]", Kind: station.LogFrame})
		source.logs.Append(station.LogEntry{Text: "Status Notification Confirmed"})

		assert.Equal(t, topicLogs, receive(t, handler.NotificationChannel()).Topic)
		assert.Equal(t, topicLogs, receive(t, handler.NotificationChannel()).Topic)

		select {
		case n := <-handler.NotificationChannel():
			t.Fatalf("unexpected notification on %s", n.Topic)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("error entry", func(t *testing.T) {
		source.logs.Append(station.LogEntry{
			Text: "Transaction start rejected",
			Err:  common.ErrPolicyViolation.New("a transaction is already in progress"),
		})

		n := receive(t, handler.NotificationChannel())
		assert.Equal(t, "ocpp.policy_violation", n.Data.(map[string]interface{})["error"])

		source.logs.Append(station.LogEntry{Text: "Failed to send Authorize", Err: errors.New("broken pipe")})

		n = receive(t, handler.NotificationChannel())
		assert.Equal(t, "broken pipe", n.Data.(map[string]interface{})["error"])
	})

	t.Run("state change", func(t *testing.T) {
		source.logs.Append(station.LogEntry{Text: "Transaction Started Confirmed", Kind: station.LogState})

		assert.Equal(t, topicLogs, receive(t, handler.NotificationChannel()).Topic)

		n := receive(t, handler.NotificationChannel())
		assert.Equal(t, topicState, n.Topic)
		assert.Equal(t, map[string]interface{}{
			"stationId":  "CS001",
			"connection": "Connected",
			"station":    station.StationState{ChargingState: station.Charging, ActiveTransactionID: "tx-1"},
		}, n.Data)
	})

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop")
	}
}
