package main

import (
	"context"
	"time"

	"charging_station/notifier"
	"charging_station/station"
	"charging_station/transport"

	"github.com/joomcode/errorx"
)

const (
	topicLogs  = "logs"
	topicState = "state"

	notificationBuffer = 64
)

// StationSource is what the handler observes.
type StationSource interface {
	Subscribe(buffer int) (<-chan station.LogEntry, func())
	StationState() station.StationState
	ConnectionState() transport.State
}

// ChargingStationHandler turns the station log stream into bridge notifications.
// Entries reporting a state change also publish a state snapshot.
type ChargingStationHandler struct {
	stationID    string
	source       StationSource
	notification chan notifier.Notification
}

func NewChargingStationHandler(stationID string, source StationSource) *ChargingStationHandler {
	return &ChargingStationHandler{
		stationID:    stationID,
		source:       source,
		notification: make(chan notifier.Notification, notificationBuffer),
	}
}

func (handler *ChargingStationHandler) NotificationChannel() chan notifier.Notification {
	return handler.notification
}

func (handler *ChargingStationHandler) Run(ctx context.Context) error {
	entries, unsubscribe := handler.source.Subscribe(notificationBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}

			if !handler.publish(ctx, handler.logNotification(entry)) {
				return nil
			}

			if entry.Kind == station.LogState {
				if !handler.publish(ctx, handler.stateNotification()) {
					return nil
				}
			}
		}
	}
}

func (handler *ChargingStationHandler) publish(ctx context.Context, n notifier.Notification) bool {
	select {
	case handler.notification <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

func (handler *ChargingStationHandler) logNotification(entry station.LogEntry) notifier.Notification {
	data := map[string]interface{}{
		"stationId": handler.stationID,
		"text":      entry.Text,
		"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
	}

	if entry.Kind != station.LogInfo {
		data["kind"] = string(entry.Kind)
	}

	if e := errorx.Cast(entry.Err); e != nil {
		data["error"] = e.Type().FullName()
	} else if entry.Err != nil {
		data["error"] = entry.Err.Error()
	}

	return notifier.Notification{Topic: topicLogs, Data: data}
}

func (handler *ChargingStationHandler) stateNotification() notifier.Notification {
	return notifier.Notification{
		Topic: topicState,
		Data: map[string]interface{}{
			"stationId":  handler.stationID,
			"connection": handler.source.ConnectionState().String(),
			"station":    handler.source.StationState(),
		},
	}
}
