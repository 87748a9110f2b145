package station

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toMap(t *testing.T, payload interface{}) map[string]interface{} {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	data := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &data))

	return data
}

func TestPayloads(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("BootNotification", func(t *testing.T) {
		data := toMap(t, bootNotificationRequest("Simulator", "OCPP Simulator"))

		assert.Equal(t, "PowerUp", data["reason"])

		station, ok := data["chargingStation"].(map[string]interface{})
		require.True(t, ok)

		assert.Equal(t, "Simulator", station["model"])
		assert.Equal(t, "OCPP Simulator", station["vendorName"])
	})

	t.Run("StatusNotification", func(t *testing.T) {
		data := toMap(t, statusNotificationRequest(Available, now))

		assert.Equal(t, "Available", data["connectorStatus"])
		assert.EqualValues(t, 1, data["evseId"])
		assert.EqualValues(t, 1, data["connectorId"])

		timestamp, ok := data["timestamp"].(string)
		require.True(t, ok)

		parsed, err := time.Parse(time.RFC3339, timestamp)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(now))
	})

	t.Run("StatusNotification connector status", func(t *testing.T) {
		for state, expected := range map[ChargingState]availability.ConnectorStatus{
			Available:   availability.ConnectorStatusAvailable,
			Charging:    availability.ConnectorStatusOccupied,
			Faulted:     availability.ConnectorStatusFaulted,
			Unavailable: availability.ConnectorStatusUnavailable,
		} {
			request := statusNotificationRequest(state, now)

			assert.Equal(t, expected, request.ConnectorStatus, state)
			assert.NoError(t, types.Validate.Struct(request), state)
		}
	})

	t.Run("Authorize", func(t *testing.T) {
		data := toMap(t, authorizeRequest("1234567890"))

		idToken, ok := data["idToken"].(map[string]interface{})
		require.True(t, ok)

		assert.Equal(t, "1234567890", idToken["idToken"])
		assert.Equal(t, "ISO14443", idToken["type"])
	})

	t.Run("TransactionEvent", func(t *testing.T) {
		tx := &transactionContext{ID: "tx-1", EventType: transactions.TransactionEventEnded, SeqNo: 1}

		data := toMap(t, transactionEventRequest(tx, now))

		assert.Equal(t, "Ended", data["eventType"])
		assert.Equal(t, "Authorized", data["triggerReason"])
		assert.EqualValues(t, 1, data["seqNo"])
		info, ok := data["transactionInfo"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "tx-1", info["transactionId"])

		evse, ok := data["evse"].(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 1, evse["id"])
		assert.EqualValues(t, 1, evse["connectorId"])
		assert.NotEmpty(t, data["timestamp"])
	})
}
