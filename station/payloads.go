package station

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
)

// The simulated station has a single EVSE with a single connector.
const (
	evseID      = 1
	connectorID = 1
)

func bootNotificationRequest(model string, vendorName string) *provisioning.BootNotificationRequest {
	return &provisioning.BootNotificationRequest{
		Reason: provisioning.BootReasonPowerUp,
		ChargingStation: provisioning.ChargingStationType{
			Model:      model,
			VendorName: vendorName,
		},
	}
}

// connectorStatus maps a charging state to the connector status reported to
// the central system. A charging connector is Occupied.
func connectorStatus(state ChargingState) availability.ConnectorStatus {
	if state == Charging {
		return availability.ConnectorStatusOccupied
	}
	return availability.ConnectorStatus(state)
}

func statusNotificationRequest(status ChargingState, now time.Time) *availability.StatusNotificationRequest {
	return &availability.StatusNotificationRequest{
		Timestamp:       types.NewDateTime(now),
		ConnectorStatus: connectorStatus(status),
		EvseID:          evseID,
		ConnectorID:     connectorID,
	}
}

func authorizeRequest(idToken string) *authorization.AuthorizeRequest {
	return &authorization.AuthorizeRequest{
		IdToken: types.IdToken{
			IdToken: idToken,
			Type:    types.IdTokenTypeISO14443,
		},
	}
}

func transactionEventRequest(tx *transactionContext, now time.Time) *transactions.TransactionEventRequest {
	connector := connectorID

	return &transactions.TransactionEventRequest{
		EventType:     tx.EventType,
		Timestamp:     types.NewDateTime(now),
		TriggerReason: transactions.TriggerReasonAuthorized,
		SequenceNo:    tx.SeqNo,
		TransactionInfo: transactions.Transaction{
			TransactionID: tx.ID,
		},
		Evse: &types.EVSE{
			ID:          evseID,
			ConnectorID: &connector,
		},
	}
}
