package actions

import (
	"charging_station/common"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
)

func (sa *StationActions) StartTransaction(stationID string, payload []byte, responseChannel chan common.Response) {
	id, err := sa.station.RequestTransactionStart()
	if err != nil {
		logDefault(stationID, transactions.TransactionEventFeatureName).Warnf("start rejected: %v", err)
	}

	responseChannel <- sent(id, err)
}

func (sa *StationActions) StopTransaction(stationID string, payload []byte, responseChannel chan common.Response) {
	id, err := sa.station.RequestTransactionEnd()
	if err != nil {
		logDefault(stationID, transactions.TransactionEventFeatureName).Warnf("end rejected: %v", err)
	}

	responseChannel <- sent(id, err)
}
