package actions

import (
	"charging_station/common"
)

type authorizeRequest struct {
	IdToken string `json:"idToken" validate:"required,max=36"`
}

// Authorize sends the payload idToken, or the configured one when the payload has none.
func (sa *StationActions) Authorize(stationID string, payload []byte, responseChannel chan common.Response) {
	request := authorizeRequest{IdToken: sa.defaults.IdToken}

	if e := sa.decode(payload, &request); e != nil {
		responseChannel <- common.Response{Err: e}
		return
	}

	id, err := sa.station.RequestAuthorize(request.IdToken)
	if err != nil {
		logDefault(stationID, "Authorize").Warnf("couldn't authorize %v: %v", request.IdToken, err)
	}

	responseChannel <- sent(id, err)
}
