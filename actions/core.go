package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"charging_station/common"
	"charging_station/station"
	"charging_station/transport"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

func logDefault(stationID string, feature string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"station": stationID, "message": feature})
}

type Function func(string, []byte, chan common.Response)

// Station is the part of the station engine the console commands drive.
type Station interface {
	Connect(ctx context.Context, address string, protocol string) error
	Disconnect() error
	RequestStatusNotification(status string) (string, error)
	RequestAuthorize(idToken string) (string, error)
	RequestTransactionStart() (string, error)
	RequestTransactionEnd() (string, error)
	ConnectionState() transport.State
	StationState() station.StationState
	PendingCalls() []station.PendingCall
}

// Defaults fill the fields a command payload leaves out.
type Defaults struct {
	Address        string
	Protocol       string
	IdToken        string
	ConnectTimeout time.Duration
}

type StationActions struct {
	station  Station
	defaults Defaults
	validate *validator.Validate
}

func InitializeStationActions(st Station, defaults Defaults) StationActions {
	if defaults.ConnectTimeout <= 0 {
		defaults.ConnectTimeout = 30 * time.Second
	}

	return StationActions{
		station:  st,
		defaults: defaults,
		validate: validator.New(),
	}
}

// Sent is the payload answered for every intent the engine accepted.
type Sent struct {
	MessageID string `json:"messageId"`
}

// Status is the payload of the state command.
type Status struct {
	Connection string                `json:"connection"`
	Station    station.StationState  `json:"station"`
	Pending    []station.PendingCall `json:"pending"`
}

type connectRequest struct {
	Address  string `json:"address" validate:"required,url"`
	Protocol string `json:"protocol" validate:"oneof=ocpp2.0.1 ocpp1.6"`
}

type statusNotificationRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=Available Occupied Reserved Unavailable Faulted"`
}

// decode fills request from a command payload and validates it.
func (sa *StationActions) decode(payload []byte, request interface{}) *common.Error {
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, request); err != nil {
			return &common.Error{
				Code:    "command.payload.not.valid",
				Message: fmt.Sprintf("payload is not valid json: %v", err),
			}
		}
	}

	if err := sa.validate.Struct(request); err != nil {
		return &common.Error{
			Code:    "command.payload.not.valid",
			Message: err.Error(),
		}
	}

	return nil
}

func failure(err error) common.Response {
	return common.NewErrorResponse(common.ErrorCode(err), err.Error())
}

func sent(id string, err error) common.Response {
	if err != nil {
		return failure(err)
	}
	return common.Response{Payload: Sent{MessageID: id}}
}

func (sa *StationActions) Connect(stationID string, payload []byte, responseChannel chan common.Response) {
	request := connectRequest{Address: sa.defaults.Address, Protocol: sa.defaults.Protocol}

	if e := sa.decode(payload, &request); e != nil {
		responseChannel <- common.Response{Err: e}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sa.defaults.ConnectTimeout)
	defer cancel()

	if err := sa.station.Connect(ctx, request.Address, request.Protocol); err != nil {
		logDefault(stationID, "Connect").Errorf("couldn't connect to %v: %v", request.Address, err)
		responseChannel <- failure(err)
		return
	}

	responseChannel <- common.Response{Payload: sa.status()}
}

func (sa *StationActions) Disconnect(stationID string, payload []byte, responseChannel chan common.Response) {
	if err := sa.station.Disconnect(); err != nil {
		responseChannel <- failure(err)
		return
	}

	responseChannel <- common.Response{Payload: sa.status()}
}

func (sa *StationActions) StatusNotification(stationID string, payload []byte, responseChannel chan common.Response) {
	var request statusNotificationRequest

	if e := sa.decode(payload, &request); e != nil {
		responseChannel <- common.Response{Err: e}
		return
	}

	responseChannel <- sent(sa.station.RequestStatusNotification(request.Status))
}

func (sa *StationActions) State(stationID string, payload []byte, responseChannel chan common.Response) {
	responseChannel <- common.Response{Payload: sa.status()}
}

func (sa *StationActions) status() Status {
	return Status{
		Connection: sa.station.ConnectionState().String(),
		Station:    sa.station.StationState(),
		Pending:    sa.station.PendingCalls(),
	}
}
