package common

// Command is an operator intent delivered through the console bridge.
type Command struct {
	Action    string      `json:"action" validate:"required"`
	StationId string      `json:"stationId" validate:"required"`
	Payload   interface{} `json:"payload"`
}
