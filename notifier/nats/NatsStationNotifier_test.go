package notifier

import (
	"encoding/json"
	"testing"
	"time"

	"charging_station/common"
	"charging_station/notifier"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, data []byte) common.Response {
	t.Helper()

	var response common.Response
	require.NoError(t, json.Unmarshal(data, &response))
	return response
}

func echo(stationID string, payload []byte, responseChannel chan common.Response) {
	var data interface{}
	json.Unmarshal(payload, &data) // nolint: errcheck

	responseChannel <- common.Response{Payload: data}
}

func TestHandle(t *testing.T) {
	ns := New("CS001", "station")
	ns.AddHandler("echo", echo)
	ns.AddHandler("silent", func(string, []byte, chan common.Response) {})
	ns.SetTimeout(50 * time.Millisecond)

	t.Run("dispatches to handler", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"action":"echo","stationId":"CS001","payload":{"idToken":"42"}}`)))

		assert.Nil(t, response.Err)
		assert.Equal(t, map[string]interface{}{"idToken": "42"}, response.Payload)
	})

	t.Run("malformed command", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"action":`)))

		require.NotNil(t, response.Err)
		assert.Equal(t, "command.format.not.valid", response.Err.Code)
	})

	t.Run("missing action", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"stationId":"CS001"}`)))

		require.NotNil(t, response.Err)
		assert.Equal(t, "command.format.not.valid", response.Err.Code)
	})

	t.Run("other station", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"action":"echo","stationId":"CS002"}`)))

		require.NotNil(t, response.Err)
		assert.Equal(t, "command.station.not.found", response.Err.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"action":"reset","stationId":"CS001"}`)))

		require.NotNil(t, response.Err)
		assert.Equal(t, "command.action.not.found", response.Err.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		response := decodeResponse(t, ns.handle([]byte(`{"action":"silent","stationId":"CS001"}`)))

		require.NotNil(t, response.Err)
		assert.Equal(t, "request.timeout", response.Err.Code)
	})
}

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestBridge(t *testing.T) {
	srv := runServer(t)

	notifications := make(chan notifier.Notification, 1)

	ns := New("CS001", "station")
	ns.AddHandler("echo", echo)
	ns.SetChannel(notifications)

	require.NoError(t, ns.Start(srv.ClientURL()))
	defer ns.Stop()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	t.Run("request reply", func(t *testing.T) {
		msg, err := nc.Request("station.CS001.request", []byte(`{"action":"echo","stationId":"CS001","payload":"ping"}`), 2*time.Second)
		require.NoError(t, err)

		response := decodeResponse(t, msg.Data)
		assert.Nil(t, response.Err)
		assert.Equal(t, "ping", response.Payload)
	})

	t.Run("notifications", func(t *testing.T) {
		sub, err := nc.SubscribeSync("station.CS001.logs")
		require.NoError(t, err)
		require.NoError(t, nc.Flush())

		notifications <- notifier.Notification{Topic: "logs", Data: map[string]string{"text": "Connected to CSMS with protocol ocpp2.0.1"}}

		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"Connected to CSMS with protocol ocpp2.0.1"}`, string(msg.Data))
	})
}

func TestStartFailure(t *testing.T) {
	ns := New("CS001", "station")

	err := ns.Start("nats://127.0.0.1:1")

	assert.Error(t, err)
	ns.Stop()
}
