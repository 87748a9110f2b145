package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")

		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "station.yml")

		err := os.WriteFile(path, []byte(`
address: ws://localhost:8887/CS042
protocolVersion: ocpp1.6
stationId: CS042
callTimeout: 5s
natsUrl: nats://localhost:4222
autoConnect: true
`), 0o600)
		require.NoError(t, err)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:8887/CS042", cfg.Address)
		assert.Equal(t, "ocpp1.6", cfg.ProtocolVersion)
		assert.Equal(t, "CS042", cfg.StationID)
		assert.Equal(t, 5*time.Second, cfg.CallTimeout)
		assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
		assert.True(t, cfg.AutoConnect)
		assert.Equal(t, "1234567890", cfg.IdToken)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment wins over file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "station.yml")
		require.NoError(t, os.WriteFile(path, []byte("stationId: FROM_FILE\n"), 0o600))

		t.Setenv(envVarStationID, "FROM_ENV")
		t.Setenv(envVarCallTimeout, "1m")
		t.Setenv(envVarAutoConnect, "false")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "FROM_ENV", cfg.StationID)
		assert.Equal(t, time.Minute, cfg.CallTimeout)
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv(envVarCallTimeout, "soon")

		_, err := Load("")

		assert.ErrorContains(t, err, envVarCallTimeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))

		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Address = "wss://csms.example.com/ocpp/CS001"

	require.NoError(t, valid.Validate())

	cfg := valid
	cfg.ProtocolVersion = "ocpp2.1"
	assert.Error(t, cfg.Validate())

	cfg = valid
	cfg.Address = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = valid
	cfg.IdToken = ""
	assert.Error(t, cfg.Validate())

	cfg = valid
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = valid
	cfg.Address = ""
	cfg.AutoConnect = true
	assert.Error(t, cfg.Validate())
}
