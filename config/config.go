package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	envVarAddress            = "CSMS_URL"
	envVarProtocol           = "OCPP_PROTOCOL"
	envVarStationID          = "STATION_ID"
	envVarModel              = "STATION_MODEL"
	envVarVendorName         = "STATION_VENDOR"
	envVarIdToken            = "ID_TOKEN"
	envVarCallTimeout        = "CALL_TIMEOUT"
	envVarNatsURL            = "NATS_URL"
	envVarNatsSubjectPrefix  = "NATS_SUBJECT_PREFIX"
	envVarNatsRequestTimeout = "NATS_REQUEST_TIMEOUT"
	envVarStatusAddress      = "STATUS_ADDRESS"
	envVarLogLevel           = "LOG_LEVEL"
	envVarAutoConnect        = "AUTO_CONNECT"
)

type Config struct {
	Address         string        `yaml:"address" validate:"omitempty,url"`
	ProtocolVersion string        `yaml:"protocolVersion" validate:"oneof=ocpp2.0.1 ocpp1.6"`
	StationID       string        `yaml:"stationId" validate:"required"`
	Model           string        `yaml:"model" validate:"required,max=20"`
	VendorName      string        `yaml:"vendorName" validate:"required,max=50"`
	IdToken         string        `yaml:"idToken" validate:"required,max=36"`
	CallTimeout     time.Duration `yaml:"callTimeout" validate:"gte=0"`

	// NatsURL empty disables the console bridge
	NatsURL            string        `yaml:"natsUrl"`
	NatsSubjectPrefix  string        `yaml:"natsSubjectPrefix" validate:"required"`
	NatsRequestTimeout time.Duration `yaml:"natsRequestTimeout" validate:"gt=0"`

	// StatusAddress empty disables the status HTTP server
	StatusAddress string `yaml:"statusAddress"`
	LogLevel      string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	AutoConnect   bool   `yaml:"autoConnect"`
}

func Default() Config {
	return Config{
		ProtocolVersion:    "ocpp2.0.1",
		StationID:          "CS001",
		Model:              "Simulator",
		VendorName:         "OCPP Simulator",
		IdToken:            "1234567890",
		CallTimeout:        30 * time.Second,
		NatsSubjectPrefix:  "station",
		NatsRequestTimeout: time.Minute,
		LogLevel:           "info",
	}
}

// Load reads the defaults, then the YAML file at path if any, then the
// environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("couldn't read config file %v: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("couldn't parse config file %v: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	values := map[string]*string{
		envVarAddress:           &c.Address,
		envVarProtocol:          &c.ProtocolVersion,
		envVarStationID:         &c.StationID,
		envVarModel:             &c.Model,
		envVarVendorName:        &c.VendorName,
		envVarIdToken:           &c.IdToken,
		envVarNatsURL:           &c.NatsURL,
		envVarNatsSubjectPrefix: &c.NatsSubjectPrefix,
		envVarStatusAddress:     &c.StatusAddress,
		envVarLogLevel:          &c.LogLevel,
	}

	for name, field := range values {
		if value, ok := os.LookupEnv(name); ok {
			*field = value
		}
	}

	durations := map[string]*time.Duration{
		envVarCallTimeout:        &c.CallTimeout,
		envVarNatsRequestTimeout: &c.NatsRequestTimeout,
	}

	for name, field := range durations {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %v: %w", name, err)
		}
		*field = d
	}

	if value, ok := os.LookupEnv(envVarAutoConnect); ok {
		autoConnect, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %v: %w", envVarAutoConnect, err)
		}
		c.AutoConnect = autoConnect
	}

	return nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.AutoConnect && c.Address == "" {
		return fmt.Errorf("invalid configuration: autoConnect requires an address")
	}

	return nil
}
