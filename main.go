package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"charging_station/actions"
	"charging_station/config"
	notifier "charging_station/notifier/nats"
	"charging_station/station"
	"charging_station/statusapi"
	"charging_station/transport"
)

const (
	CONNECT             = "connect"
	DISCONNECT          = "disconnect"
	STATUS_NOTIFICATION = "status.notification"
	AUTHORIZE           = "authorize"
	START_TRANSACTION   = "start.transaction"
	STOP_TRANSACTION    = "stop.transaction"
	STATE               = "state"

	shutdownTimeout = 5 * time.Second
)

var log *logrus.Logger

func newApp() *cli.App {
	return &cli.App{
		Name:  "charging-station",
		Usage: "OCPP charging station simulator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "address", Usage: "central system websocket url, e.g. ws://localhost:8887/CS001"},
			&cli.StringFlag{Name: "protocol", Usage: "ocpp2.0.1 or ocpp1.6"},
			&cli.StringFlag{Name: "station-id", Usage: "station identity used on the console bridge"},
			&cli.StringFlag{Name: "id-token", Usage: "idToken sent by authorize when none is given"},
			&cli.DurationFlag{Name: "call-timeout", Usage: "how long a call may wait for its confirmation, 0 disables"},
			&cli.StringFlag{Name: "nats-url", Usage: "NATS server of the console bridge, empty disables it"},
			&cli.StringFlag{Name: "status-address", Usage: "listen address of the status server, empty disables it"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "auto-connect", Usage: "connect on startup"},
			&cli.BoolFlag{Name: "no-console", Usage: "do not read commands from stdin"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			level, _ := logrus.ParseLevel(cfg.LogLevel)
			log.SetLevel(level)
			logrus.SetLevel(level)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, !c.Bool("no-console"))
		},
	}
}

// loadConfig applies the command line flags over the file and environment configuration.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}

	flags := map[string]*string{
		"address":        &cfg.Address,
		"protocol":       &cfg.ProtocolVersion,
		"station-id":     &cfg.StationID,
		"id-token":       &cfg.IdToken,
		"nats-url":       &cfg.NatsURL,
		"status-address": &cfg.StatusAddress,
		"log-level":      &cfg.LogLevel,
	}

	for name, field := range flags {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}

	if c.IsSet("call-timeout") {
		cfg.CallTimeout = c.Duration("call-timeout")
	}

	if c.IsSet("auto-connect") {
		cfg.AutoConnect = c.Bool("auto-connect")
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, withConsole bool) error {
	entry := log.WithField("station", cfg.StationID)

	client := transport.NewClient(transport.WithLogger(entry.WithField("component", "transport")))
	defer client.Shutdown()

	st := station.New(client,
		station.WithLogger(entry),
		station.WithStationInfo(cfg.Model, cfg.VendorName),
		station.WithCallTimeout(cfg.CallTimeout),
	)

	stationActions := actions.InitializeStationActions(st, actions.Defaults{
		Address:  cfg.Address,
		Protocol: cfg.ProtocolVersion,
		IdToken:  cfg.IdToken,
	})

	handlers := map[string]actions.Function{
		CONNECT:             stationActions.Connect,
		DISCONNECT:          stationActions.Disconnect,
		STATUS_NOTIFICATION: stationActions.StatusNotification,
		AUTHORIZE:           stationActions.Authorize,
		START_TRANSACTION:   stationActions.StartTransaction,
		STOP_TRANSACTION:    stationActions.StopTransaction,
		STATE:               stationActions.State,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return st.Run(ctx)
	})

	if cfg.NatsURL != "" {
		csHandler := NewChargingStationHandler(cfg.StationID, st)

		natsNotifier := notifier.New(cfg.StationID, cfg.NatsSubjectPrefix)
		natsNotifier.SetChannel(csHandler.NotificationChannel())
		natsNotifier.SetTimeout(cfg.NatsRequestTimeout)

		for action, fn := range handlers {
			natsNotifier.AddHandler(action, notifier.Function(fn))
		}

		if err := natsNotifier.Start(cfg.NatsURL); err != nil {
			cancel()
			g.Wait() // nolint: errcheck
			return fmt.Errorf("couldn't connect to NATS at %v: %w", cfg.NatsURL, err)
		}
		defer natsNotifier.Stop()

		log.Infof("waiting %v for command responses on %v", natsNotifier.Timeout(), natsNotifier.RequestSubject())

		g.Go(func() error {
			return csHandler.Run(ctx)
		})
	}

	if cfg.StatusAddress != "" {
		server := statusapi.NewServer(cfg.StatusAddress, st, entry.WithField("component", "status"))

		g.Go(server.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()

			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.AutoConnect {
		g.Go(func() error {
			if err := st.Connect(ctx, cfg.Address, cfg.ProtocolVersion); err != nil {
				entry.WithError(err).Error("couldn't connect on startup")
			}
			return nil
		})
	}

	if withConsole {
		g.Go(func() error {
			defer cancel()
			return NewConsole(cfg.StationID, handlers, os.Stdout).Run(ctx, os.Stdin)
		})
	}

	entry.Info("charging station started")

	err := g.Wait()

	entry.Info("stopped charging station")

	return err
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func init() {
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// DebugLevel also shows the transport and bridge traffic
	log.SetLevel(logrus.InfoLevel)
}
