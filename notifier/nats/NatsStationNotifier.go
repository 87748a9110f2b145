package notifier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"charging_station/common"
	"charging_station/notifier"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

type Function func(string, []byte, chan common.Response)

type natsStationNotifier struct {
	stationID     string
	subjectPrefix string

	notification chan notifier.Notification // log entries and state changes of the station
	connection   *nats.Conn
	subscription *nats.Subscription
	handlers     map[string]Function
	timeout      time.Duration // how long a command may take to answer
	validate     *validator.Validate

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (ns *natsStationNotifier) SetTimeout(timeout time.Duration) {
	ns.timeout = timeout
}

func (ns *natsStationNotifier) Timeout() time.Duration {
	return ns.timeout
}

func (ns *natsStationNotifier) AddHandler(action string, fn Function) {
	ns.handlers[action] = fn
}

func (ns *natsStationNotifier) SetChannel(notification chan notifier.Notification) {
	ns.notification = notification
}

// RequestSubject is where console commands are received.
func (ns *natsStationNotifier) RequestSubject() string {
	return ns.subject("request")
}

func (ns *natsStationNotifier) subject(topic string) string {
	return fmt.Sprintf("%s.%s.%s", ns.subjectPrefix, ns.stationID, topic)
}

func (ns *natsStationNotifier) notificationFromStation() {
	defer ns.wg.Done()

	for {
		select {
		case <-ns.quit:
			return
		case n := <-ns.notification:
			bt, err := json.Marshal(n.Data)

			if err != nil {
				log.Error(err)
				continue
			}

			if err := ns.connection.Publish(ns.subject(n.Topic), bt); err != nil {
				log.WithField("topic", n.Topic).Errorf("couldn't publish notification: %v", err)
			}
		}
	}
}

// handle runs the command in data and returns the encoded response.
func (ns *natsStationNotifier) handle(data []byte) []byte {
	var command common.Command

	if err := json.Unmarshal(data, &command); err != nil {
		return encode(common.NewErrorResponse("command.format.not.valid", "command is not valid json"))
	}

	if err := ns.validate.Struct(&command); err != nil {
		return encode(common.NewErrorResponse("command.format.not.valid", "command is not valid"))
	}

	if command.StationId != ns.stationID {
		return encode(common.NewErrorResponse(
			"command.station.not.found",
			fmt.Sprintf("unknown station %q", command.StationId),
		))
	}

	fn, exists := ns.handlers[command.Action]

	if !exists {
		return encode(common.NewErrorResponse(
			"command.action.not.found",
			fmt.Sprintf("unknown action %q", command.Action),
		))
	}

	// Buffered so a handler answering after the timeout does not block forever
	responseChannel := make(chan common.Response, 1)
	payload, _ := json.Marshal(command.Payload)

	go fn(command.StationId, payload, responseChannel)

	select {
	case response := <-responseChannel:
		return encode(response)
	case <-time.After(ns.timeout):
		return encode(common.NewErrorResponse("request.timeout", "the command did not answer in time"))
	}
}

func encode(response common.Response) []byte {
	bt, err := json.Marshal(response)
	if err != nil {
		bt, _ = json.Marshal(common.NewErrorResponse("command.response.not.valid", err.Error()))
	}
	return bt
}

func (ns *natsStationNotifier) requestHandler(m *nats.Msg) {
	log.Debugf("RequestHandler, %+v", string(m.Data))

	bt := ns.handle(m.Data)

	log.Debugf("RequestHandler => Response, %v", string(bt))

	if err := m.Respond(bt); err != nil {
		log.Errorf("couldn't respond to %v: %v", m.Subject, err)
	}
}

func (ns *natsStationNotifier) Start(url string) error {
	nc, err := nats.Connect(url, nats.Name(ns.stationID))
	if err != nil {
		return err
	}

	sub, err := nc.Subscribe(ns.RequestSubject(), ns.requestHandler)
	if err != nil {
		nc.Close()
		return err
	}

	ns.connection = nc
	ns.subscription = sub

	if ns.notification != nil {
		ns.wg.Add(1)
		go ns.notificationFromStation()
	}

	log.WithField("subject", ns.RequestSubject()).Info("NATS bridge started")

	return nil
}

func (ns *natsStationNotifier) Stop() {
	ns.stopOnce.Do(func() {
		close(ns.quit)
		ns.wg.Wait()

		if ns.connection != nil {
			ns.connection.Close()
			log.Info("NatsStopped")
		}
	})
}

func New(stationID string, subjectPrefix string) *natsStationNotifier {
	return &natsStationNotifier{
		stationID:     stationID,
		subjectPrefix: subjectPrefix,
		notification:  nil,
		connection:    nil,
		handlers:      make(map[string]Function),
		timeout:       30 * time.Second,
		validate:      validator.New(),
		quit:          make(chan struct{}),
	}
}
