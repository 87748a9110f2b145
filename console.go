package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"charging_station/actions"
	"charging_station/common"
)

const consoleHelp = `commands:
  connect [address] [protocol]   open a session (ocpp2.0.1 or ocpp1.6)
  disconnect                     close the session
  status [connectorStatus]       send a StatusNotification
  authorize [idToken]            send an Authorize
  start                          send a Started TransactionEvent
  stop                           send an Ended TransactionEvent
  state                          show connection, station state and pending calls
  help                           show this help
  quit                           stop the simulator`

// consoleCommand maps a console verb to its bridge action and builds the payload from the arguments.
type consoleCommand struct {
	action  string
	payload func(args []string) interface{}
}

var consoleCommands = map[string]consoleCommand{
	"connect": {action: CONNECT, payload: func(args []string) interface{} {
		payload := map[string]string{}
		if len(args) > 0 {
			payload["address"] = args[0]
		}
		if len(args) > 1 {
			payload["protocol"] = args[1]
		}
		return payload
	}},
	"disconnect": {action: DISCONNECT},
	"status": {action: STATUS_NOTIFICATION, payload: func(args []string) interface{} {
		if len(args) > 0 {
			return map[string]string{"status": args[0]}
		}
		return nil
	}},
	"authorize": {action: AUTHORIZE, payload: func(args []string) interface{} {
		if len(args) > 0 {
			return map[string]string{"idToken": args[0]}
		}
		return nil
	}},
	"start": {action: START_TRANSACTION},
	"stop":  {action: STOP_TRANSACTION},
	"state": {action: STATE},
}

// Console is a line oriented operator console running the same handlers as the bridge.
type Console struct {
	stationID string
	handlers  map[string]actions.Function
	out       io.Writer
}

func NewConsole(stationID string, handlers map[string]actions.Function, out io.Writer) *Console {
	return &Console{stationID: stationID, handlers: handlers, out: out}
}

// Run reads commands from in until quit, end of input or ctx is cancelled.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Reading stdin cannot be interrupted, the reader is left behind on cancellation
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(c.out, "type help for the list of commands")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if !c.execute(line) {
				return nil
			}
		}
	}
}

// execute runs one line and reports whether the console should keep going.
func (c *Console) execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return true
	}

	command, ok := consoleCommands[verb]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q, type help\n", verb)
		return true
	}

	fn, ok := c.handlers[command.action]
	if !ok {
		fmt.Fprintf(c.out, "command %q is not available\n", verb)
		return true
	}

	var payload interface{}
	if command.payload != nil {
		payload = command.payload(args)
	}

	data, _ := json.Marshal(payload)

	responseChannel := make(chan common.Response, 1)
	fn(c.stationID, data, responseChannel)

	c.print(<-responseChannel)

	return true
}

func (c *Console) print(response common.Response) {
	if response.Err != nil {
		fmt.Fprintf(c.out, "error %s: %s\n", response.Err.Code, response.Err.Message)
		return
	}

	bt, err := json.MarshalIndent(response.Payload, "", "  ")
	if err != nil {
		fmt.Fprintf(c.out, "%v\n", response.Payload)
		return
	}

	fmt.Fprintln(c.out, string(bt))
}
