package main

import (
	"encoding/json"
	"fmt"
	"time"

	channely "github.com/channely-io/channely-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(triggerCmd)
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <channel> [json]",
	Short: "Send a client event over the websocket",
	Long:  "Connect to a channel and send one client event. The optional argument is a JSON payload; it defaults to an empty object.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		payload := json.RawMessage(`{}`)
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = json.RawMessage(args[1])
		}

		client := getClient()
		defer client.DisconnectAll()

		ch := client.Subscribe(name)

		connected := make(chan struct{})
		ch.OnConnected(func(channely.EstablishedPayload) {
			close(connected)
		})
		errs := make(chan *channely.ErrorPayload, 1)
		ch.OnError(func(p *channely.ErrorPayload) {
			select {
			case errs <- p:
			default:
			}
		})

		select {
		case <-connected:
		case p := <-errs:
			return fmt.Errorf("%s: %s", p.Code, p.Message)
		case <-time.After(15 * time.Second):
			return fmt.Errorf("timed out waiting for connection")
		}

		if err := ch.Trigger(payload); err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}
		fmt.Printf("Event sent to %s\n", name)
		return nil
	},
}
