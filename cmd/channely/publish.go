package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <event> [json]",
	Short: "Publish an event through the REST API",
	Long:  "Publish a named event to a channel through the REST API, without opening a websocket. The optional argument is a JSON payload.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, event := args[0], args[1]
		var payload json.RawMessage
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = json.RawMessage(args[2])
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := client.API().Publish(ctx, channel, event, payload); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		fmt.Printf("Published %s to %s\n", event, channel)
		return nil
	},
}
