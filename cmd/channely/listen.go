package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	channely "github.com/channely-io/channely-go"
	"github.com/spf13/cobra"
)

func init() {
	listenCmd.Flags().BoolVar(&listenDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(listenCmd)
}

var listenDebug bool

var listenCmd = &cobra.Command{
	Use:   "listen <channel>",
	Short: "Subscribe to a channel and print its events",
	Long:  "Connect to a channel and print every event as it arrives. Press Ctrl-C to disconnect.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		var opts []channely.Option
		if listenDebug {
			opts = append(opts, channely.WithDebug(true))
		}
		client := getClient(opts...)

		ch := client.Subscribe(name)
		ch.OnConnected(func(p channely.EstablishedPayload) {
			fmt.Printf("connected to %s (socket %s)\n", name, p.SocketID)
		})
		ch.OnDisconnected(func(p channely.DisconnectPayload) {
			fmt.Printf("disconnected (code %d) %s\n", p.Code, p.Reason)
		})
		ch.OnReconnecting(func(p channely.ReconnectingPayload) {
			fmt.Printf("reconnecting (attempt %d, in %s)\n", p.Attempt, p.Delay)
		})
		ch.OnError(func(p *channely.ErrorPayload) {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", p.Code, p.Message)
		})
		ch.On(channely.EventWildcard, func(event string, data any) {
			switch event {
			case channely.EventConnected, channely.EventDisconnected,
				channely.EventStateChange, channely.EventReconnecting,
				channely.EventReconnectFailed, channely.EventError:
				return
			}
			line := fmt.Sprintf("%v", data)
			if raw, ok := data.(json.RawMessage); ok {
				line = string(raw)
			}
			fmt.Printf("[%s] %s %s\n", time.Now().Format(time.TimeOnly), event, line)
		})
		ch.OnReconnectFailed(func(p channely.ReconnectFailedPayload) {
			fmt.Fprintf(os.Stderr, "gave up after %d reconnect attempts\n", p.Attempts)
			os.Exit(1)
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		client.DisconnectAll()
		fmt.Println("bye")
		return nil
	},
}
