package main

import (
	"context"
	"fmt"
	"time"

	channely "github.com/channely-io/channely-go"
	"github.com/spf13/cobra"
)

func init() {
	statusCmd.Flags().StringVar(&statusChannel, "channel", "", "also fetch live occupancy for a channel")
	rootCmd.AddCommand(statusCmd)
}

var statusChannel string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration",
	Long:  "Display the current configuration and optionally fetch live channel occupancy from the API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Subdomain: %s\n", valueOrDefault(cfg.Default.Subdomain, "(not set)"))
		fmt.Printf("  WS URL:    %s\n", valueOrDefault(cfg.Default.WSURL, channely.DefaultWSURL))
		fmt.Printf("  API URL:   %s\n", valueOrDefault(cfg.Default.APIURL, channely.DefaultAPIURL))
		if cfg.Default.APIKey != "" {
			fmt.Printf("  API Key:   %s\n", maskKey(cfg.Default.APIKey))
		} else {
			fmt.Println("  API Key:   (not set)")
		}

		if statusChannel == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		state, err := client.API().ChannelInfo(ctx, statusChannel)
		if err != nil {
			fmt.Printf("  Error fetching channel info: %v\n", err)
			return nil
		}

		fmt.Printf("  Channel:     %s\n", state.Channel)
		fmt.Printf("  Occupied:    %t\n", state.Occupied)
		fmt.Printf("  Subscribers: %d\n", state.Subscribers)
		return nil
	},
}

// maskKey shows the first 7 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 11 {
		return "..."
	}
	return key[:7] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
