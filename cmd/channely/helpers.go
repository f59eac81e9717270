package main

import (
	"fmt"
	"os"

	channely "github.com/channely-io/channely-go"
)

// getClient creates a Channely client from the stored configuration.
func getClient(extra ...channely.Option) *channely.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.APIKey == "" || cfg.Default.Subdomain == "" {
		fmt.Fprintln(os.Stderr, "No credentials. Run 'channely init <api-key> <subdomain>' first.")
		os.Exit(1)
	}

	var opts []channely.Option
	if cfg.Default.WSURL != "" {
		opts = append(opts, channely.WithWSURL(cfg.Default.WSURL))
	}
	if cfg.Default.APIURL != "" {
		opts = append(opts, channely.WithAPIURL(cfg.Default.APIURL))
	}
	opts = append(opts, extra...)

	client, err := channely.NewClient(cfg.Default.APIKey, cfg.Default.Subdomain, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	return client
}
