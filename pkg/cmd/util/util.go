package util

import (
	"context"
	"fmt"
	"time"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/api"
	"github.com/mpapenbr/racestate-live/pkg/config"
	"github.com/mpapenbr/racestate-live/pkg/utils"
)

// WaitTimeout parses config.WaitForServices
func WaitTimeout() time.Duration {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	return timeout
}

// NewBackendClient waits for the backend to accept connections and returns a
// client that passed the version check
func NewBackendClient(ctx context.Context, logger *log.Logger) (*api.Client, error) {
	addr, _ := utils.ExtractFromHTTPURL(config.BackendURL)
	if addr == "" {
		return nil, fmt.Errorf("invalid backend url %q", config.BackendURL)
	}
	if err := utils.WaitForTCP(addr, WaitTimeout()); err != nil {
		return nil, err
	}
	client, err := api.NewClient(config.BackendURL, api.WithLogger(logger.Named("api")))
	if err != nil {
		return nil, err
	}
	if err := client.CheckVersion(ctx, config.MinBackendVersion); err != nil {
		return nil, err
	}
	return client, nil
}
