// Package rest provides an HTTP brokerage client.
package rest

import (
	"time"
)

// Config holds REST brokerage configuration.
type Config struct {
	// Connection settings
	BaseURL   string
	APIKey    string
	AccountID string

	// Timeouts
	RequestTimeout time.Duration

	// Rate limiting
	RateLimitPerSecond int

	// Live routes orders to the real account; otherwise the broker's paper account.
	Live bool
}

// DefaultConfig returns default REST client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "http://127.0.0.1:8080/v1",
		RequestTimeout:     10 * time.Second,
		RateLimitPerSecond: 5,
	}
}
