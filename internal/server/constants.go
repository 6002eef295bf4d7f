// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding-window rate limit for inbound commands.
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// Default number of history rows returned by the API.
	HistoryLimit = 50
)
