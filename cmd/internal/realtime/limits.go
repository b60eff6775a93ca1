package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Inbound traffic is
	// pings only, so this is generous.
	maxFrameBytes = 16 << 10 // 16 KiB
)

const (
	// Protocol-level heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Application liveness: clients ping every ~30s; the read idle window
	// sits above that so a healthy client never trips it.
	clientLivenessWindow = 90 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
