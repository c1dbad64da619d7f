// Package timeouts defines the timeouts shared by qualityhub servers.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests to drain.
const Shutdown = 5 * time.Second

// HealthProbe caps a single gRPC health check.
const HealthProbe = time.Second
